//go:build cgo_sqlite

package store

// Build with: go build -tags "cgo_sqlite sqlite_fts5"
// mattn/go-sqlite3 only compiles FTS5 in when the sqlite_fts5 tag is present.
import _ "github.com/mattn/go-sqlite3"

// DriverName is the database/sql driver used by Open.
const DriverName = "sqlite3"
