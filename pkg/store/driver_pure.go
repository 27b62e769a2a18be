//go:build !cgo_sqlite

package store

import _ "modernc.org/sqlite" // SQLite driver (pure Go, FTS5 built in)

// DriverName is the database/sql driver used by Open.
const DriverName = "sqlite"
