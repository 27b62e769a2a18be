// Package store provides the SQLite-backed persistence layer for mnemo:
// observations and their revision chains, sessions and summaries, the entity graph,
// the audit ledgers and the embedding vectors used by similarity search.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// timeLayout is fixed width so that lexical ordering of stored timestamps matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Open opens (or creates) the database at path, applies pragmas and brings the schema up to date.
// The path can be a file path or ":memory:" for an in-memory database.
//
// The returned handle is limited to a single connection: every write is serialized through it,
// and an in-memory database is only shared within one connection.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// initSchema creates the database schema if it doesn't exist.
// Also performs schema migrations for new columns.
func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		status TEXT NOT NULL DEFAULT 'active'
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project);

	CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		subtitle TEXT NOT NULL DEFAULT '',
		narrative TEXT NOT NULL DEFAULT '',
		facts TEXT NOT NULL DEFAULT '[]',
		concepts TEXT NOT NULL DEFAULT '[]',
		files_read TEXT NOT NULL DEFAULT '[]',
		files_modified TEXT NOT NULL DEFAULT '[]',
		raw_tool_output TEXT NOT NULL DEFAULT '',
		tool_name TEXT NOT NULL DEFAULT '',
		token_count INTEGER NOT NULL DEFAULT 0,
		discovery_tokens INTEGER NOT NULL DEFAULT 0,
		importance INTEGER NOT NULL DEFAULT 3,
		created_at TEXT NOT NULL,
		revision_of TEXT,
		superseded_by TEXT,
		superseded_at TEXT,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id);
	CREATE INDEX IF NOT EXISTS idx_observations_created ON observations(created_at);
	CREATE INDEX IF NOT EXISTS idx_observations_revision_of ON observations(revision_of);

	CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
		title, subtitle, narrative, facts, concepts,
		content='observations', content_rowid='rowid'
	);

	CREATE TRIGGER IF NOT EXISTS observations_ai AFTER INSERT ON observations BEGIN
		INSERT INTO observations_fts(rowid, title, subtitle, narrative, facts, concepts)
		VALUES (new.rowid, new.title, new.subtitle, new.narrative, new.facts, new.concepts);
	END;

	CREATE TRIGGER IF NOT EXISTS observations_ad AFTER DELETE ON observations BEGIN
		INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative, facts, concepts)
		VALUES ('delete', old.rowid, old.title, old.subtitle, old.narrative, old.facts, old.concepts);
	END;

	CREATE TRIGGER IF NOT EXISTS observations_au AFTER UPDATE OF title, subtitle, narrative, facts, concepts ON observations BEGIN
		INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative, facts, concepts)
		VALUES ('delete', old.rowid, old.title, old.subtitle, old.narrative, old.facts, old.concepts);
		INSERT INTO observations_fts(rowid, title, subtitle, narrative, facts, concepts)
		VALUES (new.rowid, new.title, new.subtitle, new.narrative, new.facts, new.concepts);
	END;

	CREATE TABLE IF NOT EXISTS session_summaries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		request TEXT NOT NULL DEFAULT '',
		investigated TEXT NOT NULL DEFAULT '',
		learned TEXT NOT NULL DEFAULT '',
		completed TEXT NOT NULL DEFAULT '',
		next_steps TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_summaries_session ON session_summaries(session_id);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		first_seen_at TEXT NOT NULL,
		last_seen_at TEXT NOT NULL,
		mention_count INTEGER NOT NULL DEFAULT 1,
		UNIQUE(name, entity_type)
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
		name,
		content='entities', content_rowid='rowid'
	);

	CREATE TRIGGER IF NOT EXISTS entities_ai AFTER INSERT ON entities BEGIN
		INSERT INTO entities_fts(rowid, name) VALUES (new.rowid, new.name);
	END;

	CREATE TRIGGER IF NOT EXISTS entities_ad AFTER DELETE ON entities BEGIN
		INSERT INTO entities_fts(entities_fts, rowid, name) VALUES ('delete', old.rowid, old.name);
	END;

	CREATE TABLE IF NOT EXISTS entity_relations (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		target_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		relationship TEXT NOT NULL,
		observation_id TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(source_id, target_id, relationship)
	);

	CREATE INDEX IF NOT EXISTS idx_relations_source ON entity_relations(source_id);
	CREATE INDEX IF NOT EXISTS idx_relations_target ON entity_relations(target_id);

	CREATE TABLE IF NOT EXISTS observation_entities (
		observation_id TEXT NOT NULL,
		entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		PRIMARY KEY (observation_id, entity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_observation_entities_entity ON observation_entities(entity_id);

	CREATE TABLE IF NOT EXISTS observation_vectors (
		observation_id TEXT PRIMARY KEY,
		dims INTEGER NOT NULL,
		embedding BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS config_audit_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		patch TEXT NOT NULL,
		previous_values TEXT NOT NULL,
		source TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS maintenance_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		action TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		result TEXT NOT NULL DEFAULT '{}'
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}

	return migrateSchema(db)
}

// migrateSchema adds new columns to existing tables if they don't exist.
func migrateSchema(db *sql.DB) error {
	if !columnExists(db, "entity_relations", "observation_id") {
		if _, err := db.Exec("ALTER TABLE entity_relations ADD COLUMN observation_id TEXT"); err != nil {
			return fmt.Errorf("failed to add observation_id column: %w", err)
		}
	}

	if !columnExists(db, "observations", "discovery_tokens") {
		if _, err := db.Exec("ALTER TABLE observations ADD COLUMN discovery_tokens INTEGER NOT NULL DEFAULT 0"); err != nil {
			return fmt.Errorf("failed to add discovery_tokens column: %w", err)
		}
	}

	return nil
}

// columnExists checks if a column exists in a table.
func columnExists(db *sql.DB, tableName, columnName string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dfltValue sql.NullString

		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false
		}
		if name == columnName {
			return true
		}
	}

	return false
}

// Optimize merges FTS5 segments and lets SQLite refresh its query planner statistics.
func Optimize(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		"INSERT INTO observations_fts(observations_fts) VALUES ('optimize')",
		"INSERT INTO entities_fts(entities_fts) VALUES ('optimize')",
		"PRAGMA optimize",
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to optimize: %w", err)
		}
	}
	return nil
}

// RebuildLexicalIndex rebuilds both full-text indexes from their content tables.
func RebuildLexicalIndex(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		"INSERT INTO observations_fts(observations_fts) VALUES ('rebuild')",
		"INSERT INTO entities_fts(entities_fts) VALUES ('rebuild')",
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to rebuild full-text index: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may carry RFC 3339 timestamps.
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
