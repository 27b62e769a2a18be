package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteRecordStore implements RecordStore using SQLite.
// It shares the database connection opened by Open and does not close it.
type SQLiteRecordStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRecordStore creates a record store over an open database.
func NewSQLiteRecordStore(db *sql.DB) *SQLiteRecordStore {
	return &SQLiteRecordStore{db: db, now: time.Now}
}

// DB returns the underlying database connection.
func (s *SQLiteRecordStore) DB() *sql.DB {
	return s.db
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const observationColumns = `
	o.id, o.session_id, s.project, o.type, o.title, o.subtitle, o.narrative,
	o.facts, o.concepts, o.files_read, o.files_modified, o.raw_tool_output, o.tool_name,
	o.token_count, o.discovery_tokens, o.importance, o.created_at,
	o.revision_of, o.superseded_by, o.superseded_at, o.deleted_at`

const observationFrom = `FROM observations o JOIN sessions s ON s.id = o.session_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (*Observation, error) {
	var obs Observation
	var obsType, createdAt string
	var facts, concepts, filesRead, filesModified string
	var revisionOf, supersededBy, supersededAt, deletedAt sql.NullString

	err := row.Scan(
		&obs.ID, &obs.SessionID, &obs.Project, &obsType, &obs.Title, &obs.Subtitle, &obs.Narrative,
		&facts, &concepts, &filesRead, &filesModified, &obs.RawToolOutput, &obs.ToolName,
		&obs.TokenCount, &obs.DiscoveryTokens, &obs.Importance, &createdAt,
		&revisionOf, &supersededBy, &supersededAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	obs.Type = ObservationType(obsType)
	obs.CreatedAt = parseTime(createdAt)
	obs.Facts = decodeStrings(facts)
	obs.Concepts = decodeStrings(concepts)
	obs.FilesRead = decodeStrings(filesRead)
	obs.FilesModified = decodeStrings(filesModified)
	obs.RevisionOf = stringPtr(revisionOf)
	obs.SupersededBy = stringPtr(supersededBy)
	obs.SupersededAt = timePtr(supersededAt)
	obs.DeletedAt = timePtr(deletedAt)

	return &obs, nil
}

func encodeStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func decodeStrings(data string) []string {
	out := []string{}
	if data == "" {
		return out
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return []string{}
	}
	return out
}

func insertObservation(ctx context.Context, q queryer, obs *Observation) error {
	query := `
		INSERT INTO observations (
			id, session_id, type, title, subtitle, narrative,
			facts, concepts, files_read, files_modified, raw_tool_output, tool_name,
			token_count, discovery_tokens, importance, created_at,
			revision_of, superseded_by, superseded_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		obs.ID, obs.SessionID, string(obs.Type), obs.Title, obs.Subtitle, obs.Narrative,
		encodeStrings(obs.Facts), encodeStrings(obs.Concepts),
		encodeStrings(obs.FilesRead), encodeStrings(obs.FilesModified),
		obs.RawToolOutput, obs.ToolName,
		obs.TokenCount, obs.DiscoveryTokens, obs.Importance, formatTime(obs.CreatedAt),
		nullableString(obs.RevisionOf), nullableString(obs.SupersededBy),
		nullableTime(obs.SupersededAt), nullableTime(obs.DeletedAt),
	)
	return err
}

func getObservation(ctx context.Context, q queryer, id string, currentOnly bool) (*Observation, error) {
	query := `SELECT ` + observationColumns + ` ` + observationFrom + ` WHERE o.id = ?`
	if currentOnly {
		query += ` AND o.superseded_by IS NULL AND o.deleted_at IS NULL`
	}

	obs, err := scanObservation(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}
	return obs, nil
}

// Create inserts a new observation.
func (s *SQLiteRecordStore) Create(ctx context.Context, obs *Observation) error {
	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = s.now()
	}
	obs.CreatedAt = obs.CreatedAt.UTC()
	if obs.Importance == 0 {
		obs.Importance = DefaultImportance
	}
	obs.Facts = cloneStrings(obs.Facts)
	obs.Concepts = cloneStrings(obs.Concepts)
	obs.FilesRead = cloneStrings(obs.FilesRead)
	obs.FilesModified = cloneStrings(obs.FilesModified)

	if err := obs.Validate(); err != nil {
		return err
	}

	var project string
	err := s.db.QueryRowContext(ctx, `SELECT project FROM sessions WHERE id = ?`, obs.SessionID).Scan(&project)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: session %s", ErrNotFound, obs.SessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve session: %w", err)
	}
	obs.Project = project

	if err := insertObservation(ctx, s.db, obs); err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}
	return nil
}

// Revise inserts the revision of id and supersedes id in a single transaction.
func (s *SQLiteRecordStore) Revise(ctx context.Context, project, id string, patch ObservationPatch) (*Observation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	old, err := getObservation(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	if old == nil || old.Project != project {
		return nil, fmt.Errorf("%w: observation %s", ErrNotFound, id)
	}
	if !old.IsCurrent() {
		return nil, fmt.Errorf("%w: observation %s is no longer current", ErrConflict, id)
	}

	now := s.now().UTC()
	next := patch.applyTo(old)
	next.ID = uuid.New().String()
	next.CreatedAt = now
	next.RevisionOf = &old.ID
	next.SupersededBy = nil
	next.SupersededAt = nil
	next.DeletedAt = nil
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if err := insertObservation(ctx, tx, next); err != nil {
		return nil, fmt.Errorf("failed to insert revision: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE observations
		SET superseded_by = ?, superseded_at = ?
		WHERE id = ? AND superseded_by IS NULL AND deleted_at IS NULL
	`, next.ID, formatTime(now), old.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede observation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to supersede observation: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: observation %s was revised concurrently", ErrConflict, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit revision: %w", err)
	}

	return next, nil
}

// Tombstone marks id deleted. Deletion is terminal and never cleared.
func (s *SQLiteRecordStore) Tombstone(ctx context.Context, project, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE observations
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
		  AND session_id IN (SELECT id FROM sessions WHERE project = ?)
	`, formatTime(s.now()), id, project)
	if err != nil {
		return false, fmt.Errorf("failed to tombstone observation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to tombstone observation: %w", err)
	}
	return affected > 0, nil
}

// GetByID returns the current view of id.
func (s *SQLiteRecordStore) GetByID(ctx context.Context, id string) (*Observation, error) {
	return getObservation(ctx, s.db, id, true)
}

// GetByIDIncludingArchived returns id whatever its lineage state.
func (s *SQLiteRecordStore) GetByIDIncludingArchived(ctx context.Context, id string) (*Observation, error) {
	return getObservation(ctx, s.db, id, false)
}

// ProjectOf returns the project owning id.
func (s *SQLiteRecordStore) ProjectOf(ctx context.Context, id string) (string, error) {
	var project string
	err := s.db.QueryRowContext(ctx, `
		SELECT s.project `+observationFrom+` WHERE o.id = ?
	`, id).Scan(&project)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve project: %w", err)
	}
	return project, nil
}

// ListByProject returns observations matching opts, newest first.
func (s *SQLiteRecordStore) ListByProject(ctx context.Context, opts ListOptions) ([]*Observation, error) {
	where, args := opts.conditions()
	query := `SELECT ` + observationColumns + ` ` + observationFrom
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY o.created_at DESC, o.rowid DESC LIMIT ? OFFSET ?`
	args = append(args, opts.limit(), max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	defer rows.Close()

	observations := []*Observation{}
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observations: %w", err)
	}
	return observations, nil
}

func (o ListOptions) conditions() ([]string, []any) {
	var where []string
	var args []any
	if o.Project != "" {
		where = append(where, "s.project = ?")
		args = append(args, o.Project)
	}
	if o.Type != "" {
		where = append(where, "o.type = ?")
		args = append(args, string(o.Type))
	}
	if o.SessionID != "" {
		where = append(where, "o.session_id = ?")
		args = append(args, o.SessionID)
	}
	if !o.IncludeArchived {
		where = append(where, "o.superseded_by IS NULL", "o.deleted_at IS NULL")
	}
	if o.Since != nil {
		where = append(where, "o.created_at >= ?")
		args = append(args, formatTime(*o.Since))
	}
	if o.Until != nil {
		where = append(where, "o.created_at <= ?")
		args = append(args, formatTime(*o.Until))
	}
	return where, args
}

// GetIndex returns the lightweight index of current observations in project.
func (s *SQLiteRecordStore) GetIndex(ctx context.Context, project string, limit int) ([]IndexEntry, error) {
	limit = ListOptions{Limit: limit}.limit()

	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.type, o.title, o.token_count, o.importance, o.created_at
		`+observationFrom+`
		WHERE s.project = ? AND o.superseded_by IS NULL AND o.deleted_at IS NULL
		ORDER BY o.created_at DESC, o.rowid DESC
		LIMIT ?
	`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	entries := []IndexEntry{}
	for rows.Next() {
		var e IndexEntry
		var obsType, createdAt string
		if err := rows.Scan(&e.ID, &obsType, &e.Title, &e.TokenCount, &e.Importance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan index entry: %w", err)
		}
		e.Type = ObservationType(obsType)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index: %w", err)
	}
	return entries, nil
}

// CountObservations returns the number of current observations, optionally scoped to a project.
func (s *SQLiteRecordStore) CountObservations(ctx context.Context, project string) (int64, error) {
	query := `SELECT COUNT(*) ` + observationFrom + ` WHERE o.superseded_by IS NULL AND o.deleted_at IS NULL`
	var args []any
	if project != "" {
		query += ` AND s.project = ?`
		args = append(args, project)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return count, nil
}

// UpsertObservation writes an imported observation verbatim, lineage fields included.
// The owning session is created in project when missing.
func (s *SQLiteRecordStore) UpsertObservation(ctx context.Context, tx *sql.Tx, project string, obs *Observation, mode ImportMode) (UpsertOutcome, error) {
	if obs.Importance == 0 {
		obs.Importance = DefaultImportance
	}
	if obs.ID == "" {
		return UpsertSkipped, fmt.Errorf("%w: imported observation has no id", ErrInvalidInput)
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = s.now()
	}
	if err := obs.Validate(); err != nil {
		return UpsertSkipped, err
	}
	if err := ensureSession(ctx, tx, obs.SessionID, project, obs.CreatedAt); err != nil {
		return UpsertSkipped, err
	}

	existingProject, err := projectOf(ctx, tx, obs.ID)
	if err != nil {
		return UpsertSkipped, err
	}
	if existingProject == "" {
		if err := insertObservation(ctx, tx, obs); err != nil {
			return UpsertSkipped, fmt.Errorf("failed to import observation: %w", err)
		}
		return UpsertInserted, nil
	}
	if mode == ImportSkipDuplicates || existingProject != project {
		return UpsertSkipped, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE observations SET
			session_id = ?, type = ?, title = ?, subtitle = ?, narrative = ?,
			facts = ?, concepts = ?, files_read = ?, files_modified = ?,
			raw_tool_output = ?, tool_name = ?, token_count = ?, discovery_tokens = ?,
			importance = ?, created_at = ?, revision_of = ?, superseded_by = ?,
			superseded_at = ?, deleted_at = ?
		WHERE id = ?
	`,
		obs.SessionID, string(obs.Type), obs.Title, obs.Subtitle, obs.Narrative,
		encodeStrings(obs.Facts), encodeStrings(obs.Concepts),
		encodeStrings(obs.FilesRead), encodeStrings(obs.FilesModified),
		obs.RawToolOutput, obs.ToolName, obs.TokenCount, obs.DiscoveryTokens,
		obs.Importance, formatTime(obs.CreatedAt), nullableString(obs.RevisionOf), nullableString(obs.SupersededBy),
		nullableTime(obs.SupersededAt), nullableTime(obs.DeletedAt),
		obs.ID,
	)
	if err != nil {
		return UpsertSkipped, fmt.Errorf("failed to overwrite observation: %w", err)
	}
	return UpsertUpdated, nil
}

func projectOf(ctx context.Context, q queryer, id string) (string, error) {
	var project string
	err := q.QueryRowContext(ctx, `SELECT s.project `+observationFrom+` WHERE o.id = ?`, id).Scan(&project)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve project: %w", err)
	}
	return project, nil
}
