package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ensureSession creates session id in project when missing.
// An existing session that belongs to another project is a conflict.
func ensureSession(ctx context.Context, q queryer, id, project string, startedAt time.Time) error {
	if id == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	if project == "" {
		return fmt.Errorf("%w: project is required", ErrInvalidInput)
	}

	var owner string
	err := q.QueryRowContext(ctx, `SELECT project FROM sessions WHERE id = ?`, id).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = q.ExecContext(ctx, `
			INSERT INTO sessions (id, project, started_at, status) VALUES (?, ?, ?, ?)
		`, id, project, formatTime(startedAt), string(SessionActive))
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to look up session: %w", err)
	case owner != project:
		return fmt.Errorf("%w: session %s belongs to another project", ErrConflict, id)
	default:
		return nil
	}
}

// BeginTx starts a transaction on the shared connection. Used by bulk imports.
func (s *SQLiteRecordStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// EnsureSession creates session id in project when it doesn't exist yet.
// Returns ErrConflict when the session exists in another project.
func (s *SQLiteRecordStore) EnsureSession(ctx context.Context, id, project string) error {
	return ensureSession(ctx, s.db, id, project, s.now())
}

// StartSession creates a new active session. A blank id is replaced by a fresh UUID.
func (s *SQLiteRecordStore) StartSession(ctx context.Context, id, project string) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}
	existing, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Project != project {
			return nil, fmt.Errorf("%w: session %s belongs to another project", ErrConflict, id)
		}
		return existing, nil
	}
	if err := ensureSession(ctx, s.db, id, project, s.now()); err != nil {
		return nil, err
	}
	return s.GetSession(ctx, id)
}

// EndSession marks a session completed. Returns ErrNotFound for unknown or cross-project ids.
func (s *SQLiteRecordStore) EndSession(ctx context.Context, id, project string) (*Session, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, status = ?
		WHERE id = ? AND project = ? AND status = ?
	`, formatTime(s.now()), string(SessionCompleted), id, project, string(SessionActive))
	if err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Project != project {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: session %s already ended", ErrConflict, id)
	}
	return sess, nil
}

// GetSession returns a session by id, or (nil, nil).
func (s *SQLiteRecordStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var startedAt, status string
	var endedAt sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, project, started_at, ended_at, status FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.Project, &startedAt, &endedAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess.StartedAt = parseTime(startedAt)
	sess.EndedAt = timePtr(endedAt)
	sess.Status = SessionStatus(status)
	return &sess, nil
}

// CreateSummary stores a session summary. The session must belong to project.
func (s *SQLiteRecordStore) CreateSummary(ctx context.Context, project string, summary *Summary) error {
	if summary.SessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	if summary.ID == "" {
		summary.ID = uuid.New().String()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = s.now()
	}
	summary.CreatedAt = summary.CreatedAt.UTC()

	if err := ensureSession(ctx, s.db, summary.SessionID, project, summary.CreatedAt); err != nil {
		return err
	}
	summary.Project = project

	if err := insertSummary(ctx, s.db, summary); err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

func insertSummary(ctx context.Context, q queryer, summary *Summary) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO session_summaries (id, session_id, request, investigated, learned, completed, next_steps, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, summary.ID, summary.SessionID, summary.Request, summary.Investigated, summary.Learned,
		summary.Completed, summary.NextSteps, summary.Notes, formatTime(summary.CreatedAt))
	return err
}

// ListSummaries returns the summaries of a project, newest first. A non-empty sessionID narrows the list.
func (s *SQLiteRecordStore) ListSummaries(ctx context.Context, project, sessionID string, limit int) ([]*Summary, error) {
	return s.querySummaries(ctx, project, sessionID, ListOptions{Limit: limit}.limit())
}

// AllSummaries returns every summary of a project, newest first. Used by export.
func (s *SQLiteRecordStore) AllSummaries(ctx context.Context, project string) ([]*Summary, error) {
	return s.querySummaries(ctx, project, "", -1)
}

// querySummaries lists summaries; a negative limit means no limit.
func (s *SQLiteRecordStore) querySummaries(ctx context.Context, project, sessionID string, limit int) ([]*Summary, error) {
	query := `
		SELECT m.id, m.session_id, s.project, m.request, m.investigated, m.learned,
		       m.completed, m.next_steps, m.notes, m.created_at
		FROM session_summaries m JOIN sessions s ON s.id = m.session_id
		WHERE s.project = ?`
	args := []any{project}
	if sessionID != "" {
		query += ` AND m.session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY m.created_at DESC, m.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	summaries := []*Summary{}
	for rows.Next() {
		var m Summary
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Project, &m.Request, &m.Investigated, &m.Learned,
			&m.Completed, &m.NextSteps, &m.Notes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
		summaries = append(summaries, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summaries: %w", err)
	}
	return summaries, nil
}

// UpsertSummary writes an imported summary according to mode.
func (s *SQLiteRecordStore) UpsertSummary(ctx context.Context, tx *sql.Tx, project string, summary *Summary, mode ImportMode) (UpsertOutcome, error) {
	if summary.ID == "" || summary.SessionID == "" {
		return UpsertSkipped, fmt.Errorf("%w: imported summary needs id and sessionId", ErrInvalidInput)
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = s.now()
	}
	if err := ensureSession(ctx, tx, summary.SessionID, project, summary.CreatedAt); err != nil {
		return UpsertSkipped, err
	}

	var exists int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_summaries WHERE id = ?`, summary.ID).Scan(&exists)
	if err != nil {
		return UpsertSkipped, fmt.Errorf("failed to look up summary: %w", err)
	}
	if exists == 0 {
		if err := insertSummary(ctx, tx, summary); err != nil {
			return UpsertSkipped, fmt.Errorf("failed to import summary: %w", err)
		}
		return UpsertInserted, nil
	}
	if mode == ImportSkipDuplicates {
		return UpsertSkipped, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE session_summaries SET
			session_id = ?, request = ?, investigated = ?, learned = ?,
			completed = ?, next_steps = ?, notes = ?, created_at = ?
		WHERE id = ?
	`, summary.SessionID, summary.Request, summary.Investigated, summary.Learned,
		summary.Completed, summary.NextSteps, summary.Notes, formatTime(summary.CreatedAt), summary.ID)
	if err != nil {
		return UpsertSkipped, fmt.Errorf("failed to overwrite summary: %w", err)
	}
	return UpsertUpdated, nil
}
