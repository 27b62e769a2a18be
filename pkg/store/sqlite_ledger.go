package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteConfigLedger persists ConfigAuditEvents in config_audit_events.
type SQLiteConfigLedger struct {
	db *sql.DB
}

// NewSQLiteConfigLedger creates a config ledger over an open database.
func NewSQLiteConfigLedger(db *sql.DB) *SQLiteConfigLedger {
	return &SQLiteConfigLedger{db: db}
}

// Append stores the event.
func (l *SQLiteConfigLedger) Append(ctx context.Context, event *ConfigAuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	patch, err := json.Marshal(event.Patch)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}
	prev, err := json.Marshal(event.PreviousValues)
	if err != nil {
		return fmt.Errorf("failed to marshal previous values: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO config_audit_events (id, timestamp, patch, previous_values, source)
		VALUES (?, ?, ?, ?, ?)
	`, event.ID, formatTime(event.Timestamp), string(patch), string(prev), string(event.Source))
	if err != nil {
		return fmt.Errorf("failed to append config audit event: %w", err)
	}
	return nil
}

func scanConfigEvent(row rowScanner) (*ConfigAuditEvent, error) {
	var e ConfigAuditEvent
	var ts, patch, prev, source string
	if err := row.Scan(&e.ID, &ts, &patch, &prev, &source); err != nil {
		return nil, err
	}
	e.Timestamp = parseTime(ts)
	e.Source = ConfigAuditSource(source)
	if err := json.Unmarshal([]byte(patch), &e.Patch); err != nil {
		return nil, fmt.Errorf("failed to decode patch of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(prev), &e.PreviousValues); err != nil {
		return nil, fmt.Errorf("failed to decode previous values of %s: %w", e.ID, err)
	}
	return &e, nil
}

// List returns events newest first.
func (l *SQLiteConfigLedger) List(ctx context.Context, limit int) ([]*ConfigAuditEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, patch, previous_values, source
		FROM config_audit_events
		ORDER BY timestamp DESC, seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list config audit events: %w", err)
	}
	defer rows.Close()

	events := []*ConfigAuditEvent{}
	for rows.Next() {
		e, err := scanConfigEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetByID returns an event by id.
func (l *SQLiteConfigLedger) GetByID(ctx context.Context, id string) (*ConfigAuditEvent, error) {
	e, err := scanConfigEvent(l.db.QueryRowContext(ctx, `
		SELECT id, timestamp, patch, previous_values, source
		FROM config_audit_events WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config audit event: %w", err)
	}
	return e, nil
}

// SQLiteMaintenanceLedger persists MaintenanceHistoryItems in maintenance_history.
type SQLiteMaintenanceLedger struct {
	db *sql.DB
}

// NewSQLiteMaintenanceLedger creates a maintenance ledger over an open database.
func NewSQLiteMaintenanceLedger(db *sql.DB) *SQLiteMaintenanceLedger {
	return &SQLiteMaintenanceLedger{db: db}
}

// Append stores the item.
func (l *SQLiteMaintenanceLedger) Append(ctx context.Context, item *MaintenanceHistoryItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	item.Timestamp = item.Timestamp.UTC()
	if len(item.Result) == 0 {
		item.Result = json.RawMessage("{}")
	}

	dryRun := 0
	if item.DryRun {
		dryRun = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO maintenance_history (id, timestamp, action, dry_run, result)
		VALUES (?, ?, ?, ?, ?)
	`, item.ID, formatTime(item.Timestamp), item.Action, dryRun, string(item.Result))
	if err != nil {
		return fmt.Errorf("failed to append maintenance item: %w", err)
	}
	return nil
}

// List returns items newest first.
func (l *SQLiteMaintenanceLedger) List(ctx context.Context, limit int) ([]*MaintenanceHistoryItem, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, action, dry_run, result
		FROM maintenance_history
		ORDER BY timestamp DESC, seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list maintenance history: %w", err)
	}
	defer rows.Close()

	items := []*MaintenanceHistoryItem{}
	for rows.Next() {
		var item MaintenanceHistoryItem
		var ts, result string
		var dryRun int
		if err := rows.Scan(&item.ID, &ts, &item.Action, &dryRun, &result); err != nil {
			return nil, fmt.Errorf("failed to scan maintenance item: %w", err)
		}
		item.Timestamp = parseTime(ts)
		item.DryRun = dryRun != 0
		item.Result = json.RawMessage(result)
		items = append(items, &item)
	}
	return items, rows.Err()
}
