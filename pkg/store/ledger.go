package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dan-solli/mnemo/pkg/config"
)

// ConfigAuditSource records what caused a configuration change.
type ConfigAuditSource string

const (
	SourceAPI            ConfigAuditSource = "api"
	SourceMode           ConfigAuditSource = "mode"
	SourceRollback       ConfigAuditSource = "rollback"
	SourceRollbackFailed ConfigAuditSource = "rollback-failed"
)

// ConfigAuditEvent is one append-only entry of the configuration ledger.
// PreviousValues holds the pre-change values of exactly the keys in Patch.
type ConfigAuditEvent struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Patch          config.Patch      `json:"patch"`
	PreviousValues config.Patch      `json:"previousValues"`
	Source         ConfigAuditSource `json:"source"`
}

// MaintenanceHistoryItem is one append-only entry of the maintenance ledger.
type MaintenanceHistoryItem struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Action    string          `json:"action"`
	DryRun    bool            `json:"dryRun"`
	Result    json.RawMessage `json:"result"`
}

// ConfigAuditLedger is the append-only trail of configuration changes.
type ConfigAuditLedger interface {
	// Append stores the event, assigning ID and Timestamp when unset.
	Append(ctx context.Context, event *ConfigAuditEvent) error

	// List returns up to limit events, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*ConfigAuditEvent, error)

	// GetByID returns an event, or (nil, nil).
	GetByID(ctx context.Context, id string) (*ConfigAuditEvent, error)
}

// MaintenanceLedger is the append-only trail of maintenance runs.
type MaintenanceLedger interface {
	// Append stores the item, assigning ID and Timestamp when unset.
	Append(ctx context.Context, item *MaintenanceHistoryItem) error

	// List returns up to limit items, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*MaintenanceHistoryItem, error)
}
