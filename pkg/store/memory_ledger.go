package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryConfigLedger is an in-process ConfigAuditLedger. Contents are lost on restart.
type MemoryConfigLedger struct {
	mu     sync.RWMutex
	events []*ConfigAuditEvent
}

// NewMemoryConfigLedger creates an empty in-memory config ledger.
func NewMemoryConfigLedger() *MemoryConfigLedger {
	return &MemoryConfigLedger{}
}

// Append stores a copy of the event.
func (l *MemoryConfigLedger) Append(ctx context.Context, event *ConfigAuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	stored := *event
	l.events = append(l.events, &stored)
	return nil
}

// List returns events newest first; ties keep reverse insertion order.
func (l *MemoryConfigLedger) List(ctx context.Context, limit int) ([]*ConfigAuditEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []*ConfigAuditEvent{}
	for _, idx := range newestFirst(len(l.events), func(i int) time.Time { return l.events[i].Timestamp }) {
		if limit > 0 && len(out) >= limit {
			break
		}
		e := *l.events[idx]
		out = append(out, &e)
	}
	return out, nil
}

// GetByID returns a copy of the event, or (nil, nil).
func (l *MemoryConfigLedger) GetByID(ctx context.Context, id string) (*ConfigAuditEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, e := range l.events {
		if e.ID == id {
			found := *e
			return &found, nil
		}
	}
	return nil, nil
}

// MemoryMaintenanceLedger is an in-process MaintenanceLedger. Contents are lost on restart.
type MemoryMaintenanceLedger struct {
	mu    sync.RWMutex
	items []*MaintenanceHistoryItem
}

// NewMemoryMaintenanceLedger creates an empty in-memory maintenance ledger.
func NewMemoryMaintenanceLedger() *MemoryMaintenanceLedger {
	return &MemoryMaintenanceLedger{}
}

// Append stores a copy of the item.
func (l *MemoryMaintenanceLedger) Append(ctx context.Context, item *MaintenanceHistoryItem) error {
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

	l.mu.Lock()
	defer l.mu.Unlock()
	stored := *item
	stored.Result = append(json.RawMessage(nil), item.Result...)
	l.items = append(l.items, &stored)
	return nil
}

// List returns items newest first.
func (l *MemoryMaintenanceLedger) List(ctx context.Context, limit int) ([]*MaintenanceHistoryItem, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []*MaintenanceHistoryItem{}
	for _, idx := range newestFirst(len(l.items), func(i int) time.Time { return l.items[i].Timestamp }) {
		if limit > 0 && len(out) >= limit {
			break
		}
		item := *l.items[idx]
		out = append(out, &item)
	}
	return out, nil
}

// newestFirst returns indexes 0..n-1 ordered by timestamp descending, later insertions first on ties.
func newestFirst(n int, ts func(int) time.Time) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = n - 1 - i
	}
	sort.SliceStable(idx, func(i, j int) bool { return ts(idx[i]).After(ts(idx[j])) })
	return idx
}
