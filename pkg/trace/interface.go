// Package trace records per-operation timing with per-stage spans and exports the
// records as JSON Lines. Records carry ids and counters only, never observation content.
package trace

import (
	"context"
	"time"
)

// Exporter writes finished operation records. Implementations must be safe for concurrent use.
type Exporter interface {
	Export(ctx context.Context, record *Record) error
	Close() error
}

// Record is one finished operation.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	OperationID string    `json:"operationId"`
	// Operation is the engine operation name: save, revise, search, import, ...
	Operation  string       `json:"operation"`
	DurationMs int64        `json:"durationMs"`
	Status     string       `json:"status"`
	Spans      []SpanRecord `json:"spans"`
	// ErrorType is set when Status is "error"; see engine.ClassifyError.
	ErrorType string         `json:"errorType,omitempty"`
	IDs       map[string]any `json:"ids,omitempty"`
}

// SpanRecord is one stage of an operation.
// Stage names used by mnemo: search-lexical, search-similarity, search-rerank, embed, extract.
type SpanRecord struct {
	Name       string           `json:"name"`
	DurationMs int64            `json:"durationMs"`
	OK         bool             `json:"ok"`
	Error      string           `json:"error,omitempty"`
	Counters   map[string]int64 `json:"counters,omitempty"`
}
