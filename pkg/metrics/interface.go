// Package metrics records operation counters and latencies for the engine.
package metrics

import "context"

// Collector receives measurements from the engine and the search orchestrator.
// PrometheusCollector exports them; NoopCollector discards them.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	SetStorageCount(ctx context.Context, storageType string, count int64)
	// RecordSearch counts a finished search by strategy (lexical or hybrid) and result count.
	RecordSearch(ctx context.Context, strategy string, results int)
	// RecordFallback counts a stage skipped at runtime, e.g. similarity on timeout.
	RecordFallback(ctx context.Context, stage string, reason string)
}

// Status labels used with RecordOperation.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
