package metrics

import "context"

// NoopCollector discards every measurement. Used when metrics are disabled.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

func (n *NoopCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
}

func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {}

func (n *NoopCollector) SetStorageCount(ctx context.Context, storageType string, count int64) {}

func (n *NoopCollector) RecordSearch(ctx context.Context, strategy string, results int) {}

func (n *NoopCollector) RecordFallback(ctx context.Context, stage string, reason string) {}
