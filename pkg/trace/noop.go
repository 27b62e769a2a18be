package trace

import "context"

// NoopExporter discards records. Used when no trace path is configured.
type NoopExporter struct{}

func (NoopExporter) Export(ctx context.Context, record *Record) error { return nil }

func (NoopExporter) Close() error { return nil }
