package engine

import (
	"context"

	"github.com/dan-solli/mnemo/pkg/metrics"
	"github.com/dan-solli/mnemo/pkg/trace"
)

// begin starts the trace of one facade operation.
func (e *Engine) begin(name string) *trace.Operation {
	return trace.Start(name)
}

// finish closes op: it exports the trace record, records metrics, logs internal
// failures and converts err into an *Error. The returned error is nil when err is.
func (e *Engine) finish(ctx context.Context, op *trace.Operation, err error) error {
	errType := ClassifyError(err)
	rec := op.Finish(err, errType)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		e.metrics.RecordError(ctx, rec.Operation, errType)
	}
	e.metrics.RecordOperation(ctx, rec.Operation, status, rec.DurationMs)

	if exportErr := e.tracer.Export(ctx, rec); exportErr != nil {
		e.logger.Warn("failed to export trace", "operation", rec.Operation, "error", exportErr)
	}

	if err == nil {
		return nil
	}
	out := AsError(err)
	if out.Code == CodeInternal {
		e.logger.Error("operation failed", "operation", rec.Operation, "operation_id", rec.OperationID, "error", err)
	} else {
		e.logger.Debug("operation rejected", "operation", rec.Operation, "code", out.Code, "error", err)
	}
	return out
}

// refreshStorageCounts updates the storage gauges. Failures are logged only.
func (e *Engine) refreshStorageCounts(ctx context.Context) {
	if obs, err := e.records.CountObservations(ctx, ""); err == nil {
		e.metrics.SetStorageCount(ctx, "observations", obs)
	} else {
		e.logger.Debug("failed to count observations", "error", err)
	}
	if n, err := e.graph.CountEntities(ctx); err == nil {
		e.metrics.SetStorageCount(ctx, "entities", n)
	}
	if n, err := e.graph.CountRelations(ctx); err == nil {
		e.metrics.SetStorageCount(ctx, "relations", n)
	}
	if n, err := e.vectors.Count(ctx); err == nil {
		e.metrics.SetStorageCount(ctx, "vectors", int64(n))
	}
}
