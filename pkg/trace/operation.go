package trace

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operation accumulates spans while an engine operation runs.
// A nil *Operation is valid and records nothing.
type Operation struct {
	mu    sync.Mutex
	id    string
	name  string
	start time.Time
	spans []SpanRecord
	ids   map[string]any
}

// Start begins timing an operation.
func Start(name string) *Operation {
	return &Operation{id: uuid.NewString(), name: name, start: time.Now()}
}

// ID returns the operation id, or "" for a nil operation.
func (o *Operation) ID() string {
	if o == nil {
		return ""
	}
	return o.id
}

// SetID attaches a correlation id (observation id, event id, ...) to the record.
func (o *Operation) SetID(key string, value any) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ids == nil {
		o.ids = map[string]any{}
	}
	o.ids[key] = value
}

// Span starts timing a named stage. Call Finish on the result.
func (o *Operation) Span(name string) *SpanTimer {
	return &SpanTimer{op: o, name: name, start: time.Now()}
}

// Spans returns a copy of the finished spans.
func (o *Operation) Spans() []SpanRecord {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]SpanRecord(nil), o.spans...)
}

// Finish builds the exportable record. errorType is ignored when err is nil.
func (o *Operation) Finish(err error, errorType string) *Record {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	rec := &Record{
		Timestamp:   o.start.UTC(),
		OperationID: o.id,
		Operation:   o.name,
		DurationMs:  time.Since(o.start).Milliseconds(),
		Status:      "success",
		Spans:       append([]SpanRecord{}, o.spans...),
		IDs:         o.ids,
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorType = errorType
	}
	return rec
}

// SpanTimer measures one stage.
type SpanTimer struct {
	op    *Operation
	name  string
	start time.Time
}

// Finish records the stage on its operation and returns its duration in milliseconds.
func (st *SpanTimer) Finish(err error, counters map[string]int64) int64 {
	elapsed := time.Since(st.start).Milliseconds()
	if st.op == nil {
		return elapsed
	}

	span := SpanRecord{Name: st.name, DurationMs: elapsed, OK: err == nil, Counters: counters}
	if err != nil {
		span.Error = err.Error()
	}

	st.op.mu.Lock()
	st.op.spans = append(st.op.spans, span)
	st.op.mu.Unlock()
	return elapsed
}
