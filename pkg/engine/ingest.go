package engine

import (
	"context"
	"sync"
	"time"

	"github.com/dan-solli/mnemo/pkg/events"
	"github.com/dan-solli/mnemo/pkg/store"
)

// ingestJob asks the worker to derive entities and the embedding of one observation.
type ingestJob struct {
	obs *store.Observation
}

// ingestResult is the payload of pending:processed.
type ingestResult struct {
	ObservationID string `json:"observationId"`
	Entities      int    `json:"entities"`
	Relations     int    `json:"relations"`
	Embedded      bool   `json:"embedded"`
	Error         string `json:"error,omitempty"`
}

// ingestor runs a single background worker over a buffered queue.
type ingestor struct {
	e       *Engine
	mu      sync.RWMutex
	closed  bool
	queue   chan ingestJob
	done    chan struct{}

	countMu sync.Mutex
	pending int
	idle    chan struct{} // closed while pending == 0
}

func newIngestor(e *Engine, size int) *ingestor {
	in := &ingestor{e: e, queue: make(chan ingestJob, size), done: make(chan struct{}), idle: make(chan struct{})}
	close(in.idle)
	go in.run()
	return in
}

// enqueue hands obs to the worker. It blocks while the queue is full and drops the job after close.
func (in *ingestor) enqueue(obs *store.Observation) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.closed {
		return false
	}
	in.track(1)
	in.queue <- ingestJob{obs: obs}

	in.e.bus.Publish(events.Event{
		Kind:    events.PendingEnqueued,
		Project: obs.Project,
		Data:    map[string]any{"observationId": obs.ID, "queued": len(in.queue)},
	})
	return true
}

func (in *ingestor) run() {
	defer close(in.done)
	for job := range in.queue {
		in.process(job)
		in.track(-1)
	}
}

func (in *ingestor) process(job ingestJob) {
	e := in.e
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	op := e.begin("ingest")
	op.SetID("observation_id", job.obs.ID)
	res := ingestResult{ObservationID: job.obs.ID}

	span := op.Span("extract")
	entities, relations, err := e.linkEntities(ctx, job.obs)
	span.Finish(err, map[string]int64{"entities": int64(entities), "relations": int64(relations)})
	res.Entities, res.Relations = entities, relations
	if err != nil {
		res.Error = err.Error()
	}

	if err == nil {
		span = op.Span("embed")
		res.Embedded, err = e.embedObservation(ctx, job.obs)
		span.Finish(err, nil)
		if err != nil {
			res.Error = err.Error()
			e.logger.Warn("failed to embed observation", "observation_id", job.obs.ID, "error", err)
		}
	}

	_ = e.finish(ctx, op, err)
	e.refreshStorageCounts(ctx)
	e.bus.Publish(events.Event{Kind: events.PendingProcessed, Project: job.obs.Project, Data: res})
}

// linkEntities upserts the entities and relations extracted from obs and links them to it.
func (e *Engine) linkEntities(ctx context.Context, obs *store.Observation) (int, int, error) {
	extracted := e.entities.Extract(obs)
	ids := make(map[string]string, len(extracted))

	for _, ent := range extracted {
		stored, err := e.graph.UpsertEntity(ctx, ent.Name, ent.Type)
		if err != nil {
			return 0, 0, err
		}
		if err := e.graph.LinkObservation(ctx, obs.ID, stored.ID); err != nil {
			return 0, 0, err
		}
		ids[ent.Type+"|"+ent.Name] = stored.ID
	}

	relations := 0
	for _, t := range e.relations.Extract(obs, extracted) {
		src, dst := ids[t.Subject.Type+"|"+t.Subject.Name], ids[t.Object.Type+"|"+t.Object.Name]
		if src == "" || dst == "" {
			continue
		}
		rel, err := e.graph.CreateRelation(ctx, src, dst, t.Relation, obs.ID)
		if err != nil {
			return len(extracted), relations, err
		}
		if rel != nil {
			relations++
		}
	}
	return len(extracted), relations, nil
}

func (in *ingestor) track(delta int) {
	in.countMu.Lock()
	defer in.countMu.Unlock()
	if in.pending == 0 && delta > 0 {
		in.idle = make(chan struct{})
	}
	in.pending += delta
	if in.pending == 0 {
		close(in.idle)
	}
}

func (in *ingestor) waitIdle(ctx context.Context) error {
	in.countMu.Lock()
	idle := in.idle
	in.countMu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops intake and waits for the queue to drain.
func (in *ingestor) close() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.closed = true
	close(in.queue)
	in.mu.Unlock()
	<-in.done
}
