package engine

import (
	"context"

	"github.com/dan-solli/mnemo/pkg/events"
	"github.com/dan-solli/mnemo/pkg/store"
)

// StartSession opens session id in project. A blank id gets a fresh one;
// starting an existing session of the same project returns it unchanged.
func (e *Engine) StartSession(ctx context.Context, project, id string) (_ *store.Session, err error) {
	op := e.begin("start_session")
	defer func() { err = e.finish(ctx, op, err) }()

	if err := requireProject(project); err != nil {
		return nil, err
	}
	sess, err := e.records.StartSession(ctx, id, project)
	if err != nil {
		return nil, err
	}
	e.bus.Publish(events.Event{Kind: events.SessionStarted, Project: project, Data: sess})
	return sess, nil
}

// EndSession completes an active session.
func (e *Engine) EndSession(ctx context.Context, project, id string) (_ *store.Session, err error) {
	op := e.begin("end_session")
	defer func() { err = e.finish(ctx, op, err) }()

	if err := requireProject(project); err != nil {
		return nil, err
	}
	sess, err := e.records.EndSession(ctx, id, project)
	if err != nil {
		return nil, err
	}
	e.bus.Publish(events.Event{Kind: events.SessionEnded, Project: project, Data: sess})
	return sess, nil
}

// SaveSummary stores the end-of-session summary of a session in project.
func (e *Engine) SaveSummary(ctx context.Context, project string, summary *store.Summary) (_ *store.Summary, err error) {
	op := e.begin("save_summary")
	defer func() { err = e.finish(ctx, op, err) }()

	if err := requireProject(project); err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, NewValidationError("summary is required")
	}
	if err := e.records.CreateSummary(ctx, project, summary); err != nil {
		return nil, err
	}
	e.bus.Publish(events.Event{Kind: events.SummaryCreated, Project: project, Data: summary})
	return summary, nil
}

// ListSummaries returns the summaries of project, newest first.
func (e *Engine) ListSummaries(ctx context.Context, project, sessionID string, limit int) (_ []*store.Summary, err error) {
	op := e.begin("list_summaries")
	defer func() { err = e.finish(ctx, op, err) }()

	if err := requireProject(project); err != nil {
		return nil, err
	}
	return e.records.ListSummaries(ctx, project, sessionID, limit)
}
