package engine

import (
	"context"
	"strings"

	"github.com/dan-solli/mnemo/pkg/chunker"
	"github.com/dan-solli/mnemo/pkg/events"
	"github.com/dan-solli/mnemo/pkg/lineage"
	"github.com/dan-solli/mnemo/pkg/store"
)

func requireProject(project string) error {
	if strings.TrimSpace(project) == "" {
		return NewValidationError("project is required")
	}
	return nil
}

// Save creates an observation in project. Its session is created when missing;
// a session owned by another project is a CONFLICT.
func (e *Engine) Save(ctx context.Context, project string, obs *store.Observation) (_ *store.Observation, err error) {
	op := e.begin("save")
	defer func() { err = e.finish(ctx, op, err) }()

	if err := requireProject(project); err != nil {
		return nil, err
	}
	if obs == nil {
		return nil, NewValidationError("observation is required")
	}
	if obs.RevisionOf != nil || obs.SupersededBy != nil || obs.DeletedAt != nil {
		return nil, NewValidationError("lineage fields cannot be set on save")
	}
	if err := e.records.EnsureSession(ctx, obs.SessionID, project); err != nil {
		return nil, err
	}
	if obs.TokenCount == 0 {
		obs.TokenCount = estimateTokens(obs)
	}

	if err := e.records.Create(ctx, obs); err != nil {
		return nil, err
	}
	op.SetID("observation_id", obs.ID)

	e.bus.Publish(events.Event{Kind: events.ObservationCreated, Project: project, Data: obs})
	e.ingest.enqueue(obs)
	return obs, nil
}

func estimateTokens(obs *store.Observation) int {
	parts := []string{obs.Title, obs.Subtitle, obs.Narrative}
	parts = append(parts, obs.Facts...)
	parts = append(parts, obs.Concepts...)
	return chunker.EstimateTokens(parts...)
}

// Revise replaces id with a new revision carrying patch. The previous row stays
// readable through GetIncludingArchived and the lineage.
func (e *Engine) Revise(ctx context.Context, project, id string, patch store.ObservationPatch) (_ *store.Observation, err error) {
	op := e.begin("revise")
	op.SetID("observation_id", id)
	defer func() { err = e.finish(ctx, op, err) }()

	if err := requireProject(project); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, NewValidationError("patch is empty")
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return nil, NewValidationError("unknown observation type %q", *patch.Type)
	}

	next, err := e.records.Revise(ctx, project, id, patch)
	if err != nil {
		return nil, err
	}
	op.SetID("revision_id", next.ID)

	e.dropVector(ctx, id)
	e.bus.Publish(events.Event{
		Kind:    events.ObservationUpdated,
		Project: project,
		Data:    map[string]any{"previousId": id, "observation": next},
	})
	e.ingest.enqueue(next)
	return next, nil
}

// Tombstone marks id deleted. It returns false when id is already tombstoned;
// unknown or cross-project ids are NOT_FOUND.
func (e *Engine) Tombstone(ctx context.Context, project, id string) (_ bool, err error) {
	op := e.begin("tombstone")
	op.SetID("observation_id", id)
	defer func() { err = e.finish(ctx, op, err) }()

	if err := requireProject(project); err != nil {
		return false, err
	}

	ok, err := e.records.Tombstone(ctx, project, id)
	if err != nil {
		return false, err
	}
	if !ok {
		owner, err := e.records.ProjectOf(ctx, id)
		if err != nil {
			return false, err
		}
		if owner != project {
			return false, NewNotFoundError("observation", id)
		}
		return false, nil
	}

	e.dropVector(ctx, id)
	e.bus.Publish(events.Event{Kind: events.ObservationDeleted, Project: project, Data: map[string]any{"id": id}})
	e.refreshStorageCounts(ctx)
	return true, nil
}

// visible reports whether obs may be returned to a caller scoped to project.
// An empty project reads across projects.
func visible(obs *store.Observation, project string) bool {
	return obs != nil && (project == "" || obs.Project == project)
}

// Get returns the current view of id, or nil when it is unknown, archived or in another project.
func (e *Engine) Get(ctx context.Context, project, id string) (_ *store.Observation, err error) {
	op := e.begin("get")
	defer func() { err = e.finish(ctx, op, err) }()

	obs, err := e.records.GetByID(ctx, id)
	if err != nil || !visible(obs, project) {
		return nil, err
	}
	return obs, nil
}

// GetIncludingArchived returns id in any lineage state, or nil.
func (e *Engine) GetIncludingArchived(ctx context.Context, project, id string) (_ *store.Observation, err error) {
	op := e.begin("get_archived")
	defer func() { err = e.finish(ctx, op, err) }()

	obs, err := e.records.GetByIDIncludingArchived(ctx, id)
	if err != nil || !visible(obs, project) {
		return nil, err
	}
	return obs, nil
}

// ListByProject lists observations newest first.
func (e *Engine) ListByProject(ctx context.Context, opts store.ListOptions) (_ []*store.Observation, err error) {
	op := e.begin("list")
	defer func() { err = e.finish(ctx, op, err) }()

	if err := requireProject(opts.Project); err != nil {
		return nil, err
	}
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, NewValidationError("unknown observation type %q", opts.Type)
	}
	if opts.Since != nil && opts.Until != nil && opts.Since.After(*opts.Until) {
		return nil, NewValidationError("since must not be after until")
	}
	return e.records.ListByProject(ctx, opts)
}

// GetIndex returns the lightweight index of current observations in project.
func (e *Engine) GetIndex(ctx context.Context, project string, limit int) (_ []store.IndexEntry, err error) {
	op := e.begin("index")
	defer func() { err = e.finish(ctx, op, err) }()

	if err := requireProject(project); err != nil {
		return nil, err
	}
	return e.records.GetIndex(ctx, project, limit)
}

// GetLineage returns the revision chain containing id, root first, or nil when id is unknown.
func (e *Engine) GetLineage(ctx context.Context, project, id string) (_ []lineage.Node, err error) {
	op := e.begin("lineage")
	op.SetID("observation_id", id)
	defer func() { err = e.finish(ctx, op, err) }()

	anchor, err := e.records.GetByIDIncludingArchived(ctx, id)
	if err != nil || !visible(anchor, project) {
		return nil, err
	}
	return lineage.GetLineage(ctx, e.records, id)
}

// GetRevisionDiff compares two observations field by field, or returns nil when either is unknown.
// With an empty againstID, id is compared with the revision it replaced (Before is the older row).
func (e *Engine) GetRevisionDiff(ctx context.Context, project, id, againstID string) (_ *lineage.RevisionDiff, err error) {
	op := e.begin("revision_diff")
	op.SetID("observation_id", id)
	defer func() { err = e.finish(ctx, op, err) }()

	if againstID == "" {
		obs, err := e.records.GetByIDIncludingArchived(ctx, id)
		if err != nil || !visible(obs, project) {
			return nil, err
		}
		if obs.RevisionOf == nil {
			return nil, NewValidationError("observation %s has no previous revision; against is required", id)
		}
		id, againstID = *obs.RevisionOf, id
	}

	for _, oid := range []string{id, againstID} {
		obs, err := e.records.GetByIDIncludingArchived(ctx, oid)
		if err != nil || !visible(obs, project) {
			return nil, err
		}
	}
	return lineage.GetRevisionDiff(ctx, e.records, id, againstID)
}
