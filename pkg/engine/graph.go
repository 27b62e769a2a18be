package engine

import (
	"context"
	"strings"

	"github.com/dan-solli/mnemo/pkg/store"
)

const defaultEntityLimit = 20

// UpsertEntity creates (name, entityType) or bumps its mention count.
func (e *Engine) UpsertEntity(ctx context.Context, name, entityType string) (_ *store.Entity, err error) {
	op := e.begin("upsert_entity")
	defer func() { err = e.finish(ctx, op, err) }()

	name, entityType = strings.TrimSpace(name), strings.TrimSpace(entityType)
	if name == "" || entityType == "" {
		return nil, NewValidationError("entity name and type are required")
	}
	ent, err := e.graph.UpsertEntity(ctx, name, entityType)
	if err != nil {
		return nil, err
	}
	op.SetID("entity_id", ent.ID)
	return ent, nil
}

// CreateRelation asserts sourceID -relationship-> targetID. Asserting an existing
// edge returns it; an unknown endpoint is NOT_FOUND.
func (e *Engine) CreateRelation(ctx context.Context, sourceID, targetID, relationship, observationID string) (_ *store.EntityRelation, err error) {
	op := e.begin("create_relation")
	defer func() { err = e.finish(ctx, op, err) }()

	relationship = strings.TrimSpace(relationship)
	if sourceID == "" || targetID == "" || relationship == "" {
		return nil, NewValidationError("source, target and relationship are required")
	}
	rel, err := e.graph.CreateRelation(ctx, sourceID, targetID, relationship, observationID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		missing := sourceID
		if src, err := e.graph.GetEntity(ctx, sourceID); err == nil && src != nil {
			missing = targetID
		}
		return nil, NewNotFoundError("entity", missing)
	}
	e.refreshStorageCounts(ctx)
	return rel, nil
}

// TraverseRelations returns the entities reachable from entityID within depth hops.
// An unknown entity yields an empty list.
func (e *Engine) TraverseRelations(ctx context.Context, entityID string, depth int) (_ []*store.Entity, err error) {
	op := e.begin("traverse_relations")
	op.SetID("entity_id", entityID)
	defer func() { err = e.finish(ctx, op, err) }()

	ids, err := e.graph.TraverseRelations(ctx, entityID, depth)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Entity, 0, len(ids))
	for _, id := range ids {
		ent, err := e.graph.GetEntity(ctx, id)
		if err != nil {
			return nil, err
		}
		if ent != nil {
			out = append(out, ent)
		}
	}
	op.SetID("nodes", len(out))
	return out, nil
}

// FindEntities searches entity names.
func (e *Engine) FindEntities(ctx context.Context, query string, limit int) (_ []*store.Entity, err error) {
	op := e.begin("find_entities")
	defer func() { err = e.finish(ctx, op, err) }()

	if limit <= 0 {
		limit = defaultEntityLimit
	}
	return e.graph.FindByName(ctx, query, limit)
}

// GetRelationsFor returns every edge touching entityID.
func (e *Engine) GetRelationsFor(ctx context.Context, entityID string) (_ []*store.EntityRelation, err error) {
	op := e.begin("entity_relations")
	defer func() { err = e.finish(ctx, op, err) }()

	return e.graph.GetRelationsFor(ctx, entityID)
}

// GetObservationsForEntity returns the current observations in project that mention entityID.
func (e *Engine) GetObservationsForEntity(ctx context.Context, project, entityID string) (_ []*store.Observation, err error) {
	op := e.begin("entity_observations")
	defer func() { err = e.finish(ctx, op, err) }()

	if err := requireProject(project); err != nil {
		return nil, err
	}
	ids, err := e.graph.GetObservationsForEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	out := []*store.Observation{}
	for _, id := range ids {
		obs, err := e.records.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if visible(obs, project) {
			out = append(out, obs)
		}
	}
	return out, nil
}
