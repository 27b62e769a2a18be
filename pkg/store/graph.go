package store

import (
	"context"
	"time"
)

// Entity is a named thing mentioned by observations (a concept, file, tool, ...).
// (Name, EntityType) is the natural key.
type Entity struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	EntityType   string    `json:"entityType"`
	FirstSeenAt  time.Time `json:"firstSeenAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	MentionCount int       `json:"mentionCount"`
}

// EntityRelation is a directed, labelled edge between two entities.
// (SourceID, TargetID, Relationship) is unique.
type EntityRelation struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"sourceId"`
	TargetID      string    `json:"targetId"`
	Relationship  string    `json:"relationship"`
	ObservationID string    `json:"observationId,omitempty"` // observation that produced the edge
	CreatedAt     time.Time `json:"createdAt"`
}

const (
	// MaxTraverseDepth caps TraverseRelations hop distance.
	MaxTraverseDepth = 2
	// MaxTraverseNodes caps the number of entity ids TraverseRelations returns, seed included.
	MaxTraverseNodes = 100
)

// EntityGraph defines the operations on the derived entity/relationship graph.
type EntityGraph interface {
	// UpsertEntity creates (name, entityType) or bumps its mention count and last-seen time.
	UpsertEntity(ctx context.Context, name, entityType string) (*Entity, error)

	// GetEntity returns an entity by id, or (nil, nil).
	GetEntity(ctx context.Context, id string) (*Entity, error)

	// CreateRelation adds a relation, returning the existing edge when it was already asserted.
	// Returns (nil, nil) when either endpoint is unknown.
	CreateRelation(ctx context.Context, sourceID, targetID, relationship, observationID string) (*EntityRelation, error)

	// TraverseRelations returns entity ids reachable from entityID, treating edges as undirected.
	// Depth is clamped to [1, MaxTraverseDepth] and the result to MaxTraverseNodes ids.
	TraverseRelations(ctx context.Context, entityID string, depth int) ([]string, error)

	// FindByName searches entity names. Search failures degrade to an empty result.
	FindByName(ctx context.Context, query string, limit int) ([]*Entity, error)

	// GetRelationsFor returns every edge where entityID is source or target.
	GetRelationsFor(ctx context.Context, entityID string) ([]*EntityRelation, error)

	// LinkObservation records that observationID mentions entityID.
	LinkObservation(ctx context.Context, observationID, entityID string) error

	// GetObservationsForEntity returns ids of observations linked to entityID.
	GetObservationsForEntity(ctx context.Context, entityID string) ([]string, error)
}
