// Package lineage reconstructs revision chains of observations and diffs two revisions.
//
// Every walk is bounded: ids are tracked in a visited set and no walk takes more than
// MaxHops steps, so corrupted or cyclic pointers terminate instead of looping.
package lineage

import (
	"context"
	"fmt"
	"time"

	"github.com/dan-solli/mnemo/pkg/store"
)

// MaxHops bounds each direction of a lineage walk.
const MaxHops = 256

// State classifies a node of a revision chain.
type State string

const (
	StateCurrent    State = "current"
	StateSuperseded State = "superseded"
	StateTombstoned State = "tombstoned"
)

// Resolver looks up observations regardless of lineage state.
// A missing id resolves to (nil, nil).
type Resolver interface {
	GetByIDIncludingArchived(ctx context.Context, id string) (*store.Observation, error)
}

// Node is one revision in a chain, root first.
type Node struct {
	ID           string             `json:"id"`
	RevisionOf   *string            `json:"revisionOf"`
	SupersededBy *string            `json:"supersededBy"`
	SupersededAt *time.Time         `json:"supersededAt"`
	DeletedAt    *time.Time         `json:"deletedAt"`
	State        State              `json:"state"`
	Observation  *store.Observation `json:"observation"`
}

// Classify derives the lineage state of an observation. Tombstone wins over supersession.
func Classify(obs *store.Observation) State {
	switch {
	case obs.DeletedAt != nil:
		return StateTombstoned
	case obs.SupersededBy != nil:
		return StateSuperseded
	default:
		return StateCurrent
	}
}

func newNode(obs *store.Observation) Node {
	return Node{
		ID:           obs.ID,
		RevisionOf:   obs.RevisionOf,
		SupersededBy: obs.SupersededBy,
		SupersededAt: obs.SupersededAt,
		DeletedAt:    obs.DeletedAt,
		State:        Classify(obs),
		Observation:  obs,
	}
}

// GetLineage returns the revision chain containing anchorID, ordered from the root forward.
// An unknown anchor yields nil. When forward pointers are corrupted the anchor may be absent
// from the result, but the root is always present and no id appears twice.
func GetLineage(ctx context.Context, r Resolver, anchorID string) ([]Node, error) {
	anchor, err := r.GetByIDIncludingArchived(ctx, anchorID)
	if err != nil {
		return nil, fmt.Errorf("resolve anchor: %w", err)
	}
	if anchor == nil {
		return nil, nil
	}

	root, err := walkBack(ctx, r, anchor)
	if err != nil {
		return nil, err
	}
	return walkForward(ctx, r, root)
}

// walkBack follows revisionOf from start and returns the oldest observation reached.
func walkBack(ctx context.Context, r Resolver, start *store.Observation) (*store.Observation, error) {
	visited := map[string]bool{start.ID: true}
	current := start

	for hops := 0; hops < MaxHops; hops++ {
		if current.RevisionOf == nil || visited[*current.RevisionOf] {
			break
		}
		prev, err := r.GetByIDIncludingArchived(ctx, *current.RevisionOf)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", *current.RevisionOf, err)
		}
		if prev == nil {
			break
		}
		visited[prev.ID] = true
		current = prev
	}
	return current, nil
}

// walkForward follows supersededBy from root with a fresh visited set.
func walkForward(ctx context.Context, r Resolver, root *store.Observation) ([]Node, error) {
	visited := map[string]bool{root.ID: true}
	chain := []Node{newNode(root)}
	current := root

	for hops := 0; hops < MaxHops; hops++ {
		if current.SupersededBy == nil || visited[*current.SupersededBy] {
			break
		}
		next, err := r.GetByIDIncludingArchived(ctx, *current.SupersededBy)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", *current.SupersededBy, err)
		}
		if next == nil {
			break
		}
		visited[next.ID] = true
		chain = append(chain, newNode(next))
		current = next
	}
	return chain, nil
}
