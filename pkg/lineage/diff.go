package lineage

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dan-solli/mnemo/pkg/store"
)

// FieldChange records one differing field. Before is taken from the diff's ID side,
// After from the AgainstID side.
type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// RevisionDiff is the field-level difference between two observations.
type RevisionDiff struct {
	ID        string        `json:"id"`
	AgainstID string        `json:"againstId"`
	Changes   []FieldChange `json:"changes"`
	Summary   string        `json:"summary"`
}

type comparedField struct {
	name  string
	value func(*store.Observation) any
	equal func(a, b *store.Observation) bool
}

func scalar[T comparable](name string, get func(*store.Observation) T) comparedField {
	return comparedField{
		name:  name,
		value: func(o *store.Observation) any { return get(o) },
		equal: func(a, b *store.Observation) bool { return get(a) == get(b) },
	}
}

func list(name string, get func(*store.Observation) []string) comparedField {
	return comparedField{
		name:  name,
		value: func(o *store.Observation) any { return slices.Clone(get(o)) },
		equal: func(a, b *store.Observation) bool { return slices.Equal(get(a), get(b)) },
	}
}

// diffFields is compared in this order; Changes follow it.
var diffFields = []comparedField{
	scalar("title", func(o *store.Observation) string { return o.Title }),
	scalar("subtitle", func(o *store.Observation) string { return o.Subtitle }),
	scalar("narrative", func(o *store.Observation) string { return o.Narrative }),
	scalar("type", func(o *store.Observation) store.ObservationType { return o.Type }),
	list("facts", func(o *store.Observation) []string { return o.Facts }),
	list("concepts", func(o *store.Observation) []string { return o.Concepts }),
	list("filesRead", func(o *store.Observation) []string { return o.FilesRead }),
	list("filesModified", func(o *store.Observation) []string { return o.FilesModified }),
	scalar("importance", func(o *store.Observation) int { return o.Importance }),
}

// Diff compares two observations field by field. Lists compare order-sensitively.
func Diff(a, b *store.Observation) *RevisionDiff {
	changes := []FieldChange{}
	for _, f := range diffFields {
		if f.equal(a, b) {
			continue
		}
		changes = append(changes, FieldChange{Field: f.name, Before: f.value(a), After: f.value(b)})
	}
	return &RevisionDiff{
		ID:        a.ID,
		AgainstID: b.ID,
		Changes:   changes,
		Summary:   summarize(changes),
	}
}

func summarize(changes []FieldChange) string {
	if len(changes) == 0 {
		return "no material changes"
	}
	names := make([]string, len(changes))
	for i, c := range changes {
		names[i] = c.Field
	}
	noun := "fields"
	if len(changes) == 1 {
		noun = "field"
	}
	return fmt.Sprintf("%d %s: %s", len(changes), noun, strings.Join(names, ", "))
}

// GetRevisionDiff resolves both ids and diffs them. Either id unresolvable yields nil.
func GetRevisionDiff(ctx context.Context, r Resolver, id, againstID string) (*RevisionDiff, error) {
	a, err := r.GetByIDIncludingArchived(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", id, err)
	}
	if a == nil {
		return nil, nil
	}
	b, err := r.GetByIDIncludingArchived(ctx, againstID)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", againstID, err)
	}
	if b == nil {
		return nil, nil
	}
	return Diff(a, b), nil
}
