package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func setupGraphStore(t *testing.T) *SQLiteGraphStore {
	t.Helper()
	return NewSQLiteGraphStore(setupTestDB(t))
}

func TestUpsertEntity_Idempotent(t *testing.T) {
	g := setupGraphStore(t)
	ctx := context.Background()

	first, err := g.UpsertEntity(ctx, "sqlite", "concept")
	if err != nil {
		t.Fatalf("UpsertEntity failed: %v", err)
	}
	second, err := g.UpsertEntity(ctx, "sqlite", "concept")
	if err != nil {
		t.Fatalf("UpsertEntity failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected same id, got %s and %s", first.ID, second.ID)
	}
	if second.MentionCount != 2 {
		t.Errorf("MentionCount = %d, want 2", second.MentionCount)
	}
	if second.LastSeenAt.Before(first.LastSeenAt) {
		t.Error("LastSeenAt should not move backwards")
	}

	count, _ := g.CountEntities(ctx)
	if count != 1 {
		t.Errorf("expected 1 entity, got %d", count)
	}

	other, err := g.UpsertEntity(ctx, "sqlite", "tool")
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == first.ID {
		t.Error("same name with a different type is a different entity")
	}
}

func TestUpsertEntity_RequiresNameAndType(t *testing.T) {
	g := setupGraphStore(t)

	if _, err := g.UpsertEntity(context.Background(), "  ", "concept"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateRelation_Unique(t *testing.T) {
	g := setupGraphStore(t)
	ctx := context.Background()
	a, _ := g.UpsertEntity(ctx, "auth", "concept")
	b, _ := g.UpsertEntity(ctx, "auth.go", "file")

	r1, err := g.CreateRelation(ctx, a.ID, b.ID, "relates_to", "obs-1")
	if err != nil || r1 == nil {
		t.Fatalf("CreateRelation failed: %v", err)
	}
	r2, err := g.CreateRelation(ctx, a.ID, b.ID, "relates_to", "obs-2")
	if err != nil || r2 == nil {
		t.Fatalf("CreateRelation failed: %v", err)
	}
	if r1.ID != r2.ID {
		t.Errorf("duplicate edge created: %s vs %s", r1.ID, r2.ID)
	}
	if r2.ObservationID != "obs-1" {
		t.Errorf("existing edge should keep its first observation, got %q", r2.ObservationID)
	}

	count, _ := g.CountRelations(ctx)
	if count != 1 {
		t.Errorf("expected 1 relation, got %d", count)
	}

	rels, err := g.GetRelationsFor(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || rels[0].SourceID != a.ID {
		t.Errorf("incoming edge not reported: %+v", rels)
	}
}

func TestCreateRelation_MissingEndpoint(t *testing.T) {
	g := setupGraphStore(t)
	ctx := context.Background()
	a, _ := g.UpsertEntity(ctx, "auth", "concept")

	rel, err := g.CreateRelation(ctx, a.ID, "ghost", "relates_to", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rel != nil {
		t.Errorf("expected nil relation for a missing endpoint, got %+v", rel)
	}
}

func TestTraverseRelations_Depth(t *testing.T) {
	g := setupGraphStore(t)
	ctx := context.Background()

	// chain: e0 - e1 - e2 - e3
	var ids []string
	for i := 0; i < 4; i++ {
		e, err := g.UpsertEntity(ctx, fmt.Sprintf("e%d", i), "concept")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, e.ID)
	}
	for i := 0; i < 3; i++ {
		if _, err := g.CreateRelation(ctx, ids[i], ids[i+1], "next", ""); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		depth int
		want  int
	}{
		{1, 2},
		{2, 3},
		{5, 3}, // clamped to MaxTraverseDepth
	}
	for _, tt := range tests {
		got, err := g.TraverseRelations(ctx, ids[0], tt.depth)
		if err != nil {
			t.Fatalf("TraverseRelations(%d) failed: %v", tt.depth, err)
		}
		if len(got) != tt.want {
			t.Errorf("depth %d: got %d nodes, want %d", tt.depth, len(got), tt.want)
		}
		if got[0] != ids[0] {
			t.Errorf("seed should come first, got %s", got[0])
		}
	}

	// Incoming edges are followed too.
	back, err := g.TraverseRelations(ctx, ids[3], 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 2 || back[1] != ids[2] {
		t.Errorf("reverse traversal = %v", back)
	}
}

func TestTraverseRelations_BreadthFirstOrder(t *testing.T) {
	g := setupGraphStore(t)
	ctx := context.Background()

	//        root
	//       /    \
	//      a      b
	//     / \      \
	//   a1   a2    b1
	names := []string{"root", "a", "b", "a1", "a2", "b1"}
	ids := map[string]string{}
	for _, name := range names {
		e, err := g.UpsertEntity(ctx, name, "concept")
		if err != nil {
			t.Fatal(err)
		}
		ids[name] = e.ID
	}
	edges := [][2]string{{"root", "a"}, {"root", "b"}, {"a", "a1"}, {"a2", "a"}, {"b", "b1"}}
	for _, edge := range edges {
		if _, err := g.CreateRelation(ctx, ids[edge[0]], ids[edge[1]], "relates_to", ""); err != nil {
			t.Fatal(err)
		}
	}

	got, err := g.TraverseRelations(ctx, ids["root"], 2)
	if err != nil {
		t.Fatalf("TraverseRelations failed: %v", err)
	}
	if len(got) != len(names) {
		t.Fatalf("got %d nodes, want %d: %v", len(got), len(names), got)
	}

	level := map[string]int{ids["root"]: 0, ids["a"]: 1, ids["b"]: 1, ids["a1"]: 2, ids["a2"]: 2, ids["b1"]: 2}
	if got[0] != ids["root"] {
		t.Errorf("seed should come first, got %s", got[0])
	}
	seen := map[string]bool{}
	for i, id := range got {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
		if i > 0 && level[got[i-1]] > level[id] {
			t.Errorf("node %s at depth %d listed after depth %d", id, level[id], level[got[i-1]])
		}
	}

	one, err := g.TraverseRelations(ctx, ids["a"], 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 4 {
		t.Errorf("depth 1 from a should reach root, a1 and a2 (both directions), got %v", one)
	}
}

func TestTraverseRelations_NodeCap(t *testing.T) {
	g := setupGraphStore(t)
	ctx := context.Background()

	hub, _ := g.UpsertEntity(ctx, "hub", "concept")
	for i := 0; i < 150; i++ {
		e, err := g.UpsertEntity(ctx, fmt.Sprintf("leaf-%03d", i), "file")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := g.CreateRelation(ctx, hub.ID, e.ID, "touches", ""); err != nil {
			t.Fatal(err)
		}
	}

	got, err := g.TraverseRelations(ctx, hub.ID, 2)
	if err != nil {
		t.Fatalf("TraverseRelations failed: %v", err)
	}
	if len(got) != MaxTraverseNodes {
		t.Errorf("got %d nodes, want cap %d", len(got), MaxTraverseNodes)
	}
}

func TestTraverseRelations_UnknownSeed(t *testing.T) {
	g := setupGraphStore(t)

	got, err := g.TraverseRelations(context.Background(), "missing", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty traversal, got %v", got)
	}
}

func TestFindByName(t *testing.T) {
	g := setupGraphStore(t)
	ctx := context.Background()
	g.UpsertEntity(ctx, "rate limiter", "concept")
	g.UpsertEntity(ctx, "pkg/limiter/limiter.go", "file")
	g.UpsertEntity(ctx, "database", "concept")

	got, err := g.FindByName(ctx, "limiter", 10)
	if err != nil {
		t.Fatalf("FindByName failed: %v", err)
	}
	if len(got) < 1 {
		t.Fatalf("expected matches for limiter, got none")
	}
	for _, e := range got {
		if e.Name == "database" {
			t.Errorf("unexpected match %q", e.Name)
		}
	}

	// Substring fallback when the token doesn't match.
	got, err = g.FindByName(ctx, "atabas", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "database" {
		t.Errorf("substring fallback = %+v", got)
	}

	got, err = g.FindByName(ctx, `"""`, 10)
	if err != nil {
		t.Fatalf("FindByName should degrade, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %+v", got)
	}
}

func TestLinkObservationAndPrune(t *testing.T) {
	g := setupGraphStore(t)
	ctx := context.Background()
	linked, _ := g.UpsertEntity(ctx, "linked", "concept")
	g.UpsertEntity(ctx, "orphan", "concept")

	if err := g.LinkObservation(ctx, "obs-1", linked.ID); err != nil {
		t.Fatal(err)
	}
	if err := g.LinkObservation(ctx, "obs-1", linked.ID); err != nil {
		t.Fatalf("re-link should be a no-op, got %v", err)
	}

	obs, err := g.GetObservationsForEntity(ctx, linked.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 1 || obs[0] != "obs-1" {
		t.Errorf("GetObservationsForEntity = %v", obs)
	}

	n, err := g.PruneOrphanEntities(ctx, true)
	if err != nil || n != 1 {
		t.Fatalf("dry run: n=%d err=%v", n, err)
	}
	if count, _ := g.CountEntities(ctx); count != 2 {
		t.Errorf("dry run must not delete, have %d entities", count)
	}

	n, err = g.PruneOrphanEntities(ctx, false)
	if err != nil || n != 1 {
		t.Fatalf("prune: n=%d err=%v", n, err)
	}
	if count, _ := g.CountEntities(ctx); count != 1 {
		t.Errorf("expected 1 entity after prune, got %d", count)
	}
}
