package store

import (
	"context"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestSerializeEmbedding_RoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out := deserializeEmbedding(serializeEmbedding(in))
	if len(out) != len(in) {
		t.Fatalf("got %d values, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("value %d = %f, want %f", i, out[i], in[i])
		}
	}
	if deserializeEmbedding([]byte{1, 2, 3}) != nil {
		t.Error("malformed blob should decode to nil")
	}
}

func vectorStores(t *testing.T) map[string]VectorStore {
	t.Helper()
	chromemStore, err := NewChromemVectorStore()
	if err != nil {
		t.Fatalf("NewChromemVectorStore failed: %v", err)
	}
	return map[string]VectorStore{
		"memory":  NewMemoryVectorStore(),
		"sqlite":  NewSQLiteVectorStore(setupTestDB(t)),
		"chromem": chromemStore,
	}
}

func TestVectorStores(t *testing.T) {
	for name, vs := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			vectors := map[string][]float32{
				"near":  {1, 0.1, 0},
				"mid":   {0.7, 0.7, 0},
				"far":   {0, 0, 1},
				"other": {0, 1, 0.2},
			}
			for id, v := range vectors {
				if err := vs.Add(ctx, id, v); err != nil {
					t.Fatalf("Add(%s) failed: %v", id, err)
				}
			}
			if n, _ := vs.Count(ctx); n != 4 {
				t.Errorf("Count = %d, want 4", n)
			}

			results, err := vs.Search(ctx, []float32{1, 0, 0}, 2)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			if len(results) != 2 {
				t.Fatalf("expected 2 results, got %d", len(results))
			}
			if results[0].ID != "near" || results[1].ID != "mid" {
				t.Errorf("unexpected ranking: %+v", results)
			}
			if results[0].Score < results[1].Score {
				t.Error("results should be ordered by descending score")
			}

			// topK beyond the stored count returns everything.
			all, err := vs.Search(ctx, []float32{1, 0, 0}, 50)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 4 {
				t.Errorf("expected 4 results, got %d", len(all))
			}

			// Re-adding replaces the vector.
			if err := vs.Add(ctx, "far", []float32{1, 0, 0}); err != nil {
				t.Fatal(err)
			}
			if n, _ := vs.Count(ctx); n != 4 {
				t.Errorf("re-add should not grow the store, Count = %d", n)
			}

			if err := vs.Delete(ctx, "near"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if ok, _ := vs.Has(ctx, "near"); ok {
				t.Error("deleted vector still present")
			}
			if ok, _ := vs.Has(ctx, "mid"); !ok {
				t.Error("expected mid to be present")
			}
		})
	}
}

func TestVectorStores_EmptyEmbedding(t *testing.T) {
	for name, vs := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := vs.Add(context.Background(), "x", nil); err == nil {
				t.Error("expected error for empty embedding")
			}
		})
	}
}
