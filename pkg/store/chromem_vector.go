package store

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

const chromemCollection = "observations"

// ChromemVectorStore implements VectorStore on an embedded chromem-go collection.
// Embeddings are always supplied by the caller; the collection never calls a provider itself.
type ChromemVectorStore struct {
	col *chromem.Collection
}

// NewChromemVectorStore creates an in-process chromem-go store.
func NewChromemVectorStore() (*ChromemVectorStore, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &ChromemVectorStore{col: col}, nil
}

// Add adds or replaces the vector for id.
func (c *ChromemVectorStore) Add(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding cannot be empty")
	}
	doc := chromem.Document{
		ID:        id,
		Content:   id,
		Embedding: append([]float32(nil), embedding...),
	}
	if err := c.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search queries the collection. chromem-go requires nResults <= collection size.
func (c *ChromemVectorStore) Search(ctx context.Context, query []float32, topK int) ([]VectorResult, error) {
	n := c.col.Count()
	if topK > n {
		topK = n
	}
	if topK <= 0 {
		return []VectorResult{}, nil
	}

	results, err := c.col.QueryEmbedding(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]VectorResult, 0, len(results))
	for _, r := range results {
		out = append(out, VectorResult{ID: r.ID, Score: float64(r.Similarity)})
	}
	return out, nil
}

// Delete removes the vector for id.
func (c *ChromemVectorStore) Delete(ctx context.Context, id string) error {
	if err := c.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Has reports whether a vector is stored for id.
func (c *ChromemVectorStore) Has(ctx context.Context, id string) (bool, error) {
	if _, err := c.col.GetByID(ctx, id); err != nil {
		return false, nil
	}
	return true, nil
}

// Count returns the number of stored vectors.
func (c *ChromemVectorStore) Count(ctx context.Context) (int, error) {
	return c.col.Count(), nil
}
