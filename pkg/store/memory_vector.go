package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryVectorStore is an in-memory implementation of VectorStore.
// Vectors are not persisted across restarts.
type MemoryVectorStore struct {
	vectors map[string][]float32
	mu      sync.RWMutex
}

// NewMemoryVectorStore creates a new in-memory vector store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		vectors: make(map[string][]float32),
	}
}

// Add adds or updates a vector for the given ID.
func (m *MemoryVectorStore) Add(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy to avoid external mutations
	m.vectors[id] = append([]float32(nil), embedding...)
	return nil
}

// Search scores every stored vector against query and returns the best topK.
func (m *MemoryVectorStore) Search(ctx context.Context, query []float32, topK int) ([]VectorResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]VectorResult, 0, len(m.vectors))
	for id, embedding := range m.vectors {
		results = append(results, VectorResult{ID: id, Score: CosineSimilarity(query, embedding)})
	}
	return topResults(results, topK), nil
}

// Delete removes a vector from the store.
func (m *MemoryVectorStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.vectors, id)
	return nil
}

// Has reports whether a vector is stored for id.
func (m *MemoryVectorStore) Has(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.vectors[id]
	return ok, nil
}

// Count returns the number of stored vectors.
func (m *MemoryVectorStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.vectors), nil
}

// topResults sorts by score descending (ties by id) and truncates to topK.
func topResults(results []VectorResult, topK int) []VectorResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK >= 0 && topK < len(results) {
		results = results[:topK]
	}
	return results
}
