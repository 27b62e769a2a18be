package store

import (
	"context"
	"encoding/binary"
	"math"
)

// VectorResult is one similarity match.
type VectorResult struct {
	ID    string  // Observation ID
	Score float64 // Cosine similarity (higher is more similar)
}

// VectorStore holds the precomputed observation embeddings used by similarity search.
type VectorStore interface {
	// Add adds or updates the vector for an observation.
	Add(ctx context.Context, id string, embedding []float32) error

	// Search returns up to topK ids ordered by similarity to query (descending).
	Search(ctx context.Context, query []float32, topK int) ([]VectorResult, error)

	// Delete removes a vector. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Has reports whether a vector is stored for id.
	Has(ctx context.Context, id string) (bool, error)

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or empty vectors, and zero vectors, score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// serializeEmbedding converts a float32 slice to a little-endian BLOB.
func serializeEmbedding(embedding []float32) []byte {
	blob := make([]byte, len(embedding)*4)
	for i, val := range embedding {
		binary.LittleEndian.PutUint32(blob[i*4:(i+1)*4], math.Float32bits(val))
	}
	return blob
}

// deserializeEmbedding converts a BLOB back to a float32 slice.
// Returns nil if the data is malformed (not a multiple of 4 bytes).
func deserializeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : (i+1)*4]))
	}
	return embedding
}
