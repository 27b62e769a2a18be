package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteVectorStore implements VectorStore over the observation_vectors table.
// Search is an exact linear scan; the corpus of one user's observations stays small
// enough that an ANN index is not needed.
// The database connection is shared and must not be closed by this store.
type SQLiteVectorStore struct {
	db *sql.DB
}

// NewSQLiteVectorStore creates a vector store over an open database.
func NewSQLiteVectorStore(db *sql.DB) *SQLiteVectorStore {
	return &SQLiteVectorStore{db: db}
}

// Add adds or replaces the embedding for an observation.
func (s *SQLiteVectorStore) Add(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding cannot be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observation_vectors (observation_id, dims, embedding, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(observation_id) DO UPDATE SET
			dims = excluded.dims, embedding = excluded.embedding, updated_at = excluded.updated_at
	`, id, len(embedding), serializeEmbedding(embedding), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// Search scores every vector with matching dimensionality against query.
func (s *SQLiteVectorStore) Search(ctx context.Context, query []float32, topK int) ([]VectorResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT observation_id, embedding FROM observation_vectors WHERE dims = ?`, len(query))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	results := []VectorResult{}
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		embedding := deserializeEmbedding(blob)
		if embedding == nil {
			continue
		}
		results = append(results, VectorResult{ID: id, Score: CosineSimilarity(query, embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	return topResults(results, topK), nil
}

// Delete removes the embedding for an observation.
func (s *SQLiteVectorStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM observation_vectors WHERE observation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

// Has reports whether an embedding is stored for id.
func (s *SQLiteVectorStore) Has(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observation_vectors WHERE observation_id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check embedding: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of stored embeddings.
func (s *SQLiteVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observation_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}
