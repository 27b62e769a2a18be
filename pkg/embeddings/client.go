// Package embeddings turns observation text into vectors for similarity search.
package embeddings

import (
	"context"
	"errors"
)

// EmbeddingClient generates text embeddings.
type EmbeddingClient interface {
	// Embed returns one embedding per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne returns the embedding of a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// ErrNoEmbedding is returned when the provider answers without a vector for an input.
var ErrNoEmbedding = errors.New("no embedding returned")

func embedOne(ctx context.Context, c EmbeddingClient, text string) ([]float32, error) {
	out, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 || len(out[0]) == 0 {
		return nil, ErrNoEmbedding
	}
	return out[0], nil
}
