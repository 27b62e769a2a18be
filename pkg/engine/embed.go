package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/dan-solli/mnemo/pkg/config"
	"github.com/dan-solli/mnemo/pkg/embeddings"
	"github.com/dan-solli/mnemo/pkg/store"
)

// errEmbeddingsDisabled is returned when an operation needs the embedding provider while it is off.
var errEmbeddingsDisabled = errors.New("embeddings are disabled")

// switchableEmbedder delegates to the current provider client and rebuilds it
// when the embeddings configuration changes. An injected client is never replaced.
type switchableEmbedder struct {
	mu       sync.RWMutex
	client   embeddings.EmbeddingClient
	cached   *embeddings.CachedClient
	settings config.EmbeddingsConfig
	injected bool
}

func newSwitchableEmbedder(injected embeddings.EmbeddingClient, cfg config.EmbeddingsConfig) (*switchableEmbedder, error) {
	if injected != nil {
		return &switchableEmbedder{client: injected, settings: cfg, injected: true}, nil
	}
	s := &switchableEmbedder{}
	if err := s.build(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *switchableEmbedder) build(cfg config.EmbeddingsConfig) error {
	provider := embeddings.NewOpenAIClient(embeddings.OpenAIConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	cached, err := embeddings.NewCachedClient(provider, embeddings.CacheOptions{
		Model:             provider.Model(),
		MaxEntries:        cfg.CacheSize,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.cached
	s.client, s.cached, s.settings = cached, cached, cfg
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// reconfigure rebuilds the provider client when a provider setting changed.
func (s *switchableEmbedder) reconfigure(cfg config.EmbeddingsConfig) error {
	s.mu.RLock()
	same := s.injected || (s.settings.Model == cfg.Model &&
		s.settings.BaseURL == cfg.BaseURL &&
		s.settings.APIKey == cfg.APIKey &&
		s.settings.CacheSize == cfg.CacheSize &&
		s.settings.RequestsPerSecond == cfg.RequestsPerSecond)
	s.mu.RUnlock()
	if same {
		return nil
	}
	return s.build(cfg)
}

func (s *switchableEmbedder) current() embeddings.EmbeddingClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *switchableEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return s.current().Embed(ctx, texts)
}

func (s *switchableEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return s.current().EmbedOne(ctx, text)
}

func (s *switchableEmbedder) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		s.cached.Close()
		s.cached = nil
	}
}

// embeddingText is the text embedded for an observation: the first chunk of its searchable fields.
func (e *Engine) embeddingText(obs *store.Observation) string {
	parts := []string{obs.Title, obs.Subtitle, obs.Narrative}
	parts = append(parts, obs.Facts...)
	if len(obs.Concepts) > 0 {
		parts = append(parts, strings.Join(obs.Concepts, ", "))
	}

	var nonEmpty []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return e.chunker.First(strings.Join(nonEmpty, "\n"))
}

// embedObservation stores the vector of obs. It is a no-op while embeddings are disabled.
func (e *Engine) embedObservation(ctx context.Context, obs *store.Observation) (bool, error) {
	if !e.cfg.Current().Embeddings.Enabled {
		return false, nil
	}
	text := e.embeddingText(obs)
	if text == "" {
		return false, nil
	}
	vec, err := e.embedder.EmbedOne(ctx, text)
	if err != nil {
		return false, err
	}
	if err := e.vectors.Add(ctx, obs.ID, vec); err != nil {
		return false, err
	}
	return true, nil
}

// dropVector removes the vector of id, logging instead of failing the caller.
func (e *Engine) dropVector(ctx context.Context, id string) {
	if err := e.vectors.Delete(ctx, id); err != nil {
		e.logger.Warn("failed to delete vector", "observation_id", id, "error", err)
	}
}
