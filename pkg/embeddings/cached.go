package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/time/rate"
)

// CachedClient memoizes embeddings by model and text and rate-limits calls to the provider.
type CachedClient struct {
	inner   EmbeddingClient
	model   string
	cache   *ristretto.Cache
	limiter *rate.Limiter
}

// CacheOptions configures a CachedClient.
type CacheOptions struct {
	// Model namespaces cache keys so switching models never returns stale vectors.
	Model string
	// MaxEntries bounds the cache; 0 disables caching.
	MaxEntries int64
	// RequestsPerSecond limits provider calls; 0 means unlimited.
	RequestsPerSecond float64
}

// NewCachedClient wraps inner.
func NewCachedClient(inner EmbeddingClient, opts CacheOptions) (*CachedClient, error) {
	c := &CachedClient{inner: inner, model: opts.Model}

	if opts.MaxEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters:        opts.MaxEntries * 10,
			MaxCost:            opts.MaxEntries, // every entry costs 1
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create embedding cache: %w", err)
		}
		c.cache = cache
	}

	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

func (c *CachedClient) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.model + ":" + hex.EncodeToString(sum[:])
}

// Embed serves cached vectors and fetches the rest in one provider call.
func (c *CachedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if c.cache != nil {
			if v, ok := c.cache.Get(c.key(text)); ok {
				out[i] = v.([]float32)
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limit: %w", err)
		}
	}
	fetched, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(fetched) != len(missing) {
		return nil, fmt.Errorf("%w: asked for %d, got %d", ErrNoEmbedding, len(missing), len(fetched))
	}

	for j, v := range fetched {
		out[missingIdx[j]] = v
		if c.cache != nil {
			c.cache.Set(c.key(missing[j]), v, 1)
		}
	}
	if c.cache != nil {
		c.cache.Wait()
	}
	return out, nil
}

// EmbedOne embeds a single text through the cache.
func (c *CachedClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, c, text)
}

// Close releases the cache.
func (c *CachedClient) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}
