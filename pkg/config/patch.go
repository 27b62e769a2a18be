package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Patch is a partial update of the runtime-tunable settings.
// A nil field is "not part of the patch"; a non-nil field carries the new value.
type Patch struct {
	SearchDefaultLimit  *int      `json:"search_default_limit,omitempty"`
	SearchMaxLimit      *int      `json:"search_max_limit,omitempty"`
	LexicalWeight       *float64  `json:"lexical_weight,omitempty"`
	SimilarityWeight    *float64  `json:"similarity_weight,omitempty"`
	SimilarityTimeout   *Duration `json:"similarity_timeout,omitempty"`
	RerankEnabled       *bool     `json:"rerank_enabled,omitempty"`
	RerankTopN          *int      `json:"rerank_top_n,omitempty"`
	RecencyHalfLifeDays *float64  `json:"recency_half_life_days,omitempty"`
	EmbeddingsEnabled   *bool     `json:"embeddings_enabled,omitempty"`
	EmbeddingModel      *string   `json:"embedding_model,omitempty"`
	LogLevel            *string   `json:"log_level,omitempty"`
}

// ErrInvalidPatch indicates an unknown key or a value that fails validation.
var ErrInvalidPatch = errors.New("invalid config patch")

// ErrLockedByEnv indicates a patch touching keys pinned by environment variables.
var ErrLockedByEnv = errors.New("config key locked by environment")

// LockedError lists the patch keys that the environment pins.
type LockedError struct {
	Keys []string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLockedByEnv, strings.Join(e.Keys, ", "))
}

func (e *LockedError) Unwrap() error { return ErrLockedByEnv }

// patchField ties one patch key to its Patch slot and Config slot.
type patchField struct {
	key      string
	present  func(p *Patch) bool
	snapshot func(c *Config, p *Patch)
	apply    func(c *Config, p *Patch)
}

func field[T any](key string, slot func(*Patch) **T, target func(*Config) *T) patchField {
	return patchField{
		key:     key,
		present: func(p *Patch) bool { return *slot(p) != nil },
		snapshot: func(c *Config, p *Patch) {
			v := *target(c)
			*slot(p) = &v
		},
		apply: func(c *Config, p *Patch) { *target(c) = **slot(p) },
	}
}

// patchFields is the explicit key-to-accessor table. Order is the canonical key order.
var patchFields = []patchField{
	field("search_default_limit", func(p *Patch) **int { return &p.SearchDefaultLimit }, func(c *Config) *int { return &c.Search.DefaultLimit }),
	field("search_max_limit", func(p *Patch) **int { return &p.SearchMaxLimit }, func(c *Config) *int { return &c.Search.MaxLimit }),
	field("lexical_weight", func(p *Patch) **float64 { return &p.LexicalWeight }, func(c *Config) *float64 { return &c.Search.LexicalWeight }),
	field("similarity_weight", func(p *Patch) **float64 { return &p.SimilarityWeight }, func(c *Config) *float64 { return &c.Search.SimilarityWeight }),
	field("similarity_timeout", func(p *Patch) **Duration { return &p.SimilarityTimeout }, func(c *Config) *Duration { return (*Duration)(&c.Search.SimilarityTimeout) }),
	field("rerank_enabled", func(p *Patch) **bool { return &p.RerankEnabled }, func(c *Config) *bool { return &c.Search.RerankEnabled }),
	field("rerank_top_n", func(p *Patch) **int { return &p.RerankTopN }, func(c *Config) *int { return &c.Search.RerankTopN }),
	field("recency_half_life_days", func(p *Patch) **float64 { return &p.RecencyHalfLifeDays }, func(c *Config) *float64 { return &c.Search.RecencyHalfLifeDays }),
	field("embeddings_enabled", func(p *Patch) **bool { return &p.EmbeddingsEnabled }, func(c *Config) *bool { return &c.Embeddings.Enabled }),
	field("embedding_model", func(p *Patch) **string { return &p.EmbeddingModel }, func(c *Config) *string { return &c.Embeddings.Model }),
	field("log_level", func(p *Patch) **string { return &p.LogLevel }, func(c *Config) *string { return &c.Logging.Level }),
}

// PatchKeys lists every key a Patch can carry.
func PatchKeys() []string {
	keys := make([]string, len(patchFields))
	for i, f := range patchFields {
		keys[i] = f.key
	}
	return keys
}

// Keys returns the keys present in the patch, in canonical order.
func (p Patch) Keys() []string {
	var keys []string
	for _, f := range patchFields {
		if f.present(&p) {
			keys = append(keys, f.key)
		}
	}
	return keys
}

// IsEmpty reports whether the patch carries no keys.
func (p Patch) IsEmpty() bool {
	return len(p.Keys()) == 0
}

// Snapshot captures the current values in cfg of exactly the keys present in p.
func Snapshot(cfg Config, p Patch) Patch {
	var prev Patch
	for _, f := range patchFields {
		if f.present(&p) {
			f.snapshot(&cfg, &prev)
		}
	}
	return prev
}

// Apply returns a copy of c with the patch applied and validated.
func (c Config) Apply(p Patch) (Config, error) {
	next := c
	for _, f := range patchFields {
		if f.present(&p) {
			f.apply(&next, &p)
		}
	}
	if err := next.Validate(); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return next, nil
}

// lockedKeys returns the keys of p pinned in locked, sorted.
func lockedKeys(p Patch, locked map[string]bool) []string {
	var keys []string
	for _, k := range p.Keys() {
		if locked[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
