// Package search ranks observations for a free-text query.
//
// A query always runs the lexical stage (FTS5 bm25). When an embedder and a vector
// store are configured it also runs a similarity stage, merging both candidate sets
// into one weighted score. Recency decay, reranking and post-filters follow.
package search

import (
	"context"
	"time"

	"github.com/dan-solli/mnemo/pkg/store"
)

// Strategy names.
const (
	StrategyLexical = "lexical"
	StrategyHybrid  = "hybrid"
)

// Stage names used in MatchedBy, Source and trace spans.
const (
	StageLexical    = "lexical"
	StageSimilarity = "similarity"
	StageRerank     = "rerank"
)

// MaxRerankCandidates bounds how many results are handed to a Reranker.
const MaxRerankCandidates = 100

const minOverFetch = 30

// Filters narrows a search. Zero values mean "no constraint".
type Filters struct {
	Project       string
	Type          store.ObservationType
	Limit         int
	MinImportance int
	MaxImportance int
	Since         *time.Time
	Until         *time.Time
	Concepts      []string // result must share at least one
	Files         []string // result must read or modify at least one
}

// Explain records how a result was scored.
type Explain struct {
	MatchedBy       []string `json:"matchedBy"`
	Strategy        string   `json:"strategy"`
	LexicalScore    float64  `json:"lexicalScore"`
	SimilarityScore float64  `json:"similarityScore"`
	Reranked        bool     `json:"reranked,omitempty"`
}

// Result is one ranked observation.
type Result struct {
	Observation *store.Observation `json:"observation"`
	Rank        int                `json:"rank"`
	Score       float64            `json:"score"`
	Snippet     string             `json:"snippet,omitempty"`
	Explain     Explain            `json:"explain"`
	Source      string             `json:"source"`
}

// LexicalIndex is the full-text backend.
type LexicalIndex interface {
	Lexical(ctx context.Context, query string, opts store.LexicalOptions) ([]store.LexicalHit, error)
}

// ObservationReader resolves similarity hits to current observations.
type ObservationReader interface {
	GetByID(ctx context.Context, id string) (*store.Observation, error)
}

// Settings are the tunables read at the start of every query.
type Settings struct {
	DefaultLimit        int
	MaxLimit            int
	LexicalWeight       float64
	SimilarityWeight    float64
	SimilarityEnabled   bool
	SimilarityTimeout   time.Duration
	RerankEnabled       bool
	RerankTopN          int
	RecencyHalfLifeDays float64
}

// DefaultSettings mirrors the defaults of the configuration file.
func DefaultSettings() Settings {
	return Settings{
		DefaultLimit:      20,
		MaxLimit:          100,
		LexicalWeight:     0.6,
		SimilarityWeight:  0.4,
		SimilarityTimeout: 2 * time.Second,
		RerankTopN:        20,
	}
}

// limit resolves the effective result count for f.
func (s Settings) limit(f Filters) int {
	limit := f.Limit
	if limit <= 0 {
		limit = s.DefaultLimit
	}
	if limit <= 0 {
		limit = 20
	}
	if s.MaxLimit > 0 && limit > s.MaxLimit {
		limit = s.MaxLimit
	}
	return limit
}

// overFetch is how many candidates each retrieval stage asks for.
func overFetch(limit int) int {
	if n := limit * 3; n > minOverFetch {
		return n
	}
	return minOverFetch
}
