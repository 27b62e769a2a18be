package search

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/dan-solli/mnemo/pkg/embeddings"
	"github.com/dan-solli/mnemo/pkg/logging"
	"github.com/dan-solli/mnemo/pkg/metrics"
	"github.com/dan-solli/mnemo/pkg/store"
	"github.com/dan-solli/mnemo/pkg/trace"
)

// Options wires an Orchestrator. Lexical is required; everything else is optional.
type Options struct {
	Lexical  LexicalIndex
	Records  ObservationReader
	Embedder embeddings.EmbeddingClient
	Vectors  store.VectorStore
	Reranker Reranker
	// Settings is called once per query so live configuration changes apply to the next search.
	Settings func() Settings
	Metrics  metrics.Collector
	Logger   *slog.Logger
	Now      func() time.Time
}

// Orchestrator runs the multi-stage search pipeline.
type Orchestrator struct {
	lexical  LexicalIndex
	records  ObservationReader
	embedder embeddings.EmbeddingClient
	vectors  store.VectorStore
	reranker Reranker
	settings func() Settings
	metrics  metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		lexical:  opts.Lexical,
		records:  opts.Records,
		embedder: opts.Embedder,
		vectors:  opts.Vectors,
		reranker: opts.Reranker,
		settings: opts.Settings,
		metrics:  opts.Metrics,
		logger:   logging.OrDefault(opts.Logger),
		now:      opts.Now,
	}
	if o.settings == nil {
		o.settings = DefaultSettings
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNoopCollector()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

func (o *Orchestrator) similarityConfigured(s Settings) bool {
	return s.SimilarityEnabled && o.embedder != nil && o.vectors != nil && o.records != nil
}

// Search ranks current observations for query.
// It never fails: backend errors yield an empty list. op may be nil.
func (o *Orchestrator) Search(ctx context.Context, op *trace.Operation, query string, f Filters) []Result {
	s := o.settings()
	limit := s.limit(f)
	fetch := overFetch(limit)

	cands, err := o.lexicalStage(ctx, op, query, f, fetch)
	if err != nil {
		o.logger.Warn("lexical search failed", "error", err, "project", f.Project)
		o.metrics.RecordFallback(ctx, StageLexical, "error")
		o.metrics.RecordSearch(ctx, StrategyLexical, 0)
		return []Result{}
	}

	strategy := StrategyLexical
	if o.similarityConfigured(s) {
		if o.similarityStage(ctx, op, query, f, fetch, s.SimilarityTimeout, cands) {
			strategy = StrategyHybrid
		}
	}

	results := cands.merge(s, strategy)
	o.applyRecency(results, s.RecencyHalfLifeDays)
	sortResults(results)

	if s.RerankEnabled && o.reranker != nil {
		results = o.rerankStage(ctx, op, query, results, s.RerankTopN)
	}

	results = applyFilters(results, f)
	if len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}

	o.metrics.RecordSearch(ctx, strategy, len(results))
	return results
}

// sortResults orders by score, then newer first, then id for determinism.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Observation.CreatedAt.Equal(b.Observation.CreatedAt) {
			return a.Observation.CreatedAt.After(b.Observation.CreatedAt)
		}
		return a.Observation.ID < b.Observation.ID
	})
}
