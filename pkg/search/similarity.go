package search

import (
	"context"
	"errors"
	"time"

	"github.com/dan-solli/mnemo/pkg/trace"
)

// similarityStage embeds the query and merges cosine matches into cands.
// It reports whether the stage contributed; timeouts and errors fail open.
func (o *Orchestrator) similarityStage(ctx context.Context, op *trace.Operation, query string, f Filters, fetch int, timeout time.Duration, cands *candidateSet) bool {
	if query == "" {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultSettings().SimilarityTimeout
	}

	simCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	span := op.Span("search-similarity")
	matched, err := o.similarity(simCtx, query, f, fetch, cands)
	ms := span.Finish(err, map[string]int64{"matched": int64(matched)})
	o.metrics.RecordStage(ctx, "search", StageSimilarity, ms)

	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		o.logger.Warn("similarity search failed, using lexical results only",
			"reason", reason, "error", err, "timeout", timeout)
		o.metrics.RecordFallback(ctx, StageSimilarity, reason)
		return false
	}
	return true
}

func (o *Orchestrator) similarity(ctx context.Context, query string, f Filters, fetch int, cands *candidateSet) (int, error) {
	embedding, err := o.embedder.EmbedOne(ctx, query)
	if err != nil {
		return 0, err
	}

	hits, err := o.vectors.Search(ctx, embedding, fetch)
	if err != nil {
		return 0, err
	}

	matched := 0
	for _, hit := range hits {
		if err := ctx.Err(); err != nil {
			return matched, err
		}
		score := clamp01(hit.Score)

		if cands.has(hit.ID) {
			cand := cands.byID[hit.ID]
			cand.similarity = score
			cand.matchedBy = append(cand.matchedBy, StageSimilarity)
			matched++
			continue
		}

		obs, err := o.records.GetByID(ctx, hit.ID)
		if err != nil {
			return matched, err
		}
		// Stale vector: the row was revised, tombstoned, or belongs elsewhere.
		if obs == nil {
			continue
		}
		if f.Project != "" && obs.Project != f.Project {
			continue
		}
		if f.Type != "" && obs.Type != f.Type {
			continue
		}

		cand := cands.get(obs)
		cand.similarity = score
		cand.matchedBy = append(cand.matchedBy, StageSimilarity)
		matched++
	}
	return matched, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
