package search

import (
	"context"

	"github.com/dan-solli/mnemo/pkg/store"
	"github.com/dan-solli/mnemo/pkg/trace"
)

// lexicalStage fetches bm25 candidates, pre-filtered by project and type.
func (o *Orchestrator) lexicalStage(ctx context.Context, op *trace.Operation, query string, f Filters, fetch int) (*candidateSet, error) {
	span := op.Span("search-lexical")
	hits, err := o.lexical.Lexical(ctx, query, store.LexicalOptions{
		Project: f.Project,
		Type:    f.Type,
		Limit:   fetch,
	})
	ms := span.Finish(err, map[string]int64{"candidates": int64(len(hits))})
	o.metrics.RecordStage(ctx, "search", StageLexical, ms)
	if err != nil {
		return nil, err
	}

	cands := newCandidateSet()
	best := bestRank(hits)
	for _, hit := range hits {
		cand := cands.get(hit.Observation)
		cand.lexical = normalizeBM25(hit.BM25, best)
		cand.snippet = hit.Snippet
		cand.matchedBy = append(cand.matchedBy, StageLexical)
	}
	return cands, nil
}

func bestRank(hits []store.LexicalHit) float64 {
	if len(hits) == 0 {
		return 0
	}
	best := hits[0].BM25
	for _, h := range hits[1:] {
		if h.BM25 < best {
			best = h.BM25
		}
	}
	return best
}

// normalizeBM25 maps a raw bm25 rank (lower is better) into (0,1], with the best candidate at 1.
func normalizeBM25(rank, best float64) float64 {
	switch {
	case best < 0 && rank < 0:
		return rank / best
	case best < 0:
		return minRelevance
	case rank <= 0 || best == 0:
		return 1
	default:
		return best / rank
	}
}

const minRelevance = 1e-6
