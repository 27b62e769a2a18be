package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/dan-solli/mnemo/pkg/trace"
)

// Reranker reorders the head of a result list. It must return a permutation of its input.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []Result) ([]Result, error)
}

func (o *Orchestrator) rerankStage(ctx context.Context, op *trace.Operation, query string, results []Result, topN int) []Result {
	n := topN
	if n > MaxRerankCandidates {
		n = MaxRerankCandidates
	}
	if n > len(results) {
		n = len(results)
	}
	if n <= 1 {
		return results
	}

	head := append([]Result(nil), results[:n]...)
	span := op.Span("search-rerank")
	reranked, err := o.reranker.Rerank(ctx, query, head)
	if err == nil && len(reranked) != n {
		err = fmt.Errorf("reranker returned %d results for %d candidates", len(reranked), n)
	}
	ms := span.Finish(err, map[string]int64{"candidates": int64(n)})
	o.metrics.RecordStage(ctx, "search", StageRerank, ms)

	if err != nil {
		o.logger.Debug("rerank skipped", "error", err)
		o.metrics.RecordFallback(ctx, StageRerank, "error")
		return results
	}

	out := make([]Result, 0, len(results))
	for _, r := range reranked {
		r.Explain.Reranked = true
		out = append(out, r)
	}
	return append(out, results[n:]...)
}

// TermOverlapReranker orders results by the share of query terms found in
// title, narrative, facts and concepts. Ties keep the incoming order.
type TermOverlapReranker struct{}

// Rerank implements Reranker.
func (TermOverlapReranker) Rerank(ctx context.Context, query string, results []Result) ([]Result, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return results, nil
	}

	coverage := make([]float64, len(results))
	for i, r := range results {
		obs := r.Observation
		words := map[string]bool{}
		texts := make([]string, 0, 2+len(obs.Facts)+len(obs.Concepts))
		texts = append(texts, obs.Title, obs.Narrative)
		texts = append(texts, obs.Facts...)
		texts = append(texts, obs.Concepts...)
		for _, text := range texts {
			for _, w := range tokenize(text) {
				words[w] = true
			}
		}
		hit := 0
		for _, t := range terms {
			if words[t] {
				hit++
			}
		}
		coverage[i] = float64(hit) / float64(len(terms))
	}

	idx := make([]int, len(results))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return coverage[idx[a]] > coverage[idx[b]] })

	out := make([]Result, len(results))
	for i, j := range idx {
		out[i] = results[j]
	}
	return out, nil
}

// tokenize lowercases text and splits it into distinct words.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := map[string]bool{}
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
