package search

import "github.com/dan-solli/mnemo/pkg/store"

// candidate accumulates per-stage evidence for one observation.
type candidate struct {
	obs        *store.Observation
	snippet    string
	lexical    float64
	similarity float64
	matchedBy  []string
}

// candidateSet keeps candidates by id in first-seen order.
type candidateSet struct {
	order []string
	byID  map[string]*candidate
}

func newCandidateSet() *candidateSet {
	return &candidateSet{byID: map[string]*candidate{}}
}

func (c *candidateSet) get(obs *store.Observation) *candidate {
	if cand, ok := c.byID[obs.ID]; ok {
		return cand
	}
	cand := &candidate{obs: obs}
	c.byID[obs.ID] = cand
	c.order = append(c.order, obs.ID)
	return cand
}

func (c *candidateSet) has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

func (c *candidateSet) len() int {
	return len(c.order)
}

// merge scores every candidate. Lexical-only queries score by lexical relevance alone.
func (c *candidateSet) merge(s Settings, strategy string) []Result {
	results := make([]Result, 0, len(c.order))
	for _, id := range c.order {
		cand := c.byID[id]

		score := cand.lexical
		if strategy == StrategyHybrid {
			score = s.LexicalWeight*cand.lexical + s.SimilarityWeight*cand.similarity
		}

		results = append(results, Result{
			Observation: cand.obs,
			Score:       score,
			Snippet:     cand.snippet,
			Source:      sourceOf(cand.matchedBy),
			Explain: Explain{
				MatchedBy:       append([]string(nil), cand.matchedBy...),
				Strategy:        strategy,
				LexicalScore:    cand.lexical,
				SimilarityScore: cand.similarity,
			},
		})
	}
	return results
}

func sourceOf(matchedBy []string) string {
	if len(matchedBy) > 1 {
		return StrategyHybrid
	}
	if len(matchedBy) == 1 {
		return matchedBy[0]
	}
	return StageLexical
}
