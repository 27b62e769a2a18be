package search

import (
	"math"
	"time"
)

// RecencyMultiplier returns 0.5^(ageDays/halfLifeDays).
// Non-positive half-lives and negative ages leave the score unchanged.
func RecencyMultiplier(age time.Duration, halfLifeDays float64) float64 {
	if age < 0 || halfLifeDays <= 0 {
		return 1.0
	}
	ageDays := age.Hours() / 24.0
	return math.Pow(0.5, ageDays/halfLifeDays)
}

func (o *Orchestrator) applyRecency(results []Result, halfLifeDays float64) {
	if halfLifeDays <= 0 {
		return
	}
	now := o.now()
	for i := range results {
		age := now.Sub(results[i].Observation.CreatedAt)
		results[i].Score *= RecencyMultiplier(age, halfLifeDays)
	}
}
