package search

import (
	"strings"

	"github.com/dan-solli/mnemo/pkg/store"
)

// applyFilters drops results that fail any post-filter, keeping order.
func applyFilters(results []Result, f Filters) []Result {
	out := results[:0]
	for _, r := range results {
		if matches(r.Observation, f) {
			out = append(out, r)
		}
	}
	return out
}

func matches(obs *store.Observation, f Filters) bool {
	if f.MinImportance > 0 && obs.Importance < f.MinImportance {
		return false
	}
	if f.MaxImportance > 0 && obs.Importance > f.MaxImportance {
		return false
	}
	if f.Since != nil && obs.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && obs.CreatedAt.After(*f.Until) {
		return false
	}
	if len(f.Concepts) > 0 && !sharesAny(obs.Concepts, f.Concepts, strings.EqualFold) {
		return false
	}
	if len(f.Files) > 0 {
		files := append(append([]string(nil), obs.FilesRead...), obs.FilesModified...)
		if !sharesAny(files, f.Files, func(a, b string) bool { return a == b }) {
			return false
		}
	}
	return true
}

func sharesAny(have, want []string, eq func(a, b string) bool) bool {
	for _, h := range have {
		for _, w := range want {
			if eq(h, w) {
				return true
			}
		}
	}
	return false
}
