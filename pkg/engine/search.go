package engine

import (
	"context"

	"github.com/dan-solli/mnemo/pkg/search"
	"github.com/dan-solli/mnemo/pkg/store"
)

// Search ranks current observations for query. Malformed filters are a VALIDATION_ERROR;
// retrieval backend failures yield an empty list.
func (e *Engine) Search(ctx context.Context, query string, f search.Filters) (_ []search.Result, err error) {
	op := e.begin("search")
	defer func() { err = e.finish(ctx, op, err) }()

	if err := validateFilters(f); err != nil {
		return nil, err
	}
	results := e.searcher.Search(ctx, op, query, f)
	op.SetID("results", len(results))
	return results, nil
}

func validateFilters(f search.Filters) error {
	if f.Type != "" && !f.Type.Valid() {
		return NewValidationError("unknown observation type %q", f.Type)
	}
	if f.Limit < 0 {
		return NewValidationError("limit must not be negative")
	}
	for _, v := range []int{f.MinImportance, f.MaxImportance} {
		if v != 0 && (v < store.MinImportance || v > store.MaxImportance) {
			return NewValidationError("importance filters must be between %d and %d", store.MinImportance, store.MaxImportance)
		}
	}
	if f.MinImportance > 0 && f.MaxImportance > 0 && f.MinImportance > f.MaxImportance {
		return NewValidationError("minImportance must not exceed maxImportance")
	}
	if f.Since != nil && f.Until != nil && f.Since.After(*f.Until) {
		return NewValidationError("since must not be after until")
	}
	return nil
}
