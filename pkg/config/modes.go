package config

import (
	"fmt"
	"sort"
	"time"
)

func ptr[T any](v T) *T { return &v }

// modes are named presets applied as ordinary patches with source "mode".
var modes = map[string]Patch{
	"fast": {
		SearchDefaultLimit: ptr(10),
		SimilarityTimeout:  ptr(Duration(500 * time.Millisecond)),
		RerankEnabled:      ptr(false),
	},
	"balanced": {
		SearchDefaultLimit: ptr(20),
		LexicalWeight:      ptr(0.6),
		SimilarityWeight:   ptr(0.4),
		SimilarityTimeout:  ptr(Duration(2 * time.Second)),
		RerankEnabled:      ptr(false),
	},
	"thorough": {
		SearchDefaultLimit: ptr(40),
		LexicalWeight:      ptr(0.5),
		SimilarityWeight:   ptr(0.5),
		SimilarityTimeout:  ptr(Duration(5 * time.Second)),
		RerankEnabled:      ptr(true),
		RerankTopN:         ptr(50),
	},
}

// Mode returns the patch for a named preset.
func Mode(name string) (Patch, error) {
	p, ok := modes[name]
	if !ok {
		return Patch{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidPatch, name)
	}
	return p, nil
}

// ModeNames lists the available presets, sorted.
func ModeNames() []string {
	names := make([]string, 0, len(modes))
	for name := range modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
