// Package extraction derives graph entities and relations from observations.
package extraction

import (
	"path"
	"strings"

	"github.com/dan-solli/mnemo/pkg/store"
)

// Entity types produced by the extractor.
const (
	TypeConcept = "concept"
	TypeFile    = "file"
	TypeTool    = "tool"
)

// Entity is a named entity found in an observation.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// EntityExtractor pulls concepts, files and the producing tool out of an observation.
type EntityExtractor struct{}

// NewEntityExtractor creates an entity extractor.
func NewEntityExtractor() *EntityExtractor {
	return &EntityExtractor{}
}

// Extract returns the distinct entities of obs: concepts first, then files, then the tool.
// Names are trimmed; file paths are cleaned. Duplicates compare case-insensitively per type.
func (e *EntityExtractor) Extract(obs *store.Observation) []Entity {
	if obs == nil {
		return []Entity{}
	}

	seen := map[string]bool{}
	entities := []Entity{}
	add := func(name, typ string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := typ + "|" + strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		entities = append(entities, Entity{Name: name, Type: typ})
	}

	for _, c := range obs.Concepts {
		add(c, TypeConcept)
	}
	for _, f := range obs.FilesRead {
		add(cleanPath(f), TypeFile)
	}
	for _, f := range obs.FilesModified {
		add(cleanPath(f), TypeFile)
	}
	add(obs.ToolName, TypeTool)

	return entities
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}
