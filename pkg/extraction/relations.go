package extraction

import (
	"strings"

	"github.com/dan-solli/mnemo/pkg/store"
)

// Relationship names.
const (
	RelRelatesTo = "relates_to"
	RelTouched   = "touched"
)

// Triplet is a directed relationship between two extracted entities.
type Triplet struct {
	Subject  Entity `json:"subject"`
	Relation string `json:"relation"`
	Object   Entity `json:"object"`
}

// RelationExtractor links the entities of one observation.
type RelationExtractor struct{}

// NewRelationExtractor creates a relation extractor.
func NewRelationExtractor() *RelationExtractor {
	return &RelationExtractor{}
}

// Extract emits concept -relates_to-> file for every file the observation read or modified,
// and tool -touched-> file for every modified file. Only entities in the given list are linked.
func (r *RelationExtractor) Extract(obs *store.Observation, entities []Entity) []Triplet {
	if obs == nil || len(entities) == 0 {
		return []Triplet{}
	}

	lookup := buildEntityLookup(entities)
	var concepts, files, tools []Entity
	for _, e := range entities {
		switch e.Type {
		case TypeConcept:
			concepts = append(concepts, e)
		case TypeFile:
			files = append(files, e)
		case TypeTool:
			tools = append(tools, e)
		}
	}

	var triplets []Triplet
	for _, c := range concepts {
		for _, f := range files {
			triplets = append(triplets, Triplet{Subject: c, Relation: RelRelatesTo, Object: f})
		}
	}

	modified := map[string]bool{}
	for _, f := range obs.FilesModified {
		modified[entityKey(TypeFile, cleanPath(f))] = true
	}
	for _, t := range tools {
		for _, f := range files {
			if modified[entityKey(f.Type, f.Name)] {
				triplets = append(triplets, Triplet{Subject: t, Relation: RelTouched, Object: f})
			}
		}
	}

	return deduplicateTriplets(filterKnown(triplets, lookup))
}

func entityKey(typ, name string) string {
	return typ + "|" + strings.ToLower(strings.TrimSpace(name))
}

// buildEntityLookup creates a case-insensitive lookup of entities by type and name.
func buildEntityLookup(entities []Entity) map[string]bool {
	lookup := make(map[string]bool, len(entities))
	for _, e := range entities {
		lookup[entityKey(e.Type, e.Name)] = true
	}
	return lookup
}

func filterKnown(triplets []Triplet, lookup map[string]bool) []Triplet {
	out := make([]Triplet, 0, len(triplets))
	for _, t := range triplets {
		if lookup[entityKey(t.Subject.Type, t.Subject.Name)] && lookup[entityKey(t.Object.Type, t.Object.Name)] {
			out = append(out, t)
		}
	}
	return out
}

// deduplicateTriplets removes duplicates, preserving first occurrence order.
func deduplicateTriplets(triplets []Triplet) []Triplet {
	seen := make(map[string]bool)
	result := make([]Triplet, 0, len(triplets))

	for _, t := range triplets {
		key := entityKey(t.Subject.Type, t.Subject.Name) + "|" + t.Relation + "|" + entityKey(t.Object.Type, t.Object.Name)
		if !seen[key] {
			seen[key] = true
			result = append(result, t)
		}
	}
	return result
}
