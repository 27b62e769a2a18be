package store

import (
	"context"
	"fmt"
	"strings"
)

// LexicalOptions scopes a full-text query.
type LexicalOptions struct {
	Project string
	Type    ObservationType
	Limit   int
}

// LexicalHit is one full-text match over the current observations.
type LexicalHit struct {
	Observation *Observation
	// BM25 is the raw bm25() rank; lower is more relevant and values are usually negative.
	BM25    float64
	Snippet string
}

// Column weights for title, subtitle, narrative, facts, concepts.
const bm25Weights = "8.0, 4.0, 1.0, 2.0, 3.0"

// Lexical runs an FTS5 query over title, subtitle, narrative, facts and concepts
// of current observations, ordered by bm25 relevance.
// A query with no searchable terms yields no hits; a malformed query is returned as an error.
func (s *SQLiteRecordStore) Lexical(ctx context.Context, query string, opts LexicalOptions) ([]LexicalHit, error) {
	match := SanitizeFTS(query)
	if match == "" {
		return []LexicalHit{}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	sqlQuery := `
		SELECT ` + observationColumns + `,
		       bm25(observations_fts, ` + bm25Weights + `) AS rank,
		       snippet(observations_fts, -1, '[', ']', '...', 16)
		FROM observations_fts
		JOIN observations o ON o.rowid = observations_fts.rowid
		JOIN sessions s ON s.id = o.session_id
		WHERE observations_fts MATCH ?
		  AND o.superseded_by IS NULL AND o.deleted_at IS NULL`
	args := []any{match}
	if opts.Project != "" {
		sqlQuery += ` AND s.project = ?`
		args = append(args, opts.Project)
	}
	if opts.Type != "" {
		sqlQuery += ` AND o.type = ?`
		args = append(args, string(opts.Type))
	}
	sqlQuery += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer rows.Close()

	hits := []LexicalHit{}
	for rows.Next() {
		var hit LexicalHit
		obs, err := scanObservation(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &hit.BM25, &hit.Snippet)...)
		}))
		if err != nil {
			return nil, fmt.Errorf("failed to scan lexical hit: %w", err)
		}
		hit.Observation = obs
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	return hits, nil
}

// scanFunc adapts a closure to rowScanner so extra trailing columns can be scanned alongside an observation.
type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// SanitizeFTS wraps each whitespace-separated term in double quotes so FTS5 operators
// and punctuation in user input are matched literally.
func SanitizeFTS(query string) string {
	words := strings.Fields(query)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " ")
}
