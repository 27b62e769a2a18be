package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteGraphStore implements EntityGraph using SQLite as the backend.
// It shares the database connection opened by Open and does not close it.
type SQLiteGraphStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteGraphStore creates an entity graph over an open database.
func NewSQLiteGraphStore(db *sql.DB) *SQLiteGraphStore {
	return &SQLiteGraphStore{db: db, now: time.Now}
}

const entityColumns = `id, name, entity_type, first_seen_at, last_seen_at, mention_count`

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var firstSeen, lastSeen string
	if err := row.Scan(&e.ID, &e.Name, &e.EntityType, &firstSeen, &lastSeen, &e.MentionCount); err != nil {
		return nil, err
	}
	e.FirstSeenAt = parseTime(firstSeen)
	e.LastSeenAt = parseTime(lastSeen)
	return &e, nil
}

// UpsertEntity creates the entity or increments its mention count when it already exists.
func (s *SQLiteGraphStore) UpsertEntity(ctx context.Context, name, entityType string) (*Entity, error) {
	name = strings.TrimSpace(name)
	entityType = strings.TrimSpace(entityType)
	if name == "" || entityType == "" {
		return nil, fmt.Errorf("%w: entity name and type are required", ErrInvalidInput)
	}

	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, entity_type, first_seen_at, last_seen_at, mention_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(name, entity_type) DO UPDATE SET
			mention_count = mention_count + 1,
			last_seen_at = excluded.last_seen_at
	`, uuid.New().String(), name, entityType, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert entity: %w", err)
	}

	entity, err := scanEntity(s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = ? AND entity_type = ?`, name, entityType))
	if err != nil {
		return nil, fmt.Errorf("failed to read upserted entity: %w", err)
	}
	return entity, nil
}

// GetEntity retrieves an entity by its ID.
func (s *SQLiteGraphStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	entity, err := scanEntity(s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// CreateRelation inserts the edge unless it already exists, then returns the stored edge.
func (s *SQLiteGraphStore) CreateRelation(ctx context.Context, sourceID, targetID, relationship, observationID string) (*EntityRelation, error) {
	relationship = strings.TrimSpace(relationship)
	if sourceID == "" || targetID == "" || relationship == "" {
		return nil, nil
	}

	var endpoints int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE id IN (?, ?)`, sourceID, targetID).Scan(&endpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to check relation endpoints: %w", err)
	}
	want := 2
	if sourceID == targetID {
		want = 1
	}
	if endpoints < want {
		return nil, nil
	}

	var obsID any
	if observationID != "" {
		obsID = observationID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO entity_relations (id, source_id, target_id, relationship, observation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), sourceID, targetID, relationship, obsID, formatTime(s.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create relation: %w", err)
	}

	rel, err := scanRelation(s.db.QueryRowContext(ctx, `
		SELECT `+relationColumns+` FROM entity_relations
		WHERE source_id = ? AND target_id = ? AND relationship = ?
	`, sourceID, targetID, relationship))
	if err != nil {
		return nil, fmt.Errorf("failed to read relation: %w", err)
	}
	return rel, nil
}

const relationColumns = `id, source_id, target_id, relationship, observation_id, created_at`

func scanRelation(row rowScanner) (*EntityRelation, error) {
	var r EntityRelation
	var obsID sql.NullString
	var createdAt string
	if err := row.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Relationship, &obsID, &createdAt); err != nil {
		return nil, err
	}
	r.ObservationID = obsID.String
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

// GetRelationsFor retrieves all edges incident to an entity (both incoming and outgoing).
func (s *SQLiteGraphStore) GetRelationsFor(ctx context.Context, entityID string) ([]*EntityRelation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationColumns+` FROM entity_relations
		WHERE source_id = ? OR target_id = ?
		ORDER BY created_at, id
	`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	relations := []*EntityRelation{}
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		relations = append(relations, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relations: %w", err)
	}
	return relations, nil
}

// TraverseRelations walks the graph breadth-first from entityID.
// The returned ids include the seed and are ordered by discovery.
func (s *SQLiteGraphStore) TraverseRelations(ctx context.Context, entityID string, depth int) ([]string, error) {
	seed, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		return []string{}, nil
	}

	if depth < 1 {
		depth = 1
	}
	if depth > MaxTraverseDepth {
		depth = MaxTraverseDepth
	}

	visited := map[string]bool{entityID: true}
	order := []string{entityID}
	frontier := []string{entityID}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		adjacent, err := s.neighborIDs(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var nextFrontier []string
		for _, currentID := range frontier {
			for _, neighborID := range adjacent[currentID] {
				if visited[neighborID] {
					continue
				}
				if len(order) >= MaxTraverseNodes {
					return order, nil
				}
				visited[neighborID] = true
				order = append(order, neighborID)
				nextFrontier = append(nextFrontier, neighborID)
			}
		}
		frontier = nextFrontier
	}

	return order, nil
}

// neighborIDs returns, for each id in frontier, the ids adjacent to it in either direction.
// One query covers the whole frontier.
func (s *SQLiteGraphStore) neighborIDs(ctx context.Context, frontier []string) (map[string][]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(frontier)), ",")
	args := make([]any, 0, 2*len(frontier))
	for _, id := range frontier {
		args = append(args, id)
	}
	args = append(args, args...)

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id AS from_id, target_id AS to_id FROM entity_relations WHERE source_id IN (`+placeholders+`)
		UNION
		SELECT target_id AS from_id, source_id AS to_id FROM entity_relations WHERE target_id IN (`+placeholders+`)
		ORDER BY from_id, to_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors: %w", err)
	}
	defer rows.Close()

	adjacent := make(map[string][]string, len(frontier))
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan neighbor: %w", err)
		}
		adjacent[from] = append(adjacent[from], to)
	}
	return adjacent, rows.Err()
}

// FindByName searches entity names with full-text matching, falling back to a substring match.
// Any failure degrades to an empty result.
func (s *SQLiteGraphStore) FindByName(ctx context.Context, query string, limit int) ([]*Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []*Entity{}, nil
	}

	entities, err := s.queryEntities(ctx, `
		SELECT e.id, e.name, e.entity_type, e.first_seen_at, e.last_seen_at, e.mention_count
		FROM entities_fts f JOIN entities e ON e.rowid = f.rowid
		WHERE entities_fts MATCH ?
		ORDER BY bm25(entities_fts), e.mention_count DESC
		LIMIT ?
	`, SanitizeFTS(query), limit)
	if err == nil && len(entities) > 0 {
		return entities, nil
	}

	entities, err = s.queryEntities(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE name LIKE ? ESCAPE '\'
		ORDER BY mention_count DESC, name
		LIMIT ?
	`, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return []*Entity{}, nil
	}
	return entities, nil
}

func (s *SQLiteGraphStore) queryEntities(ctx context.Context, query string, args ...any) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := []*Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// LinkObservation records that an observation mentions an entity. Re-linking is a no-op.
func (s *SQLiteGraphStore) LinkObservation(ctx context.Context, observationID, entityID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO observation_entities (observation_id, entity_id) VALUES (?, ?)
	`, observationID, entityID)
	if err != nil {
		return fmt.Errorf("failed to link observation: %w", err)
	}
	return nil
}

// GetObservationsForEntity returns the ids of observations linked to an entity.
func (s *SQLiteGraphStore) GetObservationsForEntity(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT observation_id FROM observation_entities WHERE entity_id = ? ORDER BY observation_id
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked observations: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan observation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountEntities returns the total number of entities in the graph.
func (s *SQLiteGraphStore) CountEntities(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return count, nil
}

// CountRelations returns the total number of relations in the graph.
func (s *SQLiteGraphStore) CountRelations(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entity_relations").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count relations: %w", err)
	}
	return count, nil
}

// PruneOrphanEntities deletes entities that have no observation links and no relations.
// With dryRun set, it only counts them.
func (s *SQLiteGraphStore) PruneOrphanEntities(ctx context.Context, dryRun bool) (int64, error) {
	orphans := `
		FROM entities e
		WHERE NOT EXISTS (SELECT 1 FROM observation_entities l WHERE l.entity_id = e.id)
		  AND NOT EXISTS (SELECT 1 FROM entity_relations r WHERE r.source_id = e.id OR r.target_id = e.id)`

	if dryRun {
		var count int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+orphans).Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to count orphan entities: %w", err)
		}
		return count, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id IN (SELECT e.id `+orphans+`)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune orphan entities: %w", err)
	}
	return res.RowsAffected()
}
