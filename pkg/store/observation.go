package store

import (
	"context"
	"fmt"
	"time"
)

// ObservationType is the closed set of observation kinds.
type ObservationType string

const (
	TypeDecision  ObservationType = "decision"
	TypeBugfix    ObservationType = "bugfix"
	TypeFeature   ObservationType = "feature"
	TypeRefactor  ObservationType = "refactor"
	TypeDiscovery ObservationType = "discovery"
	TypeChange    ObservationType = "change"
)

// ObservationTypes lists every valid ObservationType in a stable order.
var ObservationTypes = []ObservationType{
	TypeDecision, TypeBugfix, TypeFeature, TypeRefactor, TypeDiscovery, TypeChange,
}

// Valid reports whether t is one of the known observation types.
func (t ObservationType) Valid() bool {
	for _, known := range ObservationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseObservationType converts s into an ObservationType, rejecting unknown values.
func ParseObservationType(s string) (ObservationType, error) {
	t := ObservationType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown observation type %q", ErrInvalidInput, s)
	}
	return t, nil
}

const (
	// DefaultImportance is assigned when an observation is created without one.
	DefaultImportance = 3
	MinImportance     = 1
	MaxImportance     = 5
)

// Observation is the unit of memory.
// Content fields never change after creation; revising produces a new row that points back
// through RevisionOf, and the old row gains SupersededBy / SupersededAt.
type Observation struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"sessionId"`
	Project         string          `json:"project,omitempty"` // derived from the owning session
	Type            ObservationType `json:"type"`
	Title           string          `json:"title"`
	Subtitle        string          `json:"subtitle"`
	Narrative       string          `json:"narrative"`
	Facts           []string        `json:"facts"`
	Concepts        []string        `json:"concepts"`
	FilesRead       []string        `json:"filesRead"`
	FilesModified   []string        `json:"filesModified"`
	RawToolOutput   string          `json:"rawToolOutput,omitempty"`
	ToolName        string          `json:"toolName,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	TokenCount      int             `json:"tokenCount"`
	DiscoveryTokens int             `json:"discoveryTokens"`
	Importance      int             `json:"importance"`
	RevisionOf      *string         `json:"revisionOf"`
	SupersededBy    *string         `json:"supersededBy"`
	SupersededAt    *time.Time      `json:"supersededAt"`
	DeletedAt       *time.Time      `json:"deletedAt"`
}

// IsCurrent reports whether the observation is neither superseded nor tombstoned.
func (o *Observation) IsCurrent() bool {
	return o.SupersededBy == nil && o.DeletedAt == nil
}

// Validate checks the invariants every stored observation must satisfy.
func (o *Observation) Validate() error {
	if o.SessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	if o.Title == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
	}
	if !o.Type.Valid() {
		return fmt.Errorf("%w: unknown observation type %q", ErrInvalidInput, o.Type)
	}
	if o.Importance < MinImportance || o.Importance > MaxImportance {
		return fmt.Errorf("%w: importance must be between %d and %d", ErrInvalidInput, MinImportance, MaxImportance)
	}
	return nil
}

// ObservationPatch carries the content fields of a revision.
// All fields are pointers to distinguish between "not provided" and "set to zero value";
// unset fields are copied from the revised observation.
type ObservationPatch struct {
	Type            *ObservationType `json:"type,omitempty"`
	Title           *string          `json:"title,omitempty"`
	Subtitle        *string          `json:"subtitle,omitempty"`
	Narrative       *string          `json:"narrative,omitempty"`
	Facts           *[]string        `json:"facts,omitempty"`
	Concepts        *[]string        `json:"concepts,omitempty"`
	FilesRead       *[]string        `json:"filesRead,omitempty"`
	FilesModified   *[]string        `json:"filesModified,omitempty"`
	TokenCount      *int             `json:"tokenCount,omitempty"`
	DiscoveryTokens *int             `json:"discoveryTokens,omitempty"`
	Importance      *int             `json:"importance,omitempty"`
}

// applyTo builds the revision of base described by the patch.
func (p ObservationPatch) applyTo(base *Observation) *Observation {
	next := *base
	next.Facts = cloneStrings(base.Facts)
	next.Concepts = cloneStrings(base.Concepts)
	next.FilesRead = cloneStrings(base.FilesRead)
	next.FilesModified = cloneStrings(base.FilesModified)

	if p.Type != nil {
		next.Type = *p.Type
	}
	if p.Title != nil {
		next.Title = *p.Title
	}
	if p.Subtitle != nil {
		next.Subtitle = *p.Subtitle
	}
	if p.Narrative != nil {
		next.Narrative = *p.Narrative
	}
	if p.Facts != nil {
		next.Facts = cloneStrings(*p.Facts)
	}
	if p.Concepts != nil {
		next.Concepts = cloneStrings(*p.Concepts)
	}
	if p.FilesRead != nil {
		next.FilesRead = cloneStrings(*p.FilesRead)
	}
	if p.FilesModified != nil {
		next.FilesModified = cloneStrings(*p.FilesModified)
	}
	if p.TokenCount != nil {
		next.TokenCount = *p.TokenCount
	}
	if p.DiscoveryTokens != nil {
		next.DiscoveryTokens = *p.DiscoveryTokens
	}
	if p.Importance != nil {
		next.Importance = *p.Importance
	}
	return &next
}

// IsEmpty reports whether the patch changes nothing.
func (p ObservationPatch) IsEmpty() bool {
	return p == ObservationPatch{}
}

// IndexEntry is the lightweight per-project listing row.
type IndexEntry struct {
	ID         string          `json:"id"`
	Type       ObservationType `json:"type"`
	Title      string          `json:"title"`
	TokenCount int             `json:"tokenCount"`
	Importance int             `json:"importance"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ListOptions provides pagination and filtering for observation listing.
type ListOptions struct {
	Project         string
	Type            ObservationType
	SessionID       string
	IncludeArchived bool // include superseded and tombstoned rows
	Since           *time.Time
	Until           *time.Time
	Offset          int
	Limit           int // Default 50, max 500
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (o ListOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return defaultListLimit
	case o.Limit > maxListLimit:
		return maxListLimit
	default:
		return o.Limit
	}
}

// SessionStatus tracks whether a session is still producing observations.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session groups the observations captured during one assistant session.
type Session struct {
	ID        string        `json:"id"`
	Project   string        `json:"project"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   *time.Time    `json:"endedAt"`
	Status    SessionStatus `json:"status"`
}

// Summary is the end-of-session digest an assistant writes about its work.
type Summary struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Project      string    `json:"project,omitempty"`
	Request      string    `json:"request"`
	Investigated string    `json:"investigated"`
	Learned      string    `json:"learned"`
	Completed    string    `json:"completed"`
	NextSteps    string    `json:"nextSteps"`
	Notes        string    `json:"notes"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ImportMode selects how imported rows with an existing id are treated.
type ImportMode string

const (
	ImportSkipDuplicates ImportMode = "skip-duplicates"
	ImportOverwrite      ImportMode = "overwrite"
)

// Valid reports whether m is a supported import mode.
func (m ImportMode) Valid() bool {
	return m == ImportSkipDuplicates || m == ImportOverwrite
}

// UpsertOutcome reports what an import upsert did with one row.
type UpsertOutcome int

const (
	UpsertInserted UpsertOutcome = iota
	UpsertUpdated
	UpsertSkipped
)

// RecordStore defines the persistence operations for observations, sessions and summaries.
type RecordStore interface {
	// Create inserts a new observation. ID, CreatedAt and Importance are defaulted when unset.
	Create(ctx context.Context, obs *Observation) error

	// Revise atomically inserts the revision of id and marks id superseded by it.
	// Returns ErrNotFound when id is unknown or outside project, and ErrConflict when
	// id is already superseded or tombstoned.
	Revise(ctx context.Context, project, id string, patch ObservationPatch) (*Observation, error)

	// Tombstone marks id deleted. Returns false when id is unknown, outside project or already deleted.
	Tombstone(ctx context.Context, project, id string) (bool, error)

	// GetByID returns the current view of id: (nil, nil) when missing, superseded or tombstoned.
	GetByID(ctx context.Context, id string) (*Observation, error)

	// GetByIDIncludingArchived returns id regardless of lineage state, or (nil, nil).
	GetByIDIncludingArchived(ctx context.Context, id string) (*Observation, error)

	// ListByProject returns observations newest first.
	ListByProject(ctx context.Context, opts ListOptions) ([]*Observation, error)

	// GetIndex returns the lightweight index of current observations in project, newest first.
	GetIndex(ctx context.Context, project string, limit int) ([]IndexEntry, error)

	// ProjectOf returns the project owning id, or "" when id is unknown.
	ProjectOf(ctx context.Context, id string) (string, error)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
