package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dan-solli/mnemo/pkg/store"
)

// ExportVersion is the document version written by Export and accepted by Import.
const ExportVersion = 1

// ExportScope selects which rows an export carries.
type ExportScope string

const (
	// ScopeCurrent exports current observations only.
	ScopeCurrent ExportScope = "current"
	// ScopeAll also exports superseded and tombstoned rows so lineage survives a round trip.
	ScopeAll ExportScope = "all"
)

// Valid reports whether s is a known scope.
func (s ExportScope) Valid() bool {
	return s == ScopeCurrent || s == ScopeAll
}

// ExportDocument is the versioned bulk exchange format.
type ExportDocument struct {
	Version      int                  `json:"version"`
	ExportedAt   time.Time            `json:"exportedAt"`
	Project      string               `json:"project"`
	Observations []*store.Observation `json:"observations"`
	Summaries    []*store.Summary     `json:"summaries"`
}

// ImportCounts reports what an import did with one kind of record.
type ImportCounts struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

func (c *ImportCounts) add(o store.UpsertOutcome) {
	switch o {
	case store.UpsertInserted:
		c.Imported++
	case store.UpsertUpdated:
		c.Updated++
	default:
		c.Skipped++
	}
}

// ImportReport is the per-kind result of Import.
type ImportReport struct {
	Observations ImportCounts `json:"observations"`
	Summaries    ImportCounts `json:"summaries"`
}

const exportPageSize = 500

// Export serializes the observations matching opts and the project's summaries.
// opts.Project is required; opts.IncludeArchived is set from scope.
func (e *Engine) Export(ctx context.Context, scope ExportScope, opts store.ListOptions) (_ *ExportDocument, err error) {
	op := e.begin("export")
	defer func() { err = e.finish(ctx, op, err) }()

	if scope == "" {
		scope = ScopeCurrent
	}
	if !scope.Valid() {
		return nil, NewValidationError("unknown export scope %q", scope)
	}
	if err := requireProject(opts.Project); err != nil {
		return nil, err
	}
	opts.IncludeArchived = scope == ScopeAll
	opts.Limit = exportPageSize

	doc := &ExportDocument{
		Version:      ExportVersion,
		ExportedAt:   time.Now().UTC(),
		Project:      opts.Project,
		Observations: []*store.Observation{},
	}
	for offset := 0; ; offset += exportPageSize {
		opts.Offset = offset
		page, err := e.records.ListByProject(ctx, opts)
		if err != nil {
			return nil, err
		}
		doc.Observations = append(doc.Observations, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	doc.Summaries, err = e.records.AllSummaries(ctx, opts.Project)
	if err != nil {
		return nil, err
	}

	op.SetID("observations", len(doc.Observations))
	op.SetID("summaries", len(doc.Summaries))
	return doc, nil
}

// Import writes doc into project (doc.Project when project is empty) in one transaction.
// Any invalid record rolls the whole import back.
func (e *Engine) Import(ctx context.Context, project string, doc *ExportDocument, mode store.ImportMode) (_ *ImportReport, err error) {
	op := e.begin("import")
	defer func() { err = e.finish(ctx, op, err) }()

	if doc == nil {
		return nil, NewValidationError("import document is required")
	}
	if doc.Version != ExportVersion {
		return nil, NewValidationError("unsupported export version %d (want %d)", doc.Version, ExportVersion)
	}
	if mode == "" {
		mode = store.ImportSkipDuplicates
	}
	if !mode.Valid() {
		return nil, NewValidationError("unknown import mode %q", mode)
	}
	if project == "" {
		project = doc.Project
	}
	if err := requireProject(project); err != nil {
		return nil, err
	}

	tx, err := e.records.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	report := &ImportReport{}
	var written []*store.Observation
	for i, obs := range doc.Observations {
		if obs == nil {
			return nil, NewValidationError("observation %d is null", i)
		}
		outcome, err := e.records.UpsertObservation(ctx, tx, project, obs, mode)
		if err != nil {
			return nil, importError("observation", i, err)
		}
		report.Observations.add(outcome)
		if outcome != store.UpsertSkipped {
			obs.Project = project
			written = append(written, obs)
		}
	}
	for i, sum := range doc.Summaries {
		if sum == nil {
			return nil, NewValidationError("summary %d is null", i)
		}
		outcome, err := e.records.UpsertSummary(ctx, tx, project, sum, mode)
		if err != nil {
			return nil, importError("summary", i, err)
		}
		report.Summaries.add(outcome)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for _, obs := range written {
		if obs.IsCurrent() {
			e.ingest.enqueue(obs)
		} else {
			e.dropVector(ctx, obs.ID)
		}
	}
	e.refreshStorageCounts(ctx)

	op.SetID("observations_imported", report.Observations.Imported)
	op.SetID("observations_updated", report.Observations.Updated)
	return report, nil
}

func importError(kind string, index int, err error) error {
	var code Code
	switch {
	case errors.Is(err, store.ErrConflict):
		code = CodeConflict
	case errors.Is(err, store.ErrInvalidInput):
		code = CodeValidation
	default:
		return err
	}
	return &Error{
		Code:    code,
		Message: err.Error(),
		Details: map[string]any{"kind": kind, "index": index},
		Err:     err,
	}
}
