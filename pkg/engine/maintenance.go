package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dan-solli/mnemo/pkg/store"
)

// Maintenance action names.
const (
	ActionOptimize      = "optimize"
	ActionRebuildIndex  = "rebuild-index"
	ActionPruneEntities = "prune-entities"
	ActionReembed       = "reembed"
)

type maintenanceFunc func(ctx context.Context, e *Engine, dryRun bool) (map[string]any, error)

var maintenanceActions = map[string]maintenanceFunc{
	ActionOptimize:      runOptimize,
	ActionRebuildIndex:  runRebuildIndex,
	ActionPruneEntities: runPruneEntities,
	ActionReembed:       runReembed,
}

// MaintenanceActions lists the supported action names, sorted.
func MaintenanceActions() []string {
	names := make([]string, 0, len(maintenanceActions))
	for name := range maintenanceActions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunMaintenance executes action and records its result in the maintenance ledger.
// With dryRun set, the action only reports what it would do.
func (e *Engine) RunMaintenance(ctx context.Context, action string, dryRun bool) (_ *store.MaintenanceHistoryItem, err error) {
	op := e.begin("maintenance")
	defer func() { err = e.finish(ctx, op, err) }()
	op.SetID("action", action)

	run, ok := maintenanceActions[action]
	if !ok {
		return nil, &Error{
			Code:    CodeValidation,
			Message: fmt.Sprintf("unknown maintenance action %q", action),
			Details: map[string]any{"actions": MaintenanceActions()},
		}
	}

	span := op.Span(action)
	result, err := run(ctx, e, dryRun)
	span.Finish(err, nil)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode maintenance result: %w", err)
	}
	item := &store.MaintenanceHistoryItem{Action: action, DryRun: dryRun, Result: raw}
	if err := e.maintLedger.Append(ctx, item); err != nil {
		return nil, err
	}
	e.refreshStorageCounts(ctx)

	e.logger.Info("maintenance finished", "action", action, "dry_run", dryRun, "result", string(raw))
	return item, nil
}

// TrackMaintenanceResult appends item to the maintenance ledger as is.
func (e *Engine) TrackMaintenanceResult(ctx context.Context, item *store.MaintenanceHistoryItem) (err error) {
	op := e.begin("track_maintenance_result")
	defer func() { err = e.finish(ctx, op, err) }()

	if item == nil || item.Action == "" {
		return NewValidationError("maintenance action is required")
	}
	return e.maintLedger.Append(ctx, item)
}

// GetMaintenanceHistory returns up to limit ledger items, newest first. limit <= 0 means all.
func (e *Engine) GetMaintenanceHistory(ctx context.Context, limit int) (_ []*store.MaintenanceHistoryItem, err error) {
	op := e.begin("maintenance_history")
	defer func() { err = e.finish(ctx, op, err) }()

	return e.maintLedger.List(ctx, limit)
}

func runOptimize(ctx context.Context, e *Engine, dryRun bool) (map[string]any, error) {
	count, err := e.records.CountObservations(ctx, "")
	if err != nil {
		return nil, err
	}
	if !dryRun {
		if err := store.Optimize(ctx, e.db); err != nil {
			return nil, err
		}
	}
	return map[string]any{"observations": count, "optimized": !dryRun}, nil
}

func runRebuildIndex(ctx context.Context, e *Engine, dryRun bool) (map[string]any, error) {
	count, err := e.records.CountObservations(ctx, "")
	if err != nil {
		return nil, err
	}
	entities, err := e.graph.CountEntities(ctx)
	if err != nil {
		return nil, err
	}
	if !dryRun {
		if err := store.RebuildLexicalIndex(ctx, e.db); err != nil {
			return nil, err
		}
	}
	return map[string]any{"observations": count, "entities": entities, "rebuilt": !dryRun}, nil
}

func runPruneEntities(ctx context.Context, e *Engine, dryRun bool) (map[string]any, error) {
	n, err := e.graph.PruneOrphanEntities(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	key := "pruned"
	if dryRun {
		key = "orphans"
	}
	return map[string]any{key: n}, nil
}

// runReembed embeds every current observation that has no stored vector.
func runReembed(ctx context.Context, e *Engine, dryRun bool) (map[string]any, error) {
	enabled := e.cfg.Current().Embeddings.Enabled
	if !enabled && !dryRun {
		return nil, &Error{Code: CodeValidation, Message: errEmbeddingsDisabled.Error(), Err: errEmbeddingsDisabled}
	}

	var missing []*store.Observation
	opts := store.ListOptions{Limit: exportPageSize}
	for offset := 0; ; offset += exportPageSize {
		opts.Offset = offset
		page, err := e.records.ListByProject(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, obs := range page {
			has, err := e.vectors.Has(ctx, obs.ID)
			if err != nil {
				return nil, err
			}
			if !has {
				missing = append(missing, obs)
			}
		}
		if len(page) < exportPageSize {
			break
		}
	}

	result := map[string]any{"missing": len(missing), "embedded": 0, "failed": 0}
	if dryRun {
		return result, nil
	}

	embedded, failed := 0, 0
	for _, obs := range missing {
		ok, err := e.embedObservation(ctx, obs)
		switch {
		case err != nil:
			failed++
			e.logger.Warn("failed to re-embed observation", "observation_id", obs.ID, "error", err)
		case ok:
			embedded++
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	result["embedded"], result["failed"] = embedded, failed
	return result, nil
}
