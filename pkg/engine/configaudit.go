package engine

import (
	"context"

	"github.com/dan-solli/mnemo/pkg/config"
	"github.com/dan-solli/mnemo/pkg/store"
)

// TrackConfigAudit appends event to the configuration ledger as is.
func (e *Engine) TrackConfigAudit(ctx context.Context, event *store.ConfigAuditEvent) (err error) {
	op := e.begin("track_config_audit")
	defer func() { err = e.finish(ctx, op, err) }()

	if event == nil {
		return NewValidationError("audit event is required")
	}
	if event.Source == "" {
		event.Source = store.SourceAPI
	}
	return e.configLedger.Append(ctx, event)
}

// PatchConfig applies patch to the live configuration and records it with source.
func (e *Engine) PatchConfig(ctx context.Context, patch config.Patch, source store.ConfigAuditSource) (_ *store.ConfigAuditEvent, err error) {
	op := e.begin("patch_config")
	defer func() { err = e.finish(ctx, op, err) }()

	if source == "" {
		source = store.SourceAPI
	}
	return e.applyAndRecord(ctx, patch, source)
}

// ApplyMode applies the named preset as a patch with source "mode".
func (e *Engine) ApplyMode(ctx context.Context, name string) (_ *store.ConfigAuditEvent, err error) {
	op := e.begin("apply_mode")
	defer func() { err = e.finish(ctx, op, err) }()

	patch, err := config.Mode(name)
	if err != nil {
		return nil, err
	}
	op.SetID("mode", name)
	return e.applyAndRecord(ctx, patch, store.SourceMode)
}

func (e *Engine) applyAndRecord(ctx context.Context, patch config.Patch, source store.ConfigAuditSource) (*store.ConfigAuditEvent, error) {
	prev, err := e.cfg.Apply(patch)
	if err != nil {
		return nil, err
	}
	event := &store.ConfigAuditEvent{Patch: patch, PreviousValues: prev, Source: source}
	if err := e.configLedger.Append(ctx, event); err != nil {
		return nil, err
	}
	e.logger.Info("configuration changed", "source", source, "keys", patch.Keys(), "event_id", event.ID)
	return event, nil
}

// GetConfigAuditTimeline returns up to limit ledger events, newest first. limit <= 0 means all.
func (e *Engine) GetConfigAuditTimeline(ctx context.Context, limit int) (_ []*store.ConfigAuditEvent, err error) {
	op := e.begin("config_audit_timeline")
	defer func() { err = e.finish(ctx, op, err) }()

	return e.configLedger.List(ctx, limit)
}

// RollbackConfig re-applies the previous values captured by eventID.
// The attempt is always recorded: source "rollback" on success and
// "rollback-failed" on failure, in which case the failure is returned.
func (e *Engine) RollbackConfig(ctx context.Context, eventID string) (_ *store.ConfigAuditEvent, err error) {
	op := e.begin("rollback_config")
	defer func() { err = e.finish(ctx, op, err) }()
	op.SetID("event_id", eventID)

	original, err := e.configLedger.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, NewNotFoundError("config audit event", eventID)
	}

	record := &store.ConfigAuditEvent{
		Patch:          original.PreviousValues,
		PreviousValues: original.Patch,
		Source:         store.SourceRollback,
	}
	_, applyErr := e.cfg.Apply(original.PreviousValues)
	if applyErr != nil {
		record.Source = store.SourceRollbackFailed
	}
	if err := e.configLedger.Append(ctx, record); err != nil {
		if applyErr != nil {
			return nil, applyErr
		}
		return nil, err
	}
	if applyErr != nil {
		return nil, applyErr
	}

	e.logger.Info("configuration rolled back", "event_id", eventID, "rollback_id", record.ID)
	return record, nil
}
