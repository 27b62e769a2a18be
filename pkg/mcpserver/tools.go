package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dan-solli/mnemo/pkg/config"
	"github.com/dan-solli/mnemo/pkg/engine"
	"github.com/dan-solli/mnemo/pkg/search"
	"github.com/dan-solli/mnemo/pkg/store"
)

// Tools holds the engine the tool handlers call.
type Tools struct {
	Engine *engine.Engine
}

// --- Input types ---

type SaveObservationInput struct {
	Project       string   `json:"project" jsonschema:"Project the observation belongs to"`
	SessionID     string   `json:"session_id" jsonschema:"Session that produced the observation; created when missing"`
	Type          string   `json:"type" jsonschema:"One of decision, bugfix, feature, refactor, discovery, change"`
	Title         string   `json:"title" jsonschema:"Short title"`
	Subtitle      string   `json:"subtitle,omitempty" jsonschema:"One-line subtitle"`
	Narrative     string   `json:"narrative,omitempty" jsonschema:"Full description"`
	Facts         []string `json:"facts,omitempty" jsonschema:"Standalone facts"`
	Concepts      []string `json:"concepts,omitempty" jsonschema:"Concept tags"`
	FilesRead     []string `json:"files_read,omitempty" jsonschema:"Files read while working"`
	FilesModified []string `json:"files_modified,omitempty" jsonschema:"Files modified while working"`
	ToolName      string   `json:"tool_name,omitempty" jsonschema:"Tool that produced the observation"`
	Importance    int      `json:"importance,omitempty" jsonschema:"Importance from 1 to 5 (default 3)"`
}

type ReviseObservationInput struct {
	Project    string    `json:"project" jsonschema:"Project of the observation"`
	ID         string    `json:"id" jsonschema:"Current observation id to revise"`
	Type       *string   `json:"type,omitempty" jsonschema:"New type"`
	Title      *string   `json:"title,omitempty" jsonschema:"New title"`
	Subtitle   *string   `json:"subtitle,omitempty" jsonschema:"New subtitle"`
	Narrative  *string   `json:"narrative,omitempty" jsonschema:"New narrative"`
	Facts      *[]string `json:"facts,omitempty" jsonschema:"Replacement facts"`
	Concepts   *[]string `json:"concepts,omitempty" jsonschema:"Replacement concepts"`
	Importance *int      `json:"importance,omitempty" jsonschema:"New importance from 1 to 5"`
}

type ObservationRefInput struct {
	Project string `json:"project" jsonschema:"Project of the observation"`
	ID      string `json:"id" jsonschema:"Observation id"`
}

type GetObservationInput struct {
	Project         string `json:"project" jsonschema:"Project of the observation"`
	ID              string `json:"id" jsonschema:"Observation id"`
	IncludeArchived bool   `json:"include_archived,omitempty" jsonschema:"Also return superseded or deleted rows"`
}

type ListObservationsInput struct {
	Project         string `json:"project" jsonschema:"Project to list"`
	Type            string `json:"type,omitempty" jsonschema:"Only this observation type"`
	SessionID       string `json:"session_id,omitempty" jsonschema:"Only this session"`
	IncludeArchived bool   `json:"include_archived,omitempty" jsonschema:"Include superseded and deleted rows"`
	Limit           int    `json:"limit,omitempty" jsonschema:"Page size (default 50, max 500)"`
	Offset          int    `json:"offset,omitempty" jsonschema:"Rows to skip"`
}

type RevisionDiffInput struct {
	Project string `json:"project" jsonschema:"Project of the observations"`
	ID      string `json:"id" jsonschema:"Observation id"`
	Against string `json:"against,omitempty" jsonschema:"Observation id to compare with; defaults to the previous revision"`
}

type SearchInput struct {
	Project       string   `json:"project" jsonschema:"Project to search"`
	Query         string   `json:"query" jsonschema:"Search text"`
	Type          string   `json:"type,omitempty" jsonschema:"Only this observation type"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Maximum results"`
	MinImportance int      `json:"min_importance,omitempty" jsonschema:"Minimum importance"`
	MaxImportance int      `json:"max_importance,omitempty" jsonschema:"Maximum importance"`
	Since         string   `json:"since,omitempty" jsonschema:"RFC 3339 lower bound on creation time"`
	Until         string   `json:"until,omitempty" jsonschema:"RFC 3339 upper bound on creation time"`
	Concepts      []string `json:"concepts,omitempty" jsonschema:"Require one of these concepts"`
	Files         []string `json:"files,omitempty" jsonschema:"Require one of these files"`
}

type SaveSummaryInput struct {
	Project      string `json:"project" jsonschema:"Project of the session"`
	SessionID    string `json:"session_id" jsonschema:"Session being summarized"`
	Request      string `json:"request,omitempty" jsonschema:"What was asked"`
	Investigated string `json:"investigated,omitempty" jsonschema:"What was investigated"`
	Learned      string `json:"learned,omitempty" jsonschema:"What was learned"`
	Completed    string `json:"completed,omitempty" jsonschema:"What was completed"`
	NextSteps    string `json:"next_steps,omitempty" jsonschema:"What comes next"`
	Notes        string `json:"notes,omitempty" jsonschema:"Anything else"`
}

type ExportInput struct {
	Project string `json:"project" jsonschema:"Project to export"`
	Scope   string `json:"scope,omitempty" jsonschema:"current (default) or all to include history"`
}

type ImportInput struct {
	Project  string `json:"project,omitempty" jsonschema:"Target project; defaults to the document's project"`
	Document string `json:"document" jsonschema:"Export document as JSON text"`
	Mode     string `json:"mode,omitempty" jsonschema:"skip-duplicates (default) or overwrite"`
}

type PatchConfigInput struct {
	Patch map[string]any `json:"patch" jsonschema:"Settings to change, keyed by snake_case patch key"`
}

type LimitInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum entries (default all)"`
}

type RollbackConfigInput struct {
	EventID string `json:"event_id" jsonschema:"Audit event to undo"`
}

type RunMaintenanceInput struct {
	Action string `json:"action" jsonschema:"optimize, rebuild-index, prune-entities or reembed"`
	DryRun bool   `json:"dry_run,omitempty" jsonschema:"Only report what would change"`
}

type UpsertEntityInput struct {
	Name string `json:"name" jsonschema:"Entity name"`
	Type string `json:"type" jsonschema:"Entity type (concept, file, tool, ...)"`
}

type CreateRelationInput struct {
	SourceID      string `json:"source_id" jsonschema:"Source entity id"`
	TargetID      string `json:"target_id" jsonschema:"Target entity id"`
	Relationship  string `json:"relationship" jsonschema:"Relation name in active voice (relates_to, touched, ...)"`
	ObservationID string `json:"observation_id,omitempty" jsonschema:"Observation asserting the relation"`
}

type TraverseInput struct {
	EntityID string `json:"entity_id" jsonschema:"Entity to start from"`
	Depth    int    `json:"depth,omitempty" jsonschema:"Hops to follow (1 or 2, default 1)"`
}

// --- Handlers ---

func (t *Tools) SaveObservation(ctx context.Context, _ *mcp.CallToolRequest, in SaveObservationInput) (*mcp.CallToolResult, any, error) {
	obs, err := t.Engine.Save(ctx, in.Project, &store.Observation{
		SessionID:     in.SessionID,
		Type:          store.ObservationType(in.Type),
		Title:         in.Title,
		Subtitle:      in.Subtitle,
		Narrative:     in.Narrative,
		Facts:         in.Facts,
		Concepts:      in.Concepts,
		FilesRead:     in.FilesRead,
		FilesModified: in.FilesModified,
		ToolName:      in.ToolName,
		Importance:    in.Importance,
	})
	return result(obs, err)
}

func (t *Tools) ReviseObservation(ctx context.Context, _ *mcp.CallToolRequest, in ReviseObservationInput) (*mcp.CallToolResult, any, error) {
	patch := store.ObservationPatch{
		Title:      in.Title,
		Subtitle:   in.Subtitle,
		Narrative:  in.Narrative,
		Facts:      in.Facts,
		Concepts:   in.Concepts,
		Importance: in.Importance,
	}
	if in.Type != nil {
		typ := store.ObservationType(*in.Type)
		patch.Type = &typ
	}
	next, err := t.Engine.Revise(ctx, in.Project, in.ID, patch)
	return result(next, err)
}

func (t *Tools) DeleteObservation(ctx context.Context, _ *mcp.CallToolRequest, in ObservationRefInput) (*mcp.CallToolResult, any, error) {
	deleted, err := t.Engine.Tombstone(ctx, in.Project, in.ID)
	return result(map[string]any{"id": in.ID, "deleted": deleted}, err)
}

func (t *Tools) GetObservation(ctx context.Context, _ *mcp.CallToolRequest, in GetObservationInput) (*mcp.CallToolResult, any, error) {
	get := t.Engine.Get
	if in.IncludeArchived {
		get = t.Engine.GetIncludingArchived
	}
	obs, err := get(ctx, in.Project, in.ID)
	if err == nil && obs == nil {
		err = engine.NewNotFoundError("observation", in.ID)
	}
	return result(obs, err)
}

func (t *Tools) ListObservations(ctx context.Context, _ *mcp.CallToolRequest, in ListObservationsInput) (*mcp.CallToolResult, any, error) {
	items, err := t.Engine.ListByProject(ctx, store.ListOptions{
		Project:         in.Project,
		Type:            store.ObservationType(in.Type),
		SessionID:       in.SessionID,
		IncludeArchived: in.IncludeArchived,
		Limit:           in.Limit,
		Offset:          in.Offset,
	})
	return result(items, err)
}

func (t *Tools) GetLineage(ctx context.Context, _ *mcp.CallToolRequest, in ObservationRefInput) (*mcp.CallToolResult, any, error) {
	nodes, err := t.Engine.GetLineage(ctx, in.Project, in.ID)
	if err == nil && nodes == nil {
		err = engine.NewNotFoundError("observation", in.ID)
	}
	return result(nodes, err)
}

func (t *Tools) GetRevisionDiff(ctx context.Context, _ *mcp.CallToolRequest, in RevisionDiffInput) (*mcp.CallToolResult, any, error) {
	diff, err := t.Engine.GetRevisionDiff(ctx, in.Project, in.ID, in.Against)
	if err == nil && diff == nil {
		err = engine.NewNotFoundError("observation", in.ID)
	}
	return result(diff, err)
}

func (t *Tools) Search(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	f := search.Filters{
		Project:       in.Project,
		Type:          store.ObservationType(in.Type),
		Limit:         in.Limit,
		MinImportance: in.MinImportance,
		MaxImportance: in.MaxImportance,
		Concepts:      in.Concepts,
		Files:         in.Files,
	}
	var err error
	if f.Since, err = parseTime("since", in.Since); err != nil {
		return result(nil, err)
	}
	if f.Until, err = parseTime("until", in.Until); err != nil {
		return result(nil, err)
	}
	results, err := t.Engine.Search(ctx, in.Query, f)
	return result(results, err)
}

func (t *Tools) SaveSummary(ctx context.Context, _ *mcp.CallToolRequest, in SaveSummaryInput) (*mcp.CallToolResult, any, error) {
	sum, err := t.Engine.SaveSummary(ctx, in.Project, &store.Summary{
		SessionID:    in.SessionID,
		Request:      in.Request,
		Investigated: in.Investigated,
		Learned:      in.Learned,
		Completed:    in.Completed,
		NextSteps:    in.NextSteps,
		Notes:        in.Notes,
	})
	return result(sum, err)
}

func (t *Tools) Export(ctx context.Context, _ *mcp.CallToolRequest, in ExportInput) (*mcp.CallToolResult, any, error) {
	doc, err := t.Engine.Export(ctx, engine.ExportScope(in.Scope), store.ListOptions{Project: in.Project})
	return result(doc, err)
}

func (t *Tools) Import(ctx context.Context, _ *mcp.CallToolRequest, in ImportInput) (*mcp.CallToolResult, any, error) {
	var doc engine.ExportDocument
	if err := json.Unmarshal([]byte(in.Document), &doc); err != nil {
		return result(nil, engine.NewValidationError("document is not a valid export: %v", err))
	}
	report, err := t.Engine.Import(ctx, in.Project, &doc, store.ImportMode(in.Mode))
	return result(report, err)
}

func (t *Tools) PatchConfig(ctx context.Context, _ *mcp.CallToolRequest, in PatchConfigInput) (*mcp.CallToolResult, any, error) {
	raw, err := json.Marshal(in.Patch)
	if err != nil {
		return result(nil, engine.NewValidationError("invalid patch: %v", err))
	}
	patch, err := config.DecodePatch(raw)
	if err != nil {
		return result(nil, err)
	}
	event, err := t.Engine.PatchConfig(ctx, patch, store.SourceAPI)
	return result(event, err)
}

func (t *Tools) ConfigAuditTimeline(ctx context.Context, _ *mcp.CallToolRequest, in LimitInput) (*mcp.CallToolResult, any, error) {
	events, err := t.Engine.GetConfigAuditTimeline(ctx, in.Limit)
	return result(events, err)
}

func (t *Tools) RollbackConfig(ctx context.Context, _ *mcp.CallToolRequest, in RollbackConfigInput) (*mcp.CallToolResult, any, error) {
	event, err := t.Engine.RollbackConfig(ctx, in.EventID)
	return result(event, err)
}

func (t *Tools) RunMaintenance(ctx context.Context, _ *mcp.CallToolRequest, in RunMaintenanceInput) (*mcp.CallToolResult, any, error) {
	item, err := t.Engine.RunMaintenance(ctx, in.Action, in.DryRun)
	return result(item, err)
}

func (t *Tools) MaintenanceHistory(ctx context.Context, _ *mcp.CallToolRequest, in LimitInput) (*mcp.CallToolResult, any, error) {
	items, err := t.Engine.GetMaintenanceHistory(ctx, in.Limit)
	return result(items, err)
}

func (t *Tools) UpsertEntity(ctx context.Context, _ *mcp.CallToolRequest, in UpsertEntityInput) (*mcp.CallToolResult, any, error) {
	ent, err := t.Engine.UpsertEntity(ctx, in.Name, in.Type)
	return result(ent, err)
}

func (t *Tools) CreateRelation(ctx context.Context, _ *mcp.CallToolRequest, in CreateRelationInput) (*mcp.CallToolResult, any, error) {
	rel, err := t.Engine.CreateRelation(ctx, in.SourceID, in.TargetID, in.Relationship, in.ObservationID)
	return result(rel, err)
}

func (t *Tools) TraverseRelations(ctx context.Context, _ *mcp.CallToolRequest, in TraverseInput) (*mcp.CallToolResult, any, error) {
	nodes, err := t.Engine.TraverseRelations(ctx, in.EntityID, in.Depth)
	return result(nodes, err)
}

// --- Helpers ---

func parseTime(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, engine.NewValidationError("%s must be an RFC 3339 timestamp", name)
	}
	return &ts, nil
}

// result renders v as JSON text, or err as an IsError result carrying "[CODE] message".
func result(v any, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		e := engine.AsError(err)
		return toolError("[%s] %s", e.Code, e.Message), nil, nil
	}
	return toolJSON(v)
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("[%s] failed to marshal result: %v", engine.CodeInternal, err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
