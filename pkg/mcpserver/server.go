// Package mcpserver exposes the engine as Model Context Protocol tools.
package mcpserver

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dan-solli/mnemo/pkg/engine"
)

// New creates an MCP server with every mnemo tool registered.
func New(eng *engine.Engine, version string) *mcp.Server {
	t := &Tools{Engine: eng}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "mnemo",
		Version: version,
	}, nil)

	// Observations
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "save_observation",
		Description: "Save a new observation (decision, bugfix, feature, refactor, discovery, change) in a project",
	}, t.SaveObservation)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "revise_observation",
		Description: "Revise an observation; the old row is kept as superseded history",
	}, t.ReviseObservation)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "delete_observation",
		Description: "Tombstone an observation so it leaves search and listings",
	}, t.DeleteObservation)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_observation",
		Description: "Get one observation by id, optionally including superseded or deleted rows",
	}, t.GetObservation)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_observations",
		Description: "List observations of a project, newest first",
	}, t.ListObservations)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_lineage",
		Description: "Get the full revision chain containing an observation, oldest first",
	}, t.GetLineage)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_revision_diff",
		Description: "Compare two revisions field by field; without against, compares with the previous revision",
	}, t.GetRevisionDiff)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search",
		Description: "Rank current observations of a project by full-text and (when enabled) semantic similarity",
	}, t.Search)

	// Sessions
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "save_summary",
		Description: "Store the end-of-session summary of a session",
	}, t.SaveSummary)

	// Bulk exchange
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "export",
		Description: "Export a project's observations and summaries as a versioned JSON document",
	}, t.Export)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "import",
		Description: "Import an export document (skip-duplicates or overwrite) in one transaction",
	}, t.Import)

	// Configuration and maintenance
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "patch_config",
		Description: "Change runtime settings; the change is recorded in the audit ledger",
	}, t.PatchConfig)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "config_audit_timeline",
		Description: "List configuration changes, newest first",
	}, t.ConfigAuditTimeline)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "rollback_config",
		Description: "Undo a configuration change by re-applying its previous values",
	}, t.RollbackConfig)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "run_maintenance",
		Description: "Run a maintenance action (optimize, rebuild-index, prune-entities, reembed)",
	}, t.RunMaintenance)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "maintenance_history",
		Description: "List maintenance runs, newest first",
	}, t.MaintenanceHistory)

	// Entity graph
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "upsert_entity",
		Description: "Create an entity or bump its mention count",
	}, t.UpsertEntity)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "create_relation",
		Description: "Create a directed relation between two entities",
	}, t.CreateRelation)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "traverse_relations",
		Description: "List entities reachable from an entity within depth hops (max 2)",
	}, t.TraverseRelations)

	return srv
}
