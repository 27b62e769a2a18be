package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/mnemo/pkg/config"
	"github.com/dan-solli/mnemo/pkg/engine"
	"github.com/dan-solli/mnemo/pkg/store"
)

func setupSession(t *testing.T) (*engine.Engine, *mcp.ClientSession) {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Storage.Path = ":memory:"
	eng, err := engine.New(engine.Options{
		Config:          config.NewStaticManager(cfg, nil),
		Vectors:         store.NewMemoryVectorStore(),
		InMemoryLedgers: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, eng.Close()) })

	srv := New(eng, "test")
	serverT, clientT := mcp.NewInMemoryTransports()
	_, err = srv.Connect(ctx, serverT, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return eng, session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err, "CallTool(%s)", name)
	require.NotEmpty(t, result.Content)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func callOK[T any](t *testing.T, session *mcp.ClientSession, name string, args map[string]any) T {
	t.Helper()
	result := callTool(t, session, name, args)
	require.False(t, result.IsError, "%s failed: %s", name, resultText(t, result))

	var out T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	return out
}

func saveArgs(title string) map[string]any {
	return map[string]any{
		"project":    "alpha",
		"session_id": "s1",
		"type":       "decision",
		"title":      title,
		"narrative":  "chose sqlite for local storage",
		"concepts":   []string{"sqlite"},
	}
}

func TestListTools(t *testing.T) {
	_, session := setupSession(t)

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"save_observation", "revise_observation", "delete_observation", "get_observation",
		"list_observations", "get_lineage", "get_revision_diff", "search", "save_summary",
		"export", "import", "patch_config", "config_audit_timeline", "rollback_config",
		"run_maintenance", "maintenance_history", "upsert_entity", "create_relation", "traverse_relations",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestObservationLifecycle(t *testing.T) {
	_, session := setupSession(t)

	saved := callOK[store.Observation](t, session, "save_observation", saveArgs("Use SQLite"))
	require.NotEmpty(t, saved.ID)
	assert.Equal(t, 3, saved.Importance)

	got := callOK[store.Observation](t, session, "get_observation", map[string]any{"project": "alpha", "id": saved.ID})
	assert.Equal(t, "Use SQLite", got.Title)

	revised := callOK[store.Observation](t, session, "revise_observation", map[string]any{
		"project": "alpha",
		"id":      saved.ID,
		"title":   "Use SQLite with FTS5",
	})
	require.NotNil(t, revised.RevisionOf)
	assert.Equal(t, saved.ID, *revised.RevisionOf)

	nodes := callOK[[]map[string]any](t, session, "get_lineage", map[string]any{"project": "alpha", "id": revised.ID})
	assert.Len(t, nodes, 2)

	diff := callOK[map[string]any](t, session, "get_revision_diff", map[string]any{"project": "alpha", "id": revised.ID})
	assert.NotEmpty(t, diff)

	// Superseded rows are only visible when asked for.
	result := callTool(t, session, "get_observation", map[string]any{"project": "alpha", "id": saved.ID})
	assert.True(t, result.IsError)
	archived := callOK[store.Observation](t, session, "get_observation", map[string]any{
		"project": "alpha", "id": saved.ID, "include_archived": true,
	})
	assert.NotNil(t, archived.SupersededBy)

	// A second revise of the old row conflicts.
	result = callTool(t, session, "revise_observation", map[string]any{"project": "alpha", "id": saved.ID, "title": "again"})
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, result), "[CONFLICT]"), resultText(t, result))

	deleted := callOK[map[string]any](t, session, "delete_observation", map[string]any{"project": "alpha", "id": revised.ID})
	assert.Equal(t, true, deleted["deleted"])

	list := callOK[[]store.Observation](t, session, "list_observations", map[string]any{"project": "alpha"})
	assert.Empty(t, list)
}

func TestSaveObservation_Validation(t *testing.T) {
	_, session := setupSession(t)

	args := saveArgs("bad")
	args["type"] = "opinion"
	result := callTool(t, session, "save_observation", args)
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, result), "[VALIDATION_ERROR]"), resultText(t, result))

	args = saveArgs("no project")
	args["project"] = ""
	result = callTool(t, session, "save_observation", args)
	assert.True(t, result.IsError)
}

func TestProjectScoping(t *testing.T) {
	_, session := setupSession(t)

	saved := callOK[store.Observation](t, session, "save_observation", saveArgs("Use SQLite"))

	result := callTool(t, session, "get_observation", map[string]any{"project": "beta", "id": saved.ID})
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, result), "[NOT_FOUND]"), resultText(t, result))

	result = callTool(t, session, "delete_observation", map[string]any{"project": "beta", "id": saved.ID})
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, result), "[NOT_FOUND]"), resultText(t, result))

	// Deleting twice in the owning project is not an error.
	callOK[map[string]any](t, session, "delete_observation", map[string]any{"project": "alpha", "id": saved.ID})
	again := callOK[map[string]any](t, session, "delete_observation", map[string]any{"project": "alpha", "id": saved.ID})
	assert.Equal(t, false, again["deleted"])
}

func TestSearch(t *testing.T) {
	eng, session := setupSession(t)

	callOK[store.Observation](t, session, "save_observation", saveArgs("Use SQLite"))
	other := saveArgs("Pick a web framework")
	other["narrative"] = "gin router"
	other["concepts"] = []string{"http"}
	callOK[store.Observation](t, session, "save_observation", other)
	require.NoError(t, eng.WaitIdle(context.Background()))

	results := callOK[[]map[string]any](t, session, "search", map[string]any{"project": "alpha", "query": "sqlite"})
	require.Len(t, results, 1)

	result := callTool(t, session, "search", map[string]any{"project": "alpha", "query": "sqlite", "since": "yesterday"})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "since")

	results = callOK[[]map[string]any](t, session, "search", map[string]any{"project": "beta", "query": "sqlite"})
	assert.Empty(t, results)
}

func TestExportImport(t *testing.T) {
	_, session := setupSession(t)

	callOK[store.Observation](t, session, "save_observation", saveArgs("Use SQLite"))
	callOK[store.Summary](t, session, "save_summary", map[string]any{
		"project":    "alpha",
		"session_id": "s1",
		"learned":    "fts5 is built in",
	})

	result := callTool(t, session, "export", map[string]any{"project": "alpha"})
	require.False(t, result.IsError, resultText(t, result))
	doc := resultText(t, result)

	report := callOK[engine.ImportReport](t, session, "import", map[string]any{"document": doc})
	assert.Equal(t, engine.ImportCounts{Skipped: 1}, report.Observations)
	assert.Equal(t, engine.ImportCounts{Skipped: 1}, report.Summaries)

	report = callOK[engine.ImportReport](t, session, "import", map[string]any{"document": doc, "mode": "overwrite"})
	assert.Equal(t, engine.ImportCounts{Updated: 1}, report.Observations)

	result = callTool(t, session, "import", map[string]any{"document": "{not json"})
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, result), "[VALIDATION_ERROR]"), resultText(t, result))
}

func TestConfigAuditAndRollback(t *testing.T) {
	eng, session := setupSession(t)

	event := callOK[store.ConfigAuditEvent](t, session, "patch_config", map[string]any{
		"patch": map[string]any{"search_default_limit": 5},
	})
	assert.Equal(t, 5, eng.Config().Search.DefaultLimit)

	timeline := callOK[[]store.ConfigAuditEvent](t, session, "config_audit_timeline", map[string]any{})
	require.Len(t, timeline, 1)
	assert.Equal(t, event.ID, timeline[0].ID)

	callOK[store.ConfigAuditEvent](t, session, "rollback_config", map[string]any{"event_id": event.ID})
	assert.Equal(t, config.Default().Search.DefaultLimit, eng.Config().Search.DefaultLimit)

	result := callTool(t, session, "rollback_config", map[string]any{"event_id": "missing"})
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, result), "[NOT_FOUND]"), resultText(t, result))

	result = callTool(t, session, "patch_config", map[string]any{"patch": map[string]any{"no_such_key": 1}})
	assert.True(t, result.IsError)
}

func TestMaintenance(t *testing.T) {
	_, session := setupSession(t)

	item := callOK[store.MaintenanceHistoryItem](t, session, "run_maintenance", map[string]any{"action": "optimize", "dry_run": true})
	assert.Equal(t, "optimize", item.Action)

	history := callOK[[]store.MaintenanceHistoryItem](t, session, "maintenance_history", map[string]any{"limit": 10})
	require.Len(t, history, 1)

	result := callTool(t, session, "run_maintenance", map[string]any{"action": "defrag"})
	assert.True(t, result.IsError)
}

func TestEntityGraph(t *testing.T) {
	_, session := setupSession(t)

	a := callOK[store.Entity](t, session, "upsert_entity", map[string]any{"name": "sqlite", "type": "concept"})
	b := callOK[store.Entity](t, session, "upsert_entity", map[string]any{"name": "store.go", "type": "file"})

	callOK[store.EntityRelation](t, session, "create_relation", map[string]any{
		"source_id":    a.ID,
		"target_id":    b.ID,
		"relationship": "relates_to",
	})

	nodes := callOK[[]store.Entity](t, session, "traverse_relations", map[string]any{"entity_id": a.ID, "depth": 1})
	require.Len(t, nodes, 2, "seed first, then its neighbors")
	assert.Equal(t, a.ID, nodes[0].ID)
	assert.Equal(t, b.ID, nodes[1].ID)

	result := callTool(t, session, "create_relation", map[string]any{
		"source_id":    a.ID,
		"target_id":    "missing",
		"relationship": "relates_to",
	})
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, result), "[NOT_FOUND]"), resultText(t, result))
}
