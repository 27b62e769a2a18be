package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/mnemo/pkg/engine"
	"github.com/dan-solli/mnemo/pkg/store"
)

type cliEnv struct {
	dir    string
	config string
	db     string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	return cliEnv{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		db:     filepath.Join(dir, "data", "mnemo.db"),
	}
}

func (env cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(append([]string{"--config", env.config, "--db", env.db}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigPatchHistoryRollback(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "config", "patch", `{"search_default_limit": 7}`)
	require.NoError(t, err)
	var event store.ConfigAuditEvent
	require.NoError(t, json.Unmarshal([]byte(out), &event))
	require.NotNil(t, event.Patch.SearchDefaultLimit)
	assert.Equal(t, 7, *event.Patch.SearchDefaultLimit)

	// The patch is persisted to the config file.
	data, err := os.ReadFile(env.config)
	require.NoError(t, err)
	assert.Contains(t, string(data), "default_limit: 7")

	out, err = env.run(t, "", "config", "history")
	require.NoError(t, err)
	var events []store.ConfigAuditEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)

	_, err = env.run(t, "", "config", "rollback", event.ID)
	require.NoError(t, err)

	out, err = env.run(t, "", "config", "show")
	require.NoError(t, err)
	var shown struct {
		Config struct {
			Search struct {
				DefaultLimit int `json:"default_limit"`
			} `json:"search"`
		} `json:"config"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, 20, shown.Config.Search.DefaultLimit)
}

func TestConfigPatch_RejectsUnknownKey(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "", "config", "patch", `{"no_such_key": 1}`)
	assert.Error(t, err)
}

func TestMaintenanceRunAndHistory(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "maintenance", "run", "optimize", "--dry-run")
	require.NoError(t, err)
	var item store.MaintenanceHistoryItem
	require.NoError(t, json.Unmarshal([]byte(out), &item))
	assert.Equal(t, "optimize", item.Action)
	assert.True(t, item.DryRun)

	out, err = env.run(t, "", "maintenance", "history")
	require.NoError(t, err)
	var items []store.MaintenanceHistoryItem
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	assert.Len(t, items, 1)

	_, err = env.run(t, "", "maintenance", "run", "defrag")
	assert.Error(t, err)
}

func TestExportImport(t *testing.T) {
	env := newCLIEnv(t)

	doc := `{
  "version": 1,
  "project": "alpha",
  "observations": [{
    "id": "obs-1",
    "sessionId": "s1",
    "type": "decision",
    "title": "Use SQLite",
    "narrative": "embedded and zero-config",
    "createdAt": "2026-01-02T15:04:05Z"
  }],
  "summaries": []
}`
	out, err := env.run(t, doc, "import")
	require.NoError(t, err)
	var report engine.ImportReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Observations.Imported)

	path := filepath.Join(env.dir, "alpha.json")
	_, err = env.run(t, "", "-p", "alpha", "export", "-o", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var exported engine.ExportDocument
	require.NoError(t, json.Unmarshal(data, &exported))
	require.Len(t, exported.Observations, 1)
	assert.Equal(t, "obs-1", exported.Observations[0].ID)

	out, err = env.run(t, "", "-p", "alpha", "search", "sqlite", "--json")
	require.NoError(t, err)
	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Len(t, results, 1)
}

func TestRequiresProject(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "", "export")
	assert.ErrorContains(t, err, "--project")
}
