package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/mnemo/pkg/config"
	"github.com/dan-solli/mnemo/pkg/engine"
	"github.com/dan-solli/mnemo/pkg/events"
	"github.com/dan-solli/mnemo/pkg/store"
)

type testServer struct {
	engine *engine.Engine
	db     *sql.DB
	server *Server
}

func newTestServer(t *testing.T, mutate func(*config.Config), locked ...string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(":memory:")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Storage.Path = ":memory:"
	if mutate != nil {
		mutate(&cfg)
	}
	lockedKeys := map[string]bool{}
	for _, k := range locked {
		lockedKeys[k] = true
	}

	eng, err := engine.New(engine.Options{
		Config:          config.NewStaticManager(cfg, lockedKeys),
		DB:              db,
		Vectors:         store.NewMemoryVectorStore(),
		InMemoryLedgers: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, eng.Close())
		db.Close()
	})

	return &testServer{engine: eng, db: db, server: New(eng, Options{})}
}

type response struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Meta map[string]any `json:"meta"`
}

func (ts *testServer) do(t *testing.T, method, path, project string, body any) (int, response) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if project != "" {
		req.Header.Set(ProjectHeader, project)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)

	var resp response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func saveBody(title string) map[string]any {
	return map[string]any{
		"sessionId": "s1",
		"type":      "decision",
		"title":     title,
		"narrative": "sqlite runs in WAL mode",
		"concepts":  []string{"sqlite"},
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	code, resp := ts.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "ok", decode[map[string]any](t, resp.Data)["status"])
}

func TestObservations_CRUD(t *testing.T) {
	ts := newTestServer(t, nil)

	code, resp := ts.do(t, http.MethodPost, "/api/observations", "alpha", saveBody("Enable WAL"))
	require.Equal(t, http.StatusCreated, code)
	saved := decode[store.Observation](t, resp.Data)
	assert.Equal(t, "alpha", saved.Project)

	code, resp = ts.do(t, http.MethodGet, "/api/observations/"+saved.ID, "alpha", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, saved.ID, decode[store.Observation](t, resp.Data).ID)

	code, resp = ts.do(t, http.MethodGet, "/api/observations/"+saved.ID, "beta", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "null", string(resp.Data))

	code, resp = ts.do(t, http.MethodPatch, "/api/observations/"+saved.ID, "alpha", map[string]any{"title": "WAL on"})
	require.Equal(t, http.StatusOK, code)
	next := decode[store.Observation](t, resp.Data)
	require.NotNil(t, next.RevisionOf)
	assert.Equal(t, saved.ID, *next.RevisionOf)

	code, resp = ts.do(t, http.MethodPatch, "/api/observations/"+saved.ID, "alpha", map[string]any{"title": "again"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", resp.Error.Code)

	code, resp = ts.do(t, http.MethodGet, "/api/observations/"+next.ID+"/lineage", "alpha", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, resp.Meta["count"])

	code, resp = ts.do(t, http.MethodGet, "/api/observations/"+next.ID+"/diff", "alpha", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"title"`)

	code, resp = ts.do(t, http.MethodGet, "/api/observations?include_archived=true", "alpha", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, resp.Meta["count"])

	code, resp = ts.do(t, http.MethodDelete, "/api/observations/"+next.ID, "alpha", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, decode[map[string]any](t, resp.Data)["deleted"])

	code, _ = ts.do(t, http.MethodDelete, "/api/observations/"+next.ID, "beta", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestObservations_Validation(t *testing.T) {
	ts := newTestServer(t, nil)

	body := saveBody("")
	code, resp := ts.do(t, http.MethodPost, "/api/observations", "alpha", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	code, resp = ts.do(t, http.MethodPost, "/api/observations", "", saveBody("No project"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	code, _ = ts.do(t, http.MethodPost, "/api/observations", "alpha", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodGet, "/api/search?q=wal&limit=many", "alpha", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/api/observations", "beta", saveBody("Session taken"))
	assert.Equal(t, http.StatusCreated, code)
	code, resp = ts.do(t, http.MethodPost, "/api/observations", "alpha", saveBody("Hijack"))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/api/observations", "alpha", saveBody("Enable WAL"))

	code, resp := ts.do(t, http.MethodGet, "/api/search?q=WAL", "alpha", nil)
	assert.Equal(t, http.StatusOK, code)
	results := decode[[]map[string]any](t, resp.Data)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0]["rank"])

	code, resp = ts.do(t, http.MethodGet, "/api/search?q=WAL&min_importance=5&max_importance=1", "alpha", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestSearch_BackendFailureIsEmpty(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/api/observations", "alpha", saveBody("Enable WAL"))
	require.NoError(t, ts.engine.WaitIdle(context.Background()))

	_, err := ts.db.Exec(`DROP TABLE observations_fts`)
	require.NoError(t, err)

	code, resp := ts.do(t, http.MethodGet, "/api/search?q=WAL", "alpha", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, "[]", string(resp.Data))
}

func TestExportImport(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/api/observations", "alpha", saveBody("Exported"))

	code, resp := ts.do(t, http.MethodGet, "/api/export?scope=all", "alpha", nil)
	require.Equal(t, http.StatusOK, code)
	doc := decode[engine.ExportDocument](t, resp.Data)
	require.Len(t, doc.Observations, 1)

	code, resp = ts.do(t, http.MethodPost, "/api/import?mode=skip-duplicates", "alpha", doc)
	require.Equal(t, http.StatusOK, code)
	report := decode[engine.ImportReport](t, resp.Data)
	assert.Equal(t, 1, report.Observations.Skipped)

	doc.Version = 42
	code, resp = ts.do(t, http.MethodPost, "/api/import", "alpha", doc)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestConfig_PatchAndRollback(t *testing.T) {
	ts := newTestServer(t, nil, "log_level")

	code, resp := ts.do(t, http.MethodPatch, "/api/config", "", `{"search_default_limit": 9}`)
	require.Equal(t, http.StatusOK, code)
	event := decode[store.ConfigAuditEvent](t, resp.Data)
	assert.Equal(t, 9, ts.engine.Config().Search.DefaultLimit)

	code, resp = ts.do(t, http.MethodPatch, "/api/config", "", `{"log_level": "debug"}`)
	assert.Equal(t, http.StatusLocked, code)
	assert.Equal(t, "LOCKED_BY_ENV", resp.Error.Code)

	code, resp = ts.do(t, http.MethodPatch, "/api/config", "", `{"storage_path": "/tmp/x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	code, _ = ts.do(t, http.MethodPost, "/api/config/audit/"+event.ID+"/rollback", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 20, ts.engine.Config().Search.DefaultLimit)

	code, resp = ts.do(t, http.MethodGet, "/api/config/audit", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, resp.Meta["count"])

	code, _ = ts.do(t, http.MethodPost, "/api/config/audit/missing/rollback", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodPost, "/api/config/modes/fast", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 10, ts.engine.Config().Search.DefaultLimit)

	code, resp = ts.do(t, http.MethodGet, "/api/config", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"log_level"}, decode[map[string]any](t, resp.Data)["locked"])
}

func TestMaintenance(t *testing.T) {
	ts := newTestServer(t, nil)

	code, resp := ts.do(t, http.MethodPost, "/api/maintenance/optimize?dry_run=true", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, decode[map[string]any](t, resp.Data)["dryRun"])

	code, resp = ts.do(t, http.MethodPost, "/api/maintenance/defrag", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	code, resp = ts.do(t, http.MethodGet, "/api/maintenance/history", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, resp.Meta["count"])
}

func TestEntities(t *testing.T) {
	ts := newTestServer(t, nil)

	code, resp := ts.do(t, http.MethodPost, "/api/entities", "", map[string]string{"name": "sqlite", "type": "concept"})
	require.Equal(t, http.StatusOK, code)
	a := decode[store.Entity](t, resp.Data)
	_, resp = ts.do(t, http.MethodPost, "/api/entities", "", map[string]string{"name": "db.go", "type": "file"})
	b := decode[store.Entity](t, resp.Data)

	code, _ = ts.do(t, http.MethodPost, "/api/relations", "", map[string]string{
		"sourceId": a.ID, "targetId": b.ID, "relationship": "relates_to",
	})
	require.Equal(t, http.StatusOK, code)

	code, resp = ts.do(t, http.MethodPost, "/api/relations", "", map[string]string{
		"sourceId": a.ID, "targetId": "missing", "relationship": "relates_to",
	})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	code, _ = ts.do(t, http.MethodPost, "/api/relations", "", map[string]string{"sourceId": a.ID})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = ts.do(t, http.MethodGet, "/api/entities/"+a.ID+"/traverse?depth=2", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, resp.Meta["count"])

	code, resp = ts.do(t, http.MethodGet, "/api/entities?q=sqlite", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, resp.Meta["count"])
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Metrics.Enabled = true })
	ts.do(t, http.MethodPost, "/api/observations", "alpha", saveBody("Counted"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mnemo_operations_total")

	disabled := newTestServer(t, nil)
	w = httptest.NewRecorder()
	disabled.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvents_WebSocket(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events?project=alpha&types=observation:created"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = ts.engine.Save(context.Background(), "beta", &store.Observation{SessionID: "s2", Type: store.TypeChange, Title: "other"})
	require.NoError(t, err)
	_, err = ts.engine.Save(context.Background(), "alpha", &store.Observation{SessionID: "s1", Type: store.TypeChange, Title: "mine"})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.ObservationCreated, ev.Kind)
	assert.Equal(t, "alpha", ev.Project, "events of other projects are filtered")
}
