package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Joseda-hg/notegrid/internal/app"
	"github.com/Joseda-hg/notegrid/internal/config"
	"github.com/Joseda-hg/notegrid/internal/db"
	"github.com/Joseda-hg/notegrid/internal/model"
)

const testCredential = "0b8f5b0e-4a8c-4c0e-9f3d-1c2b3a4d5e6f"

type stubRemote struct {
	mu     sync.Mutex
	writes []model.UserData
}

func (s *stubRemote) Read(context.Context, string) (*model.UserData, error) { return nil, nil }

func (s *stubRemote) Write(_ context.Context, _ string, data model.UserData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, data.Clone())
	return nil
}

func (s *stubRemote) Exists(context.Context, string) (bool, error) { return true, nil }
func (s *stubRemote) Register(context.Context, string) error       { return nil }
func (s *stubRemote) DeleteAccount(context.Context, string) error  { return nil }

func newTestServer(t *testing.T, loggedIn bool) (*Server, *app.App) {
	t.Helper()

	sqlDB, err := db.Open(":memory:")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Sync.Debounce = time.Hour
	a := app.Assemble(app.Deps{Config: cfg, Store: db.NewStore(sqlDB), Remote: &stubRemote{}})
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	if loggedIn {
		ctx := context.Background()
		require.NoError(t, a.Cache.SetCredential(ctx, testCredential))
		_, err := a.Sync(ctx)
		require.NoError(t, err)
		require.True(t, a.Engine.Ready())
	}

	server := NewServer(a, zaptest.NewLogger(t).Sugar())
	server.now = func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) }
	return server, a
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestDataRequiresAccount(t *testing.T) {
	server, _ := newTestServer(t, false)
	h := server.Handler()

	rec := do(t, h, http.MethodGet, "/api/data", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/tasks", `{"title":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/import", `{"tasks":[{"title":"x"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	status := decode[map[string]bool](t, do(t, h, http.MethodGet, "/api/status", ""))
	assert.False(t, status["loggedIn"])
	assert.False(t, status["ready"])
}

func TestTaskLifecycle(t *testing.T) {
	server, a := newTestServer(t, true)
	h := server.Handler()

	rec := do(t, h, http.MethodPost, "/api/tasks", `{"title":"Draft agenda","q":"do","tags":["work"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Task](t, rec)
	assert.Equal(t, "Draft agenda", created.Title)
	assert.Equal(t, model.QuadrantDo, created.Q)

	rec = do(t, h, http.MethodPatch, "/api/tasks/"+created.ID, `{"completed":true,"q":null}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[model.Task](t, rec)
	assert.True(t, updated.Completed)
	assert.Equal(t, model.QuadrantNone, updated.Q)

	rec = do(t, h, http.MethodPatch, "/api/tasks/missing", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/tasks/"+created.ID, `{"title":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/tasks/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	data, ok := a.Engine.Snapshot()
	require.True(t, ok)
	assert.Empty(t, data.Tasks)
	assert.True(t, a.Engine.HasPendingWrite())
}

func TestMoveAndReorderTasks(t *testing.T) {
	server, a := newTestServer(t, true)
	h := server.Handler()

	var ids []string
	for _, body := range []string{`{"title":"a","q":"do"}`, `{"title":"b","q":"do"}`, `{"title":"c"}`} {
		rec := do(t, h, http.MethodPost, "/api/tasks", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		ids = append(ids, decode[model.Task](t, rec).ID)
	}

	rec := do(t, h, http.MethodPost, "/api/tasks/"+ids[2]+"/move", `{"index":0,"group":{"field":"quadrant","value":"do"}}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	data, _ := a.Engine.Snapshot()
	assert.Equal(t, []string{ids[2], ids[0], ids[1]}, taskIDs(data))
	assert.Equal(t, model.QuadrantDo, data.Tasks[0].Q)

	rec = do(t, h, http.MethodPost, "/api/tasks/"+ids[2]+"/move", `{"group":{"field":"quadrant","value":"someday"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/tasks/"+ids[2]+"/move", `{"group":{"field":"kanban","value":"doing"}}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	data, _ = a.Engine.Snapshot()
	moved, ok := data.FindTask(ids[2])
	require.True(t, ok)
	assert.Equal(t, "doing", moved.Kanban)

	rec = do(t, h, http.MethodPost, "/api/tasks/reorder", `{"ids":["`+ids[1]+`"]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	data, _ = a.Engine.Snapshot()
	assert.Equal(t, ids[1], data.Tasks[0].ID)
}

func TestLinks(t *testing.T) {
	server, a := newTestServer(t, true)
	h := server.Handler()

	rec := do(t, h, http.MethodPost, "/api/links", `{"url":"go.dev/blog"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	link := decode[model.Link](t, rec)
	assert.Equal(t, "https://go.dev/blog", link.URL)
	assert.Equal(t, "go.dev", link.Title)

	rec = do(t, h, http.MethodPost, "/api/links", `{"url":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/links/"+link.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/links/"+link.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	data, _ := a.Engine.Snapshot()
	assert.Empty(t, data.Links)
}

func TestImportAndExport(t *testing.T) {
	server, _ := newTestServer(t, true)
	h := server.Handler()

	rec := do(t, h, http.MethodPost, "/api/import", `{"tasks":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "No valid tasks or links found in the file")

	rec = do(t, h, http.MethodPost, "/api/import", `{"tasks":[{"title":"imported","q":"delegate"}],"links":[{"url":"https://example.com"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[map[string]int](t, rec)
	assert.Equal(t, 1, result["tasksImported"])
	assert.Equal(t, 1, result["linksImported"])

	rec = do(t, h, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="notegrid-export-2026-03-04.json"`, rec.Header().Get("Content-Disposition"))
	exported := decode[map[string]any](t, rec)
	assert.Contains(t, exported, "exportedAt")
	assert.Len(t, exported["tasks"], 1)
}

func TestSessionEndpoints(t *testing.T) {
	server, a := newTestServer(t, true)
	h := server.Handler()
	require.NoError(t, a.Start(context.Background()))

	rec := do(t, h, http.MethodPost, "/api/session/visibility", `{"visible":false}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, a.Session.Foreground())

	rec = do(t, h, http.MethodPost, "/api/session/visibility", `{"visible":true}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, a.Session.Foreground())

	rec = do(t, h, http.MethodPost, "/api/session/focus", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSyncLogAndMetrics(t *testing.T) {
	server, a := newTestServer(t, true)
	h := server.Handler()

	rec := do(t, h, http.MethodPost, "/api/tasks", `{"title":"counted"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, a.Engine.HasPendingWrite())

	rec = do(t, h, http.MethodGet, "/api/sync/log?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sync/log", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "["))

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "notegrid_mutations_total")
}

func taskIDs(data model.UserData) []string {
	ids := make([]string, 0, len(data.Tasks))
	for _, task := range data.Tasks {
		ids = append(ids, task.ID)
	}
	return ids
}
