// Package web serves a local JSON API over the sync engine.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Joseda-hg/notegrid/internal/app"
	"github.com/Joseda-hg/notegrid/internal/engine"
	"github.com/Joseda-hg/notegrid/internal/model"
)

const maxImportBytes = 10 << 20

var errNotReady = errors.New("no active account: log in first")

type Server struct {
	app      *app.App
	engine   *engine.Engine
	session  *engine.Session
	gatherer prometheus.Gatherer
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewServer(a *app.App, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		app:      a,
		engine:   a.Engine,
		session:  a.Session,
		gatherer: a.Registry,
		log:      log,
		now:      time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/data", s.dataHandler).Methods(http.MethodGet)
	api.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)

	api.HandleFunc("/tasks", s.addTaskHandler).Methods(http.MethodPost)
	api.HandleFunc("/tasks/reorder", s.reorderTasksHandler).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}", s.updateTaskHandler).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{id}", s.deleteTaskHandler).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{id}/move", s.moveTaskHandler).Methods(http.MethodPost)

	api.HandleFunc("/links", s.addLinkHandler).Methods(http.MethodPost)
	api.HandleFunc("/links/reorder", s.reorderLinksHandler).Methods(http.MethodPost)
	api.HandleFunc("/links/{id}", s.deleteLinkHandler).Methods(http.MethodDelete)

	api.HandleFunc("/import", s.importHandler).Methods(http.MethodPost)
	api.HandleFunc("/export", s.exportHandler).Methods(http.MethodGet)

	api.HandleFunc("/session/visibility", s.visibilityHandler).Methods(http.MethodPost)
	api.HandleFunc("/session/focus", s.focusHandler).Methods(http.MethodPost)
	api.HandleFunc("/sync/log", s.syncLogHandler).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debugw("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Server) dataHandler(w http.ResponseWriter, r *http.Request) {
	data, ok := s.engine.Snapshot()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, errNotReady)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	credential, err := s.app.Credential(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loggedIn":     credential != "",
		"ready":        s.engine.Ready(),
		"pendingWrite": s.engine.HasPendingWrite(),
		"polling":      s.session.Running() && s.session.Foreground(),
	})
}

func (s *Server) addTaskHandler(w http.ResponseWriter, r *http.Request) {
	var patch engine.TaskPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	task, ok := s.engine.AddTask(patch)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, errNotReady)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) updateTaskHandler(w http.ResponseWriter, r *http.Request) {
	var patch engine.TaskPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	id := mux.Vars(r)["id"]
	if !s.mutated(w, s.engine.UpdateTask(id, patch), "task", id) {
		return
	}
	data, _ := s.engine.Snapshot()
	if task, ok := data.FindTask(id); ok {
		writeJSON(w, http.StatusOK, task)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.mutated(w, s.engine.DeleteTask(id), "task", id) {
		w.WriteHeader(http.StatusNoContent)
	}
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) reorderTasksHandler(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if s.mutated(w, s.engine.ReorderTasks(req.IDs), "", "") {
		w.WriteHeader(http.StatusNoContent)
	}
}

type groupRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type moveRequest struct {
	Patch engine.TaskPatch `json:"patch"`
	Index int              `json:"index"`
	Group groupRequest     `json:"group"`
}

func (s *Server) moveTaskHandler(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var group engine.Group
	switch req.Group.Field {
	case "quadrant", "":
		q, ok := model.ParseQuadrant(req.Group.Value)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown quadrant %q", req.Group.Value))
			return
		}
		group = engine.QuadrantGroup(q)
	case "kanban":
		group = engine.KanbanGroup(req.Group.Value)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown group field %q", req.Group.Field))
		return
	}

	id := mux.Vars(r)["id"]
	if s.mutated(w, s.engine.MoveTask(id, req.Patch, req.Index, group), "task", id) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) addLinkHandler(w http.ResponseWriter, r *http.Request) {
	var draft engine.LinkDraft
	if !decodeBody(w, r, &draft) {
		return
	}
	if !s.engine.Ready() {
		writeError(w, http.StatusServiceUnavailable, errNotReady)
		return
	}
	link, ok := s.engine.AddLink(draft)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) deleteLinkHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.mutated(w, s.engine.DeleteLink(id), "link", id) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) reorderLinksHandler(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if s.mutated(w, s.engine.ReorderLinks(req.IDs), "", "") {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) importHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.engine.ImportData(string(body))
	if err != nil {
		var importErr *engine.ImportError
		status := http.StatusBadRequest
		if errors.As(err, &importErr) && importErr.Kind == engine.ImportNotReady {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := s.engine.Export()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	filename := "notegrid-export-" + s.now().UTC().Format("2006-01-02") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}

func (s *Server) visibilityHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible bool `json:"visible"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.session.SetForeground(req.Visible)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) focusHandler(w http.ResponseWriter, r *http.Request) {
	s.session.Focus()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) syncLogHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", value))
			return
		}
		limit = parsed
	}

	entries, err := s.app.SyncLog(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []model.SyncLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// mutated translates a mutation's boolean result into a response. It returns
// true when the caller should write its success response.
func (s *Server) mutated(w http.ResponseWriter, ok bool, kind, id string) bool {
	if ok {
		return true
	}
	if !s.engine.Ready() {
		writeError(w, http.StatusServiceUnavailable, errNotReady)
		return false
	}
	if kind == "" {
		writeError(w, http.StatusBadRequest, errors.New("nothing changed"))
		return false
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("%s %q not found", kind, id))
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
