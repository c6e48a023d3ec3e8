// Package httpapi exposes the daemon over HTTP: connection CRUD, the
// active set, status snapshots, chat dispatch and container controls.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llmtrayd/internal/container"
	"llmtrayd/internal/dispatch"
	"llmtrayd/internal/registry"
	"llmtrayd/pkg/types"
)

// Connections is the registry surface the API needs.
type Connections interface {
	List() []types.Connection
	Get(id string) (types.Connection, bool)
	Add(c types.Connection) (types.Connection, error)
	Update(id string, upd types.UpdateConnectionRequest) (types.Connection, error)
	Remove(id string) error
	SetActive(ids []string) error
	Active() []string
}

// StatusSource serves the supervisor's published snapshots and tunables.
type StatusSource interface {
	Snapshot() (map[string]types.ConnectionStatus, uint64)
	Kick()
	Interval() time.Duration
	SetInterval(d time.Duration)
}

// ChatService fans a chat request out to the resolved targets.
type ChatService interface {
	Dispatch(ctx context.Context, msgs []types.ChatMessage, targets []dispatch.Target, stream bool) <-chan dispatch.Update
}

// ProbeSettings exposes the prober's adjustable deadline.
type ProbeSettings interface {
	Timeout() time.Duration
	SetTimeout(d time.Duration)
}

// Server bundles the daemon's components behind the HTTP routes.
type Server struct {
	Registry   Connections
	Containers container.Controller
	Status     StatusSource
	Chat       ChatService
	Probes     ProbeSettings

	CORSEnabled bool
	CORSOrigins []string
}

func NewMux(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	if s.CORSEnabled {
		r.Use(CORSMiddleware(s.CORSOrigins))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/connections", s.handleListConnections)
	r.Post("/connections", s.handleAddConnection)
	r.Patch("/connections/{id}", s.handleUpdateConnection)
	r.Delete("/connections/{id}", s.handleRemoveConnection)

	r.Get("/active", s.handleGetActive)
	r.Put("/active", s.handleSetActive)

	r.Get("/status", s.handleStatus)
	r.Post("/chat", s.handleChat)

	r.Post("/server/start", s.handleServerStart)
	r.Post("/server/stop", s.handleServerStop)
	r.Get("/server/processes", s.handleListProcesses)

	r.Get("/models", s.handleListModels)
	r.Post("/models/pull", s.handlePullModel)
	r.Delete("/models/{name}", s.handleRemoveModel)

	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePutSettings)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// Ready once the supervisor has published at least one cycle.
		if _, cycle := s.Status.Snapshot(); cycle > 0 {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ConnectionsResponse{
		Connections: s.Registry.List(),
		Active:      s.Registry.Active(),
	})
}

func (s *Server) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	var c types.Connection
	if !decodeJSON(w, r, &c) {
		return
	}
	added, err := s.Registry.Add(c)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.Status.Kick()
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	var upd types.UpdateConnectionRequest
	if !decodeJSON(w, r, &upd) {
		return
	}
	c, err := s.Registry.Update(chi.URLParam(r, "id"), upd)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.Status.Kick()
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.Registry.Remove(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	s.Status.Kick()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ids": s.Registry.Active()})
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req types.ActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Registry.SetActive(req.IDs); err != nil {
		writeErr(w, err)
		return
	}
	s.Status.Kick()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, cycle := s.Status.Snapshot()
	writeJSON(w, http.StatusOK, types.StatusResponse{Cycle: cycle, Statuses: statuses})
}

// handleChat streams per-connection deltas and terminal records as NDJSON.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages are required")
		return
	}
	targets := make([]dispatch.Target, 0, len(req.Targets))
	for _, t := range req.Targets {
		if t.ConnectionID == "" || t.Model == "" {
			writeJSONError(w, http.StatusBadRequest, "each target needs connection_id and model")
			return
		}
		targets = append(targets, dispatch.Target{ConnectionID: t.ConnectionID, Model: t.Model})
	}
	if len(targets) == 0 {
		// No explicit targets: fan out to the active set with the shared model.
		if req.Model == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required when targets are omitted")
			return
		}
		for _, id := range s.Registry.Active() {
			targets = append(targets, dispatch.Target{ConnectionID: id, Model: req.Model})
		}
		if len(targets) == 0 {
			writeJSONError(w, http.StatusBadRequest, "no targets and the active set is empty")
			return
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	updates := s.Chat.Dispatch(ctx, req.Messages, targets, req.Stream)
	for upd := range updates {
		ev := types.ChatEvent{ConnectionID: upd.ConnectionID, Delta: upd.Delta, Record: upd.Record}
		if err := enc.Encode(ev); err != nil {
			// Client gone; cancel and drain so dispatch goroutines finish.
			cancel()
			for range updates {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleServerStart(w http.ResponseWriter, r *http.Request) {
	conn, err := s.resolveManaged(r.URL.Query().Get("connection_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if err := s.Containers.Start(ctx, conn.Container); err != nil {
		writeErr(w, err)
		return
	}
	s.Status.Kick()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleServerStop(w http.ResponseWriter, r *http.Request) {
	conn, err := s.resolveManaged(r.URL.Query().Get("connection_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if err := s.Containers.Stop(ctx, conn.Container); err != nil {
		writeErr(w, err)
		return
	}
	s.Status.Kick()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	procs, err := s.Containers.ListRunning(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": procs})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	conn, err := s.resolveManaged(r.URL.Query().Get("connection_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	models, err := s.Containers.ListModels(ctx, conn.Container)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
}

// pullEvent is one NDJSON line of the POST /models/pull stream.
type pullEvent struct {
	Line  string `json:"line,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handlePullModel(w http.ResponseWriter, r *http.Request) {
	var req types.PullRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "model name is required")
		return
	}
	conn, err := s.resolveManaged(r.URL.Query().Get("connection_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	progress, err := s.Containers.PullModel(ctx, conn.Container, req.Name)
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for p := range progress {
		ev := pullEvent{Line: p.Line, Done: p.Done}
		if p.Err != nil {
			ev.Error = p.Err.Error()
		}
		if err := enc.Encode(ev); err != nil {
			// Client gone; cancel and drain so the pull goroutine's
			// terminal event is consumed and it can exit.
			cancel()
			for range progress {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleRemoveModel(w http.ResponseWriter, r *http.Request) {
	conn, err := s.resolveManaged(r.URL.Query().Get("connection_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if err := s.Containers.RemoveModel(ctx, conn.Container, chi.URLParam(r, "name")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.SettingsResponse{
		PollIntervalSeconds: int(s.Status.Interval() / time.Second),
		ProbeTimeoutSeconds: int(s.Probes.Timeout() / time.Second),
	})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req types.SettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PollIntervalSeconds < 0 {
		writeJSONError(w, http.StatusBadRequest, "poll_interval_seconds must be positive")
		return
	}
	if req.ProbeTimeoutSeconds < 0 {
		writeJSONError(w, http.StatusBadRequest, "probe_timeout_seconds must be positive")
		return
	}
	if req.PollIntervalSeconds > 0 {
		s.Status.SetInterval(time.Duration(req.PollIntervalSeconds) * time.Second)
	}
	if req.ProbeTimeoutSeconds > 0 {
		s.Probes.SetTimeout(time.Duration(req.ProbeTimeoutSeconds) * time.Second)
	}
	s.handleGetSettings(w, r)
}

// resolveManaged finds the container-managed connection the request
// addresses. An empty id selects the sole managed connection; ambiguity
// is an error so a stop never lands on the wrong container.
func (s *Server) resolveManaged(id string) (types.Connection, error) {
	if id != "" {
		c, ok := s.Registry.Get(id)
		if !ok {
			return types.Connection{}, registry.ErrNotFound(id)
		}
		if c.Kind != types.KindContainerManaged {
			return types.Connection{}, registry.ErrValidation("connection is not container-managed: " + id)
		}
		return c, nil
	}
	var found []types.Connection
	for _, c := range s.Registry.List() {
		if c.Kind == types.KindContainerManaged {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return types.Connection{}, registry.ErrNotFound("container-managed connection")
	case 1:
		return found[0], nil
	default:
		return types.Connection{}, registry.ErrValidation("multiple container-managed connections, pass connection_id")
	}
}

// decodeJSON enforces the JSON content type and body limit, writing the
// error response itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("response encode failed")
	}
}
