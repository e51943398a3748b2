// Package api exposes the HTTP trigger surface: manual pipeline operations,
// the retry sweep, health, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/infra/storage"
	"github.com/curatorhq/enrichd/internal/pipeline/orchestrator"
	"github.com/curatorhq/enrichd/internal/pipeline/registry"
	"github.com/curatorhq/enrichd/internal/pipeline/scheduler"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	orch   *orchestrator.Orchestrator
	sched  *scheduler.Scheduler
	items  storage.ItemRepository
	runs   storage.RunRepository
	reg    *registry.Registry
	db     Pinger
	apiKey string
	log    *slog.Logger
	server *http.Server
}

// NewServer builds the trigger API server.
func NewServer(
	orch *orchestrator.Orchestrator,
	sched *scheduler.Scheduler,
	items storage.ItemRepository,
	runs storage.RunRepository,
	reg *registry.Registry,
	db Pinger,
	port int,
	apiKey string,
	log *slog.Logger,
) *Server {
	mux := http.NewServeMux()
	s := &Server{
		orch:   orch,
		sched:  sched,
		items:  items,
		runs:   runs,
		reg:    reg,
		db:     db,
		apiKey: apiKey,
		log:    log.With("component", "api"),
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/process-item", s.auth(s.handleProcessItem))
	mux.HandleFunc("POST /api/enrich-step", s.auth(s.handleEnrichStep))
	mux.HandleFunc("POST /api/reenrich", s.auth(s.handleReenrich))
	mux.HandleFunc("POST /api/reject", s.auth(s.handleReject))
	mux.HandleFunc("POST /api/approve", s.auth(s.handleApprove))
	mux.HandleFunc("POST /api/publish", s.auth(s.handlePublish))
	mux.HandleFunc("POST /api/retry-sweep", s.auth(s.handleRetrySweep))
	mux.HandleFunc("GET /api/item", s.auth(s.handleGetItem))

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("x-api-key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status})
}

type itemRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleProcessItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !decode(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	result, err := s.orch.ProcessItem(r.Context(), req.ID, domain.TriggerManual)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeResult(w, result)
}

func (s *Server) handleEnrichStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id"`
		Step string `json:"step"`
	}
	if !decode(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	if req.Step == "" {
		writeError(w, http.StatusBadRequest, "step is required")
		return
	}
	result, err := s.orch.EnrichStep(r.Context(), req.ID, req.Step)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeResult(w, result)
}

func (s *Server) handleReenrich(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID           string `json:"id"`
		Step         string `json:"step"`
		TargetStatus int    `json:"target_status"`
	}
	if !decode(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	result, err := s.orch.Reenrich(r.Context(), domain.ReenrichCommand{
		ItemID:       req.ID,
		Step:         req.Step,
		TargetStatus: domain.StatusCode(req.TargetStatus),
	})
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeResult(w, result)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleOverride(w, r, s.orch.Reject)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleOverride(w, r, s.orch.Approve)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	s.handleOverride(w, r, s.orch.Publish)
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	var req itemRequest
	if !decode(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	if err := op(r.Context(), req.ID); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRetrySweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	stats, err := s.sched.Sweep(r.Context(), req.Limit)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if !requireID(w, id) {
		return
	}
	item, err := s.items.Get(r.Context(), id)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	itemRuns, err := s.runs.ListByItem(r.Context(), id)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item":   item,
		"status": s.reg.Name(item.StatusCode),
		"runs":   itemRuns,
	})
}

func (s *Server) writeResult(w http.ResponseWriter, result *orchestrator.RunResult) {
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":        result.RunID,
		"final_status":  s.reg.Name(result.Final),
		"retry_at":      result.RetryAt,
		"dead_lettered": result.DeadLettered,
		"deferred":      result.Deferred,
		"superseded":    result.Superseded,
	})
}

func (s *Server) writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func requireID(w http.ResponseWriter, id string) bool {
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
