package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/infra/storage/memory"
	"github.com/curatorhq/enrichd/internal/pipeline/executor"
	"github.com/curatorhq/enrichd/internal/pipeline/guard"
	"github.com/curatorhq/enrichd/internal/pipeline/orchestrator"
	"github.com/curatorhq/enrichd/internal/pipeline/registry"
	"github.com/curatorhq/enrichd/internal/pipeline/scheduler"
	"github.com/curatorhq/enrichd/internal/step"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T) (*Server, *memory.ItemRepo) {
	t.Helper()
	store := memory.NewMemoryStorage()
	items := memory.NewItemRepo(store)
	runs := memory.NewRunRepo(store)
	policies := memory.NewPolicyRepo(store)
	versions := memory.NewVersionRepo(store)

	reg := registry.New()
	handlers := make(map[string]step.Handler)
	for _, s := range reg.Steps() {
		kind := s.Kind
		name := s.Name
		handlers[name] = step.Func(func(ctx context.Context, req step.Request) (*step.Result, error) {
			meta := domain.StepMeta{AgentType: kind, ProcessedAt: time.Now()}
			if kind == domain.AgentTypeModel {
				meta.VersionID = name + "-v1"
				meta.Model = "gpt-4o-mini"
			} else {
				meta.ImplementationVersion = "1.0.0"
			}
			return &step.Result{Output: map[string]any{name: "ok"}, Meta: meta}, nil
		})
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := executor.New(items, versions, handlers, log)
	orch := orchestrator.New(reg, items, runs, policies, exec, guard.New(items, nil), log)
	sched := scheduler.New(items, orch, nil, log)
	return NewServer(orch, sched, items, runs, reg, nil, 0, testAPIKey, log), items
}

func doRequest(t *testing.T, s *Server, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("x-api-key", testAPIKey)
	}
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func seedItem(t *testing.T, items *memory.ItemRepo, id string, code domain.StatusCode) {
	t.Helper()
	item := &domain.QueueItem{
		ID:           id,
		StatusCode:   code,
		SourceURL:    "https://example.com/" + id,
		Payload:      domain.NewPayload(),
		DiscoveredAt: time.Now(),
	}
	if err := items.Insert(context.Background(), item); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestAuth_RejectsMissingKey(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/process-item", `{"id":"a"}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestProcessItem_RunsPipeline(t *testing.T) {
	s, items := newTestServer(t)
	seedItem(t, items, "a", domain.StatusPendingEnrichment)

	rec := doRequest(t, s, http.MethodPost, "/api/process-item", `{"id":"a"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["final_status"] != "pending_review" {
		t.Fatalf("final_status = %v", body["final_status"])
	}
	if body["run_id"] == "" {
		t.Fatal("run_id missing")
	}
}

func TestProcessItem_UnknownItem(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/process-item", `{"id":"nope"}`, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
}

func TestProcessItem_BadBody(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/process-item", `{`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/process-item", `{}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400 for missing id", rec.Code)
	}
}

func TestApprove_ConflictMapsTo409(t *testing.T) {
	s, items := newTestServer(t)
	seedItem(t, items, "a", domain.StatusPendingReview)

	rec := doRequest(t, s, http.MethodPost, "/api/approve", `{"id":"a"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("first approve: code = %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/approve", `{"id":"a"}`, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second approve: code = %d, want 409", rec.Code)
	}
}

func TestGetItem(t *testing.T) {
	s, items := newTestServer(t)
	seedItem(t, items, "a", domain.StatusPendingEnrichment)
	doRequest(t, s, http.MethodPost, "/api/process-item", `{"id":"a"}`, true)

	rec := doRequest(t, s, http.MethodGet, "/api/item?id=a", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body struct {
		Status string           `json:"status"`
		Runs   []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "pending_review" {
		t.Errorf("status = %s", body.Status)
	}
	if len(body.Runs) != 1 {
		t.Errorf("runs = %d, want 1", len(body.Runs))
	}
}

func TestRetrySweep(t *testing.T) {
	s, items := newTestServer(t)
	past := time.Now().Add(-time.Minute)
	item := &domain.QueueItem{
		ID:           "due",
		StatusCode:   domain.StatusSummarizing,
		SourceURL:    "https://example.com/due",
		Payload:      domain.NewPayload(),
		RetryAfter:   &past,
		DiscoveredAt: time.Now().Add(-time.Hour),
	}
	if err := items.Insert(context.Background(), item); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec := doRequest(t, s, http.MethodPost, "/api/retry-sweep", `{"limit":10}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
	}
	var stats scheduler.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Processed != 1 || stats.Succeeded != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
