package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/pipeline/classify"
	"github.com/curatorhq/enrichd/internal/step"
)

func testRequest() step.Request {
	payload := domain.NewPayload()
	payload.Fields["title"] = "An Article"
	return step.Request{
		Item: &domain.QueueItem{
			ID:        "item-1",
			SourceURL: "https://example.com/article",
			Payload:   payload,
		},
		Payload: payload,
	}
}

func TestInvoke_Success(t *testing.T) {
	var gotBody map[string]any
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{"summary": "short"},
			"meta": map[string]any{
				"agent_type":   "model",
				"version_id":   "summarize-v1",
				"model":        "gpt-4o-mini",
				"processed_at": time.Now().UTC(),
			},
		})
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	handler := client.Handler("summarize", Config{Endpoint: srv.URL, APIKey: "secret"})

	result, err := handler.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Output["summary"] != "short" {
		t.Errorf("output = %v", result.Output)
	}
	if result.Meta.VersionID != "summarize-v1" {
		t.Errorf("meta = %+v", result.Meta)
	}
	if err := result.Meta.Validate(); err != nil {
		t.Errorf("meta invalid: %v", err)
	}

	if gotKey != "secret" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotBody["item_id"] != "item-1" || gotBody["step"] != "summarize" {
		t.Errorf("request body = %v", gotBody)
	}
	if payload, ok := gotBody["payload"].(map[string]any); !ok || payload["title"] != "An Article" {
		t.Errorf("payload not forwarded: %v", gotBody["payload"])
	}
}

func TestInvoke_NonOKBecomesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	handler := client.Handler("summarize", Config{Endpoint: srv.URL})

	_, err := handler.Run(context.Background(), testRequest())
	var httpErr *classify.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *classify.HTTPError", err)
	}
	if httpErr.StatusCode != 429 || httpErr.Message != "rate limit exceeded" {
		t.Fatalf("httpErr = %+v", httpErr)
	}

	if c := classify.Classify(err); c.Type != classify.TypeRateLimit {
		t.Errorf("classified as %s, want rate_limit", c.Type)
	}
}

func TestInvoke_PlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	handler := client.Handler("tag", Config{Endpoint: srv.URL})

	_, err := handler.Run(context.Background(), testRequest())
	var httpErr *classify.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *classify.HTTPError", err)
	}
	if httpErr.StatusCode != 502 || httpErr.Message != "bad gateway" {
		t.Fatalf("httpErr = %+v", httpErr)
	}
}

func TestInvoke_FillsMissingProcessedAt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{},
			"meta": map[string]any{
				"agent_type":            "utility",
				"implementation_version": "1.0.0",
			},
		})
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	handler := client.Handler("thumbnail", Config{Endpoint: srv.URL})

	result, err := handler.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Meta.ProcessedAt.IsZero() {
		t.Error("processed_at should be filled in when the agent omits it")
	}
}
