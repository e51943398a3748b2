// Package agent invokes the remote enrichment agents over HTTP. Each pipeline
// step maps to one agent endpoint; the client adapts an endpoint into a step
// handler the executor can run.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/pipeline/classify"
	"github.com/curatorhq/enrichd/internal/step"
)

// Config describes one agent endpoint.
type Config struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Client is the shared HTTP client across all agent endpoints.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an agent client with pooled connections.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// request is the wire shape sent to an agent.
type request struct {
	ItemID    string         `json:"item_id"`
	Step      string         `json:"step"`
	SourceURL string         `json:"source_url"`
	Payload   map[string]any `json:"payload"`
}

// response is the wire shape an agent returns on success.
type response struct {
	Output map[string]any  `json:"output"`
	Meta   domain.StepMeta `json:"meta"`
}

// Handler returns a step handler that invokes the configured agent endpoint.
func (c *Client) Handler(stepName string, cfg Config) step.Handler {
	return step.Func(func(ctx context.Context, req step.Request) (*step.Result, error) {
		return c.invoke(ctx, stepName, cfg, req)
	})
}

func (c *Client) invoke(ctx context.Context, stepName string, cfg Config, in step.Request) (*step.Result, error) {
	body, err := json.Marshal(request{
		ItemID:    in.Item.ID,
		Step:      stepName,
		SourceURL: in.Item.SourceURL,
		Payload:   in.Payload.Fields,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpReq.Header.Set("x-api-key", cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &classify.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	if out.Meta.ProcessedAt.IsZero() {
		out.Meta.ProcessedAt = time.Now().UTC()
	}
	return &step.Result{Output: out.Output, Meta: out.Meta}, nil
}

// errorMessage extracts a short message from an agent error body, which may
// be JSON with an "error" field or plain text.
func errorMessage(raw []byte) string {
	var doc struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &doc); err == nil {
		if doc.Error != "" {
			return doc.Error
		}
		if doc.Message != "" {
			return doc.Message
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
