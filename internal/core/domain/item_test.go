package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPayload_MergeDoesNotModifyReceiver(t *testing.T) {
	p := NewPayload()
	p.Fields["title"] = "original"

	meta := StepMeta{
		AgentType: AgentTypeModel, VersionID: "summarize-v1",
		Model: "gpt-4o-mini", ProcessedAt: time.Now(),
	}
	merged := p.Merge("summarize", map[string]any{"summary": "short", "title": "rewritten"}, meta)

	if p.Fields["title"] != "original" || len(p.EnrichmentMeta) != 0 {
		t.Fatalf("receiver modified: %+v", p)
	}
	if merged.Fields["title"] != "rewritten" || merged.Fields["summary"] != "short" {
		t.Fatalf("merged fields = %v", merged.Fields)
	}
	if got := merged.Meta("summarize"); got == nil || got.VersionID != "summarize-v1" {
		t.Fatalf("merged meta = %+v", got)
	}
}

func TestPayload_JSONRoundTrip(t *testing.T) {
	p := NewPayload()
	p.Fields["title"] = "An Article"
	p.EnrichmentMeta["thumbnail"] = StepMeta{
		AgentType:             AgentTypeUtility,
		ImplementationVersion: "1.0.0",
		ProcessedAt:           time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	buf, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// The enrichment records live under one reserved key next to the free-form
	// fields.
	var flat map[string]any
	if err := json.Unmarshal(buf, &flat); err != nil {
		t.Fatalf("unmarshal flat: %v", err)
	}
	if flat["title"] != "An Article" {
		t.Errorf("flat doc = %v", flat)
	}
	if _, ok := flat["enrichment_meta"]; !ok {
		t.Fatal("enrichment_meta key missing from stored shape")
	}

	var back Payload
	if err := json.Unmarshal(buf, &back); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if back.Fields["title"] != "An Article" {
		t.Errorf("fields = %v", back.Fields)
	}
	if _, ok := back.Fields["enrichment_meta"]; ok {
		t.Error("reserved key leaked into free-form fields")
	}
	meta := back.Meta("thumbnail")
	if meta == nil || meta.ImplementationVersion != "1.0.0" || meta.AgentType != AgentTypeUtility {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestPayload_ScanNull(t *testing.T) {
	var p Payload
	if err := p.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if p.Fields == nil || p.EnrichmentMeta == nil {
		t.Fatal("scanned NULL payload must have allocated maps")
	}
}

func TestStepMeta_Validate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		meta    StepMeta
		wantErr bool
	}{
		{"valid model", StepMeta{AgentType: AgentTypeModel, VersionID: "v1", Model: "gpt-4o-mini", ProcessedAt: now}, false},
		{"valid utility", StepMeta{AgentType: AgentTypeUtility, ImplementationVersion: "1.0.0", ProcessedAt: now}, false},
		{"model missing version_id", StepMeta{AgentType: AgentTypeModel, Model: "gpt-4o-mini", ProcessedAt: now}, true},
		{"model missing model", StepMeta{AgentType: AgentTypeModel, VersionID: "v1", ProcessedAt: now}, true},
		{"utility missing implementation_version", StepMeta{AgentType: AgentTypeUtility, ProcessedAt: now}, true},
		{"unknown agent type", StepMeta{AgentType: "cron", ProcessedAt: now}, true},
		{"missing processed_at", StepMeta{AgentType: AgentTypeUtility, ImplementationVersion: "1.0.0"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.meta.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestQueueItem_WaitingForRetry(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	item := &QueueItem{}
	if item.WaitingForRetry(now) {
		t.Error("no window set, must not be waiting")
	}
	item.RetryAfter = &future
	if !item.WaitingForRetry(now) {
		t.Error("inside the window, must be waiting")
	}
	item.RetryAfter = &past
	if item.WaitingForRetry(now) {
		t.Error("window elapsed, must not be waiting")
	}
}
