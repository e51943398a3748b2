package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// QueueItem is one content unit progressing through the enrichment pipeline.
// It is mutated exclusively through conditional per-row updates in the item
// repository; in-memory copies are snapshots, never authoritative.
type QueueItem struct {
	ID               string     `db:"id"`
	StatusCode       StatusCode `db:"status_code"`
	SourceURL        string     `db:"source_url"`
	Payload          Payload    `db:"payload"`
	RetryAfter       *time.Time `db:"retry_after"`
	StepAttempt      int        `db:"step_attempt"`
	LastFailedStep   string     `db:"last_failed_step"`
	LastErrorMessage string     `db:"last_error_message"`
	LastErrorAt      *time.Time `db:"last_error_at"`
	CurrentRunID     string     `db:"current_run_id"`
	DiscoveredAt     time.Time  `db:"discovered_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// WaitingForRetry reports whether the item is inside a backoff window at t.
func (q *QueueItem) WaitingForRetry(t time.Time) bool {
	return q.RetryAfter != nil && t.Before(*q.RetryAfter)
}

// Payload is the semi-structured document carried by a queue item: the
// original content reference plus accumulated step output, with typed
// per-step enrichment metadata split out of the free-form fields.
type Payload struct {
	Fields         map[string]any
	EnrichmentMeta map[string]StepMeta
}

// NewPayload returns an empty payload with both maps allocated.
func NewPayload() Payload {
	return Payload{
		Fields:         make(map[string]any),
		EnrichmentMeta: make(map[string]StepMeta),
	}
}

// Meta returns the enrichment record for a step, or nil if the step has not
// produced output yet.
func (p Payload) Meta(step string) *StepMeta {
	m, ok := p.EnrichmentMeta[step]
	if !ok {
		return nil
	}
	return &m
}

// Merge returns a copy of the payload with the step output merged into the
// free-form fields and the step's enrichment record replaced. The receiver is
// not modified.
func (p Payload) Merge(step string, output map[string]any, meta StepMeta) Payload {
	out := Payload{
		Fields:         make(map[string]any, len(p.Fields)+len(output)),
		EnrichmentMeta: make(map[string]StepMeta, len(p.EnrichmentMeta)+1),
	}
	for k, v := range p.Fields {
		out.Fields[k] = v
	}
	for k, v := range output {
		out.Fields[k] = v
	}
	for k, v := range p.EnrichmentMeta {
		out.EnrichmentMeta[k] = v
	}
	out.EnrichmentMeta[step] = meta
	return out
}

// Clone returns a deep-enough copy: both maps are fresh, field values are
// shared.
func (p Payload) Clone() Payload {
	out := Payload{
		Fields:         make(map[string]any, len(p.Fields)),
		EnrichmentMeta: make(map[string]StepMeta, len(p.EnrichmentMeta)),
	}
	for k, v := range p.Fields {
		out.Fields[k] = v
	}
	for k, v := range p.EnrichmentMeta {
		out.EnrichmentMeta[k] = v
	}
	return out
}

const enrichmentMetaKey = "enrichment_meta"

// MarshalJSON flattens the payload into a single JSON object with the step
// records nested under "enrichment_meta", matching the stored jsonb shape.
func (p Payload) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(p.Fields)+1)
	for k, v := range p.Fields {
		doc[k] = v
	}
	if len(p.EnrichmentMeta) > 0 {
		doc[enrichmentMetaKey] = p.EnrichmentMeta
	}
	return json.Marshal(doc)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	doc := make(map[string]any)
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	p.Fields = make(map[string]any, len(doc))
	p.EnrichmentMeta = make(map[string]StepMeta)

	for k, v := range doc {
		if k != enrichmentMetaKey {
			p.Fields[k] = v
		}
	}
	raw, ok := doc[enrichmentMetaKey]
	if !ok {
		return nil
	}
	// Round-trip the nested object into the typed records.
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("invalid enrichment_meta: %w", err)
	}
	if err := json.Unmarshal(buf, &p.EnrichmentMeta); err != nil {
		return fmt.Errorf("invalid enrichment_meta: %w", err)
	}
	return nil
}

// Value implements driver.Valuer so the payload can be written as jsonb.
func (p Payload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for reading the jsonb column.
func (p *Payload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = NewPayload()
		return nil
	case []byte:
		return p.UnmarshalJSON(v)
	case string:
		return p.UnmarshalJSON([]byte(v))
	}
	return fmt.Errorf("unsupported payload source type %T", src)
}
