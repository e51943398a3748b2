// Package registry defines the fixed pipeline stage ordering: the status code
// table, the step specs bound to each working status, and the transition
// rules every status change must pass through.
package registry

import (
	"fmt"

	"github.com/curatorhq/enrichd/internal/core/domain"
)

// Step names, in pipeline order.
const (
	StepFilter    = "filter"
	StepSummarize = "summarize"
	StepTag       = "tag"
	StepThumbnail = "thumbnail"
)

// StepSpec binds a pipeline step to the status code the item holds while the
// step executes (or waits out a retry) and the status it advances to on
// success.
type StepSpec struct {
	Name          string
	Kind          domain.AgentType
	WorkingStatus domain.StatusCode
	NextStatus    domain.StatusCode
}

// Entry describes one registered status code.
type Entry struct {
	Code     domain.StatusCode
	Name     string
	Category domain.StatusCategory
}

// Registry is the loaded status table plus transition rules. Built once via
// New and validated at startup; lookups after that never fail silently.
type Registry struct {
	entries map[domain.StatusCode]Entry
	normal  map[domain.StatusCode][]domain.StatusCode
	steps   []StepSpec
}

// Manual override targets, legal from any status.
var overrideTargets = map[domain.StatusCode]bool{
	domain.StatusPendingEnrichment: true, // force re-enrich
	domain.StatusFailed:            true, // manual reject
}

// New builds the fixed registry. The table is code, not configuration: an
// unknown code anywhere in the process is a bug, caught by Validate.
func New() *Registry {
	r := &Registry{
		entries: make(map[domain.StatusCode]Entry),
		normal:  make(map[domain.StatusCode][]domain.StatusCode),
		steps: []StepSpec{
			{Name: StepFilter, Kind: domain.AgentTypeModel, WorkingStatus: domain.StatusPendingEnrichment, NextStatus: domain.StatusSummarizing},
			{Name: StepSummarize, Kind: domain.AgentTypeModel, WorkingStatus: domain.StatusSummarizing, NextStatus: domain.StatusTagging},
			{Name: StepTag, Kind: domain.AgentTypeModel, WorkingStatus: domain.StatusTagging, NextStatus: domain.StatusThumbnailing},
			{Name: StepThumbnail, Kind: domain.AgentTypeUtility, WorkingStatus: domain.StatusThumbnailing, NextStatus: domain.StatusPendingReview},
		},
	}

	for _, e := range []Entry{
		{domain.StatusPendingEnrichment, "pending_enrichment", domain.CategoryPending},
		{domain.StatusSummarizing, "summarizing", domain.CategoryWorking},
		{domain.StatusTagging, "tagging", domain.CategoryWorking},
		{domain.StatusThumbnailing, "thumbnailing", domain.CategoryWorking},
		{domain.StatusPendingReview, "pending_review", domain.CategoryManualReview},
		{domain.StatusApproved, "approved", domain.CategoryManualReview},
		{domain.StatusPublished, "published", domain.CategoryTerminalSuccess},
		{domain.StatusFailed, "failed", domain.CategoryTerminalFailure},
		{domain.StatusDeadLetter, "dead_letter", domain.CategoryTerminalFailure},
	} {
		r.entries[e.Code] = e
	}

	// Normal (non-override) transitions: each step advances to the next
	// stage, and any stage a step runs at may dead-letter.
	for _, s := range r.steps {
		r.normal[s.WorkingStatus] = []domain.StatusCode{s.NextStatus, domain.StatusDeadLetter}
	}
	r.normal[domain.StatusPendingReview] = []domain.StatusCode{domain.StatusApproved}
	r.normal[domain.StatusApproved] = []domain.StatusCode{domain.StatusPublished}

	return r
}

// Validate checks the table's internal consistency. Called once at startup;
// a failure here is a configuration error and must abort the process.
func (r *Registry) Validate() error {
	for from, tos := range r.normal {
		if _, ok := r.entries[from]; !ok {
			return fmt.Errorf("transition source %d is not a registered status", from)
		}
		for _, to := range tos {
			if _, ok := r.entries[to]; !ok {
				return fmt.Errorf("transition %d -> %d targets an unregistered status", from, to)
			}
		}
	}
	for target := range overrideTargets {
		if _, ok := r.entries[target]; !ok {
			return fmt.Errorf("override target %d is not a registered status", target)
		}
	}
	for _, s := range r.steps {
		if _, ok := r.entries[s.WorkingStatus]; !ok {
			return fmt.Errorf("step %s working status %d is unregistered", s.Name, s.WorkingStatus)
		}
		if _, ok := r.entries[s.NextStatus]; !ok {
			return fmt.Errorf("step %s next status %d is unregistered", s.Name, s.NextStatus)
		}
	}
	return nil
}

// Known reports whether the code is in the table.
func (r *Registry) Known(code domain.StatusCode) bool {
	_, ok := r.entries[code]
	return ok
}

// Name returns the symbolic name for a code.
func (r *Registry) Name(code domain.StatusCode) string {
	if e, ok := r.entries[code]; ok {
		return e.Name
	}
	return fmt.Sprintf("unknown(%d)", int(code))
}

// CategoryOf returns the category for a code, failing on unknown codes.
func (r *Registry) CategoryOf(code domain.StatusCode) (domain.StatusCategory, error) {
	e, ok := r.entries[code]
	if !ok {
		return "", fmt.Errorf("unknown status code %d", code)
	}
	return e.Category, nil
}

// IsValidTransition reports whether to is the next stage after from, or a
// recognized manual override target (reject, force re-enrich), which is legal
// regardless of from.
func (r *Registry) IsValidTransition(from, to domain.StatusCode) bool {
	if !r.Known(from) || !r.Known(to) {
		return false
	}
	if overrideTargets[to] && from != to {
		return true
	}
	for _, next := range r.normal[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Steps returns the full pipeline order.
func (r *Registry) Steps() []StepSpec {
	out := make([]StepSpec, len(r.steps))
	copy(out, r.steps)
	return out
}

// StepByName looks up a step spec.
func (r *Registry) StepByName(name string) (StepSpec, bool) {
	for _, s := range r.steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepSpec{}, false
}

// StepForStatus returns the step that executes while an item holds the given
// status code, if any.
func (r *Registry) StepForStatus(code domain.StatusCode) (StepSpec, bool) {
	for _, s := range r.steps {
		if s.WorkingStatus == code {
			return s, true
		}
	}
	return StepSpec{}, false
}

// StepsFrom returns the remaining pipeline order starting at the step that
// runs at the given status. A status past the last step yields an empty
// slice.
func (r *Registry) StepsFrom(code domain.StatusCode) []StepSpec {
	for i, s := range r.steps {
		if s.WorkingStatus == code {
			out := make([]StepSpec, len(r.steps)-i)
			copy(out, r.steps[i:])
			return out
		}
	}
	return nil
}
