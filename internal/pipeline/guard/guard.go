// Package guard enforces per-step work-in-progress limits: a step is admitted
// only while the number of items sitting at its working status is under the
// configured ceiling. The count is a snapshot, so the limit is approximate
// under concurrency.
package guard

import (
	"context"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/pipeline/metrics"
	"github.com/curatorhq/enrichd/internal/pipeline/registry"
)

// Counter is the slice of the item repository the guard needs.
type Counter interface {
	CountByStatus(ctx context.Context, code domain.StatusCode) (int, error)
}

type Guard struct {
	counter Counter
	limits  map[string]int
}

// New builds a guard from per-step limits. A step with no entry, or a limit
// of zero or less, is unguarded.
func New(counter Counter, limits map[string]int) *Guard {
	return &Guard{counter: counter, limits: limits}
}

// Admit reports whether the step may take on the given item right now. The
// item itself already holds the working status at admission time, so it is
// excluded from the occupancy count.
func (g *Guard) Admit(ctx context.Context, step registry.StepSpec, self *domain.QueueItem) (bool, error) {
	limit, ok := g.limits[step.Name]
	if !ok || limit <= 0 {
		return true, nil
	}
	count, err := g.counter.CountByStatus(ctx, step.WorkingStatus)
	if err != nil {
		return false, err
	}
	if self != nil && self.StatusCode == step.WorkingStatus {
		count--
	}
	if count >= limit {
		metrics.WIPRejections.WithLabelValues(step.Name).Inc()
		return false, nil
	}
	return true, nil
}
