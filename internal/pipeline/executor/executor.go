// Package executor runs a single enrichment step against an item: it checks
// whether the stored output is already up to date, invokes the handler if
// not, and persists the merged payload.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/infra/storage"
	"github.com/curatorhq/enrichd/internal/pipeline/metrics"
	"github.com/curatorhq/enrichd/internal/pipeline/registry"
	"github.com/curatorhq/enrichd/internal/pipeline/version"
	"github.com/curatorhq/enrichd/internal/step"
)

// Outcome reports how a step execution ended.
type Outcome string

const (
	// OutcomeExecuted means the handler ran and its output was persisted.
	OutcomeExecuted Outcome = "executed"
	// OutcomeSkipped means the stored output was already produced by the
	// active version and the handler was not invoked.
	OutcomeSkipped Outcome = "skipped"
)

type Executor struct {
	items    storage.ItemRepository
	versions storage.VersionRepository
	handlers map[string]step.Handler
	log      *slog.Logger
}

func New(items storage.ItemRepository, versions storage.VersionRepository, handlers map[string]step.Handler, log *slog.Logger) *Executor {
	return &Executor{
		items:    items,
		versions: versions,
		handlers: handlers,
		log:      log.With("component", "executor"),
	}
}

// Execute runs one step for an item. The item argument is the pickup
// snapshot; the payload is re-read before the merge is written so concurrent
// enrichment of other steps is not lost. With force set, the up-to-date check
// is bypassed and the handler always runs. Handler failures are returned raw
// for the caller to classify.
func (e *Executor) Execute(ctx context.Context, item *domain.QueueItem, spec registry.StepSpec, force bool) (Outcome, error) {
	handler, ok := e.handlers[spec.Name]
	if !ok {
		return "", fmt.Errorf("no handler registered for step %s", spec.Name)
	}

	current, err := e.versions.CurrentVersion(ctx, spec.Name)
	if err != nil && !errors.Is(err, storage.ErrVersionNotFound) {
		return "", fmt.Errorf("resolve step version: %w", err)
	}

	if !force && version.UpToDate(item.Payload.Meta(spec.Name), current) {
		metrics.StepsSkipped.WithLabelValues(spec.Name).Inc()
		e.log.Debug("step output up to date, skipping",
			"item", item.ID, "step", spec.Name)
		return OutcomeSkipped, nil
	}

	start := time.Now()
	result, err := handler.Run(ctx, step.Request{Item: item, Payload: item.Payload.Clone()})
	metrics.StepDuration.WithLabelValues(spec.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StepsExecuted.WithLabelValues(spec.Name, "failure").Inc()
		return "", err
	}
	if result == nil {
		metrics.StepsExecuted.WithLabelValues(spec.Name, "failure").Inc()
		return "", fmt.Errorf("step %s returned no result", spec.Name)
	}
	if err := result.Meta.Validate(); err != nil {
		metrics.StepsExecuted.WithLabelValues(spec.Name, "failure").Inc()
		return "", fmt.Errorf("step %s produced invalid meta: %w", spec.Name, err)
	}

	// Merge into the latest stored payload, not the pickup snapshot.
	latest, err := e.items.Get(ctx, item.ID)
	if err != nil {
		return "", fmt.Errorf("reload item for merge: %w", err)
	}
	merged := latest.Payload.Merge(spec.Name, result.Output, result.Meta)
	if err := e.items.SetPayload(ctx, item.ID, merged); err != nil {
		return "", fmt.Errorf("persist step output: %w", err)
	}
	item.Payload = merged

	metrics.StepsExecuted.WithLabelValues(spec.Name, "success").Inc()
	e.log.Info("step executed",
		"item", item.ID, "step", spec.Name, "duration", time.Since(start))
	return OutcomeExecuted, nil
}
