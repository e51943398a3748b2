// Package orchestrator drives items through the enrichment pipeline: it
// opens a pipeline run, executes the remaining steps in order behind the WIP
// guard, advances the status machine on success, and routes failures to a
// scheduled retry or the dead-letter status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/infra/storage"
	"github.com/curatorhq/enrichd/internal/pipeline/classify"
	"github.com/curatorhq/enrichd/internal/pipeline/executor"
	"github.com/curatorhq/enrichd/internal/pipeline/guard"
	"github.com/curatorhq/enrichd/internal/pipeline/metrics"
	"github.com/curatorhq/enrichd/internal/pipeline/registry"
)

// RunResult summarizes how a pipeline run ended.
type RunResult struct {
	RunID        string
	Final        domain.StatusCode
	RetryAt      *time.Time
	DeadLettered bool
	// Deferred is set when the WIP guard refused admission and the item was
	// left in place for a later pass.
	Deferred bool
	// Superseded is set when a concurrent writer moved the item first.
	Superseded bool
}

// Failed reports whether the run ended on a failure path.
func (r *RunResult) Failed() bool {
	return r.DeadLettered || r.RetryAt != nil
}

type Orchestrator struct {
	reg      *registry.Registry
	items    storage.ItemRepository
	runs     storage.RunRepository
	policies storage.RetryPolicyRepository
	exec     *executor.Executor
	guard    *guard.Guard
	log      *slog.Logger
	now      func() time.Time
}

func New(
	reg *registry.Registry,
	items storage.ItemRepository,
	runs storage.RunRepository,
	policies storage.RetryPolicyRepository,
	exec *executor.Executor,
	g *guard.Guard,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		reg:      reg,
		items:    items,
		runs:     runs,
		policies: policies,
		exec:     exec,
		guard:    g,
		log:      log.With("component", "orchestrator"),
		now:      time.Now,
	}
}

// ProcessItem drives an item from its current status through the remaining
// pipeline stages. Items not sitting at a working status are left untouched.
// The returned error covers infrastructure faults only; step failures are
// routed into the retry machinery and reported through the result.
func (o *Orchestrator) ProcessItem(ctx context.Context, id string, trigger domain.RunTrigger) (*RunResult, error) {
	item, err := o.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	steps := o.reg.StepsFrom(item.StatusCode)
	if len(steps) == 0 {
		o.log.Debug("item not at a working status, nothing to run",
			"item", id, "status", o.reg.Name(item.StatusCode))
		return &RunResult{Final: item.StatusCode}, nil
	}

	run, err := o.startRun(ctx, item, trigger, steps[0].Name)
	if err != nil {
		return nil, err
	}
	result := &RunResult{RunID: run.ID, Final: item.StatusCode}
	defer o.completeRun(ctx, run.ID)

	for _, spec := range steps {
		admitted, err := o.guard.Admit(ctx, spec, item)
		if err != nil {
			return result, fmt.Errorf("wip guard: %w", err)
		}
		if !admitted {
			o.log.Info("wip limit reached, deferring item",
				"item", id, "step", spec.Name)
			result.Deferred = true
			return result, nil
		}

		if _, err := o.exec.Execute(ctx, item, spec, false); err != nil {
			return result, o.routeFailure(ctx, item, spec, err, result)
		}

		if err := o.items.Advance(ctx, id, spec.WorkingStatus, spec.NextStatus); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				o.log.Warn("item moved by a concurrent writer, stopping run",
					"item", id, "step", spec.Name)
				result.Superseded = true
				return result, nil
			}
			return result, fmt.Errorf("advance %s: %w", spec.Name, err)
		}
		item.StatusCode = spec.NextStatus
		result.Final = spec.NextStatus
	}

	o.log.Info("pipeline completed", "item", id, "status", o.reg.Name(item.StatusCode))
	return result, nil
}

// EnrichStep force-runs a single named step for an item, bypassing the
// up-to-date check. If the item currently sits at the step's working status
// it advances on success; otherwise only the payload is refreshed.
func (o *Orchestrator) EnrichStep(ctx context.Context, id, stepName string) (*RunResult, error) {
	spec, ok := o.reg.StepByName(stepName)
	if !ok {
		return nil, fmt.Errorf("unknown step %q", stepName)
	}
	item, err := o.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	run, err := o.startRun(ctx, item, domain.TriggerManual, spec.Name)
	if err != nil {
		return nil, err
	}
	result := &RunResult{RunID: run.ID, Final: item.StatusCode}
	defer o.completeRun(ctx, run.ID)

	if _, err := o.exec.Execute(ctx, item, spec, true); err != nil {
		return result, o.routeFailure(ctx, item, spec, err, result)
	}

	if item.StatusCode == spec.WorkingStatus {
		err := o.items.Advance(ctx, id, spec.WorkingStatus, spec.NextStatus)
		if errors.Is(err, storage.ErrConflict) {
			result.Superseded = true
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("advance %s: %w", spec.Name, err)
		}
		result.Final = spec.NextStatus
	}
	return result, nil
}

// Reenrich handles the manual re-enrichment command: a full-pipeline command
// resets the item to pending_enrichment and runs everything again, a
// step-scoped one force-runs just that step.
func (o *Orchestrator) Reenrich(ctx context.Context, cmd domain.ReenrichCommand) (*RunResult, error) {
	if cmd.FullPipeline() {
		if err := o.items.SetStatus(ctx, cmd.ItemID, domain.StatusPendingEnrichment); err != nil {
			return nil, err
		}
		return o.ProcessItem(ctx, cmd.ItemID, domain.TriggerReenrich)
	}

	result, err := o.EnrichStep(ctx, cmd.ItemID, cmd.Step)
	if err != nil || result.Failed() {
		return result, err
	}
	if cmd.TargetStatus != 0 && cmd.TargetStatus != result.Final {
		if !o.reg.Known(cmd.TargetStatus) {
			return result, fmt.Errorf("unknown target status %d", cmd.TargetStatus)
		}
		if err := o.items.SetStatus(ctx, cmd.ItemID, cmd.TargetStatus); err != nil {
			return result, err
		}
		result.Final = cmd.TargetStatus
	}
	return result, nil
}

// Reject is the manual override that marks an item failed, cancelling any
// running pipeline run.
func (o *Orchestrator) Reject(ctx context.Context, id string) error {
	item, err := o.items.Get(ctx, id)
	if err != nil {
		return err
	}
	if !o.reg.IsValidTransition(item.StatusCode, domain.StatusFailed) {
		return fmt.Errorf("cannot reject item at status %s", o.reg.Name(item.StatusCode))
	}
	if n, err := o.runs.CancelRunning(ctx, id, o.now()); err != nil {
		return err
	} else if n > 0 {
		metrics.RunsCancelled.Add(float64(n))
	}
	return o.items.SetStatus(ctx, id, domain.StatusFailed)
}

// Approve moves a reviewed item from pending_review to approved.
func (o *Orchestrator) Approve(ctx context.Context, id string) error {
	return o.items.Advance(ctx, id, domain.StatusPendingReview, domain.StatusApproved)
}

// Publish moves an approved item to published.
func (o *Orchestrator) Publish(ctx context.Context, id string) error {
	return o.items.Advance(ctx, id, domain.StatusApproved, domain.StatusPublished)
}

func (o *Orchestrator) startRun(ctx context.Context, item *domain.QueueItem, trigger domain.RunTrigger, startedStep string) (*domain.PipelineRun, error) {
	now := o.now()
	cancelled, err := o.runs.CancelRunning(ctx, item.ID, now)
	if err != nil {
		return nil, fmt.Errorf("cancel prior runs: %w", err)
	}
	if cancelled > 0 {
		metrics.RunsCancelled.Add(float64(cancelled))
		o.log.Info("cancelled prior running runs", "item", item.ID, "count", cancelled)
	}

	run := &domain.PipelineRun{
		ID:          uuid.NewString(),
		QueueItemID: item.ID,
		Trigger:     trigger,
		Status:      domain.RunStatusRunning,
		StartedStep: startedStep,
		CreatedAt:   now,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := o.items.SetCurrentRun(ctx, item.ID, run.ID); err != nil {
		return nil, fmt.Errorf("record current run: %w", err)
	}
	metrics.RunsStarted.WithLabelValues(string(trigger)).Inc()
	return run, nil
}

func (o *Orchestrator) completeRun(ctx context.Context, runID string) {
	if err := o.runs.Complete(ctx, runID, domain.RunStatusCompleted, o.now()); err != nil {
		o.log.Error("failed to complete run", "run", runID, "error", err)
	}
}

// routeFailure applies the retry decision for one failed step execution.
// Terminal failures dead-letter immediately; retryable ones are scheduled
// with backoff until the step's attempt budget runs out. The returned error
// is non-nil only when the bookkeeping itself fails.
func (o *Orchestrator) routeFailure(ctx context.Context, item *domain.QueueItem, spec registry.StepSpec, failure error, result *RunResult) error {
	c := classify.Classify(failure)
	now := o.now()
	attempt := item.StepAttempt

	log := o.log.With("item", item.ID, "step", spec.Name,
		"attempt", attempt, "failure_type", string(c.Type))

	if !c.Retryable {
		reason := fmt.Sprintf("%s: %v", c.Reason, failure)
		if err := o.items.DeadLetter(ctx, item.ID, spec.Name, reason, now); err != nil {
			return fmt.Errorf("dead-letter item: %w", err)
		}
		metrics.DeadLettered.WithLabelValues(spec.Name, "terminal").Inc()
		log.Warn("terminal failure, item dead-lettered", "error", failure)
		result.Final = domain.StatusDeadLetter
		result.DeadLettered = true
		return nil
	}

	ok, err := o.policies.ShouldRetry(ctx, spec.Name, attempt)
	if err != nil {
		return fmt.Errorf("retry decision: %w", err)
	}
	if !ok {
		reason := fmt.Sprintf("retries exhausted after %d attempts: %v", attempt, failure)
		if err := o.items.DeadLetter(ctx, item.ID, spec.Name, reason, now); err != nil {
			return fmt.Errorf("dead-letter item: %w", err)
		}
		metrics.DeadLettered.WithLabelValues(spec.Name, "exhausted").Inc()
		log.Warn("retry budget exhausted, item dead-lettered", "error", failure)
		result.Final = domain.StatusDeadLetter
		result.DeadLettered = true
		return nil
	}

	retryAt, err := o.policies.NextRetryAt(ctx, spec.Name, attempt+1, c.Type, now)
	if err != nil {
		return fmt.Errorf("compute retry time: %w", err)
	}
	if err := o.items.ScheduleRetry(ctx, item.ID, spec.Name, attempt, retryAt, now, failure.Error()); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	metrics.RetriesScheduled.WithLabelValues(spec.Name, string(c.Type)).Inc()
	log.Info("retry scheduled", "retry_after", retryAt, "error", failure)
	result.Final = item.StatusCode
	result.RetryAt = &retryAt
	return nil
}
