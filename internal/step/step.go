// Package step defines the contract between the pipeline executor and the
// agents that implement individual enrichment steps.
package step

import (
	"context"

	"github.com/curatorhq/enrichd/internal/core/domain"
)

// Request is the input handed to a step handler: the item snapshot and the
// payload as of pickup. Handlers must not mutate either.
type Request struct {
	Item    *domain.QueueItem
	Payload domain.Payload
}

// Result is a successful step execution: the fields to merge into the payload
// and the enrichment record proving which version produced them.
type Result struct {
	Output map[string]any
	Meta   domain.StepMeta
}

// Handler executes one enrichment step. Handlers are invoked at least once
// per logical execution; the executor's version check keeps re-execution of
// already-enriched items cheap, but handlers must still tolerate being called
// twice for the same input. Failures are returned raw and classified by the
// caller.
type Handler interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a function to the Handler interface.
type Func func(ctx context.Context, req Request) (*Result, error)

func (f Func) Run(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
