package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/pipeline/registry"
)

type fakeCounter struct {
	counts map[domain.StatusCode]int
	err    error
}

func (f *fakeCounter) CountByStatus(ctx context.Context, code domain.StatusCode) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[code], nil
}

func summarizeSpec(t *testing.T) registry.StepSpec {
	t.Helper()
	spec, ok := registry.New().StepByName(registry.StepSummarize)
	if !ok {
		t.Fatal("summarize step missing")
	}
	return spec
}

func TestAdmit_UnderLimit(t *testing.T) {
	counter := &fakeCounter{counts: map[domain.StatusCode]int{domain.StatusSummarizing: 4}}
	g := New(counter, map[string]int{registry.StepSummarize: 5})

	ok, err := g.Admit(context.Background(), summarizeSpec(t), nil)
	if err != nil {
		t.Fatalf("Admit error: %v", err)
	}
	if !ok {
		t.Fatal("expected admission under the limit")
	}
}

func TestAdmit_AtLimit(t *testing.T) {
	counter := &fakeCounter{counts: map[domain.StatusCode]int{domain.StatusSummarizing: 5}}
	g := New(counter, map[string]int{registry.StepSummarize: 5})

	ok, err := g.Admit(context.Background(), summarizeSpec(t), nil)
	if err != nil {
		t.Fatalf("Admit error: %v", err)
	}
	if ok {
		t.Fatal("expected refusal at the limit")
	}
}

func TestAdmit_UnconfiguredStepIsUnguarded(t *testing.T) {
	counter := &fakeCounter{counts: map[domain.StatusCode]int{domain.StatusSummarizing: 1000}}
	g := New(counter, map[string]int{registry.StepTag: 5})

	ok, err := g.Admit(context.Background(), summarizeSpec(t), nil)
	if err != nil || !ok {
		t.Fatalf("Admit = %v, %v; unconfigured step should always admit", ok, err)
	}
}

func TestAdmit_ZeroLimitIsUnguarded(t *testing.T) {
	counter := &fakeCounter{counts: map[domain.StatusCode]int{domain.StatusSummarizing: 1000}}
	g := New(counter, map[string]int{registry.StepSummarize: 0})

	ok, _ := g.Admit(context.Background(), summarizeSpec(t), nil)
	if !ok {
		t.Fatal("zero limit should mean unguarded")
	}
}

func TestAdmit_ExcludesSelf(t *testing.T) {
	// The item being admitted already sits at the working status; it must
	// not block itself.
	counter := &fakeCounter{counts: map[domain.StatusCode]int{domain.StatusSummarizing: 1}}
	g := New(counter, map[string]int{registry.StepSummarize: 1})

	self := &domain.QueueItem{ID: "a", StatusCode: domain.StatusSummarizing}
	ok, err := g.Admit(context.Background(), summarizeSpec(t), self)
	if err != nil {
		t.Fatalf("Admit error: %v", err)
	}
	if !ok {
		t.Fatal("sole occupant must admit itself")
	}

	counter.counts[domain.StatusSummarizing] = 2
	ok, _ = g.Admit(context.Background(), summarizeSpec(t), self)
	if ok {
		t.Fatal("expected refusal with another occupant at the limit")
	}
}

func TestAdmit_CountError(t *testing.T) {
	counter := &fakeCounter{err: errors.New("db down")}
	g := New(counter, map[string]int{registry.StepSummarize: 5})

	if _, err := g.Admit(context.Background(), summarizeSpec(t), nil); err == nil {
		t.Fatal("expected error from counter to propagate")
	}
}
