package registry

import (
	"testing"

	"github.com/curatorhq/enrichd/internal/core/domain"
)

func TestValidate(t *testing.T) {
	if err := New().Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestPipelineOrder(t *testing.T) {
	r := New()
	steps := r.Steps()
	want := []string{StepFilter, StepSummarize, StepTag, StepThumbnail}
	if len(steps) != len(want) {
		t.Fatalf("got %d steps, want %d", len(steps), len(want))
	}
	for i, name := range want {
		if steps[i].Name != name {
			t.Errorf("step %d = %s, want %s", i, steps[i].Name, name)
		}
	}
	// Each step's next status is the following step's working status.
	for i := 0; i < len(steps)-1; i++ {
		if steps[i].NextStatus != steps[i+1].WorkingStatus {
			t.Errorf("step %s advances to %d, next step works at %d",
				steps[i].Name, steps[i].NextStatus, steps[i+1].WorkingStatus)
		}
	}
	if steps[len(steps)-1].NextStatus != domain.StatusPendingReview {
		t.Errorf("last step should land on pending_review")
	}
}

func TestCategoryOf(t *testing.T) {
	r := New()
	cases := []struct {
		code domain.StatusCode
		want domain.StatusCategory
	}{
		{domain.StatusPendingEnrichment, domain.CategoryPending},
		{domain.StatusSummarizing, domain.CategoryWorking},
		{domain.StatusTagging, domain.CategoryWorking},
		{domain.StatusThumbnailing, domain.CategoryWorking},
		{domain.StatusPendingReview, domain.CategoryManualReview},
		{domain.StatusApproved, domain.CategoryManualReview},
		{domain.StatusPublished, domain.CategoryTerminalSuccess},
		{domain.StatusFailed, domain.CategoryTerminalFailure},
		{domain.StatusDeadLetter, domain.CategoryTerminalFailure},
	}
	for _, tc := range cases {
		got, err := r.CategoryOf(tc.code)
		if err != nil {
			t.Errorf("CategoryOf(%d) error: %v", tc.code, err)
			continue
		}
		if got != tc.want {
			t.Errorf("CategoryOf(%d) = %s, want %s", tc.code, got, tc.want)
		}
	}

	if _, err := r.CategoryOf(domain.StatusCode(999)); err == nil {
		t.Error("CategoryOf(999) should fail")
	}
}

func TestIsValidTransition(t *testing.T) {
	r := New()
	valid := [][2]domain.StatusCode{
		{domain.StatusPendingEnrichment, domain.StatusSummarizing},
		{domain.StatusSummarizing, domain.StatusTagging},
		{domain.StatusTagging, domain.StatusThumbnailing},
		{domain.StatusThumbnailing, domain.StatusPendingReview},
		{domain.StatusPendingReview, domain.StatusApproved},
		{domain.StatusApproved, domain.StatusPublished},
		// working statuses may dead-letter
		{domain.StatusSummarizing, domain.StatusDeadLetter},
		{domain.StatusThumbnailing, domain.StatusDeadLetter},
		// manual overrides from anywhere
		{domain.StatusPublished, domain.StatusPendingEnrichment},
		{domain.StatusDeadLetter, domain.StatusPendingEnrichment},
		{domain.StatusPendingReview, domain.StatusFailed},
	}
	for _, tc := range valid {
		if !r.IsValidTransition(tc[0], tc[1]) {
			t.Errorf("transition %d -> %d should be valid", tc[0], tc[1])
		}
	}

	invalid := [][2]domain.StatusCode{
		{domain.StatusPendingEnrichment, domain.StatusTagging}, // skips a stage
		{domain.StatusSummarizing, domain.StatusPendingReview},
		{domain.StatusPublished, domain.StatusApproved}, // backwards
		{domain.StatusPendingReview, domain.StatusPendingReview},
		{domain.StatusPendingEnrichment, domain.StatusCode(999)},
		{domain.StatusCode(999), domain.StatusFailed},
	}
	for _, tc := range invalid {
		if r.IsValidTransition(tc[0], tc[1]) {
			t.Errorf("transition %d -> %d should be invalid", tc[0], tc[1])
		}
	}
}

func TestStepLookups(t *testing.T) {
	r := New()

	spec, ok := r.StepByName(StepTag)
	if !ok || spec.WorkingStatus != domain.StatusTagging {
		t.Fatalf("StepByName(tag) = %+v, %v", spec, ok)
	}

	spec, ok = r.StepForStatus(domain.StatusSummarizing)
	if !ok || spec.Name != StepSummarize {
		t.Fatalf("StepForStatus(summarizing) = %+v, %v", spec, ok)
	}

	if _, ok := r.StepForStatus(domain.StatusPendingReview); ok {
		t.Error("pending_review has no step")
	}
}

func TestStepsFrom(t *testing.T) {
	r := New()

	rest := r.StepsFrom(domain.StatusTagging)
	if len(rest) != 2 || rest[0].Name != StepTag || rest[1].Name != StepThumbnail {
		t.Fatalf("StepsFrom(tagging) = %v", rest)
	}

	if got := r.StepsFrom(domain.StatusPendingReview); len(got) != 0 {
		t.Fatalf("StepsFrom(pending_review) = %v, want empty", got)
	}

	all := r.StepsFrom(domain.StatusPendingEnrichment)
	if len(all) != 4 {
		t.Fatalf("StepsFrom(pending_enrichment) returned %d steps", len(all))
	}
}
