package domain

import "fmt"

// StatusCode is the numeric pipeline stage of a queue item. Codes are part of
// the stable external contract consumed by review and publishing surfaces and
// must not be renumbered.
type StatusCode int

const (
	StatusPendingEnrichment StatusCode = 200
	StatusSummarizing       StatusCode = 210
	StatusTagging           StatusCode = 220
	StatusThumbnailing      StatusCode = 230
	StatusPendingReview     StatusCode = 300
	StatusApproved          StatusCode = 330
	StatusPublished         StatusCode = 400
	StatusFailed            StatusCode = 500
	StatusDeadLetter        StatusCode = 599
)

// StatusCategory groups status codes by what kind of handling they need.
type StatusCategory string

const (
	// CategoryPending means the item is waiting for a worker to pick it up.
	CategoryPending StatusCategory = "pending"
	// CategoryWorking means a step is executing or scheduled to retry.
	CategoryWorking StatusCategory = "working"
	// CategoryManualReview means a human decision is required to proceed.
	CategoryManualReview StatusCategory = "manual_review"
	// CategoryTerminalSuccess means the item completed the pipeline.
	CategoryTerminalSuccess StatusCategory = "terminal_success"
	// CategoryTerminalFailure means the item is dead and needs intervention.
	CategoryTerminalFailure StatusCategory = "terminal_failure"
)

func (s StatusCode) String() string {
	switch s {
	case StatusPendingEnrichment:
		return "pending_enrichment"
	case StatusSummarizing:
		return "summarizing"
	case StatusTagging:
		return "tagging"
	case StatusThumbnailing:
		return "thumbnailing"
	case StatusPendingReview:
		return "pending_review"
	case StatusApproved:
		return "approved"
	case StatusPublished:
		return "published"
	case StatusFailed:
		return "failed"
	case StatusDeadLetter:
		return "dead_letter"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}
