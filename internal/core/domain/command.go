package domain

// ReenrichCommand is the explicit manual-override request for pushing an item
// back through the pipeline. It replaces the old habit of smuggling override
// flags inside the payload: scope and target status are stated up front and
// checked in exactly one place.
type ReenrichCommand struct {
	ItemID string
	// Step restricts the run to a single named step. Empty means the full
	// remaining pipeline.
	Step string
	// TargetStatus is where the item should land after a single-step run,
	// e.g. back to pending_review for an already-published item. Zero means
	// the normal next stage applies.
	TargetStatus StatusCode
}

// FullPipeline reports whether the command re-runs all remaining steps.
func (c ReenrichCommand) FullPipeline() bool { return c.Step == "" }
