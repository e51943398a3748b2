package domain

import (
	"fmt"
	"time"
)

// AgentType discriminates the two kinds of step implementations. Model-backed
// steps are versioned by a prompt/model version id; utility steps by an
// implementation version string.
type AgentType string

const (
	AgentTypeModel   AgentType = "model"
	AgentTypeUtility AgentType = "utility"
)

// StepMeta is the per-step enrichment record stored under
// payload.enrichment_meta[step]. It is a tagged record: which fields are
// required depends on AgentType, enforced by Validate before the record is
// merged into an item.
type StepMeta struct {
	AgentType             AgentType `json:"agent_type"`
	VersionID             string    `json:"version_id,omitempty"`
	Version               string    `json:"version,omitempty"`
	Model                 string    `json:"model,omitempty"`
	ImplementationVersion string    `json:"implementation_version,omitempty"`
	ProcessedAt           time.Time `json:"processed_at"`
}

// Validate checks the tagged-record invariants for the step kind.
func (m StepMeta) Validate() error {
	switch m.AgentType {
	case AgentTypeModel:
		if m.VersionID == "" {
			return fmt.Errorf("model step meta missing version_id")
		}
		if m.Model == "" {
			return fmt.Errorf("model step meta missing model")
		}
	case AgentTypeUtility:
		if m.ImplementationVersion == "" {
			return fmt.Errorf("utility step meta missing implementation_version")
		}
	default:
		return fmt.Errorf("unknown agent type %q", m.AgentType)
	}
	if m.ProcessedAt.IsZero() {
		return fmt.Errorf("step meta missing processed_at")
	}
	return nil
}

// StepVersion is the currently active version of a step's logic, loaded from
// the step_versions table. Compared against StepMeta by the staleness
// detector.
type StepVersion struct {
	Step                  string    `db:"step_name"`
	AgentType             AgentType `db:"agent_type"`
	VersionID             string    `db:"version_id"`
	Version               string    `db:"version"`
	Model                 string    `db:"model"`
	ImplementationVersion string    `db:"implementation_version"`
}
