// Package version implements the staleness check that makes step execution
// idempotent: a step whose stored output was produced by the currently active
// version is skipped instead of re-run.
package version

import "github.com/curatorhq/enrichd/internal/core/domain"

// UpToDate reports whether the stored enrichment record was produced by the
// active version of the step. A missing record is always stale. Model-backed
// steps compare the prompt/model version id; utility steps compare the
// implementation version.
func UpToDate(meta *domain.StepMeta, current *domain.StepVersion) bool {
	if meta == nil || current == nil {
		return false
	}
	if meta.AgentType != current.AgentType {
		return false
	}
	switch current.AgentType {
	case domain.AgentTypeModel:
		return meta.VersionID != "" && meta.VersionID == current.VersionID
	case domain.AgentTypeUtility:
		return meta.ImplementationVersion != "" &&
			meta.ImplementationVersion == current.ImplementationVersion
	}
	return false
}
