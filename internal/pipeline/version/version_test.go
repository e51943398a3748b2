package version

import (
	"testing"

	"github.com/curatorhq/enrichd/internal/core/domain"
)

func TestUpToDate_Model(t *testing.T) {
	current := &domain.StepVersion{
		Step:      "summarize",
		AgentType: domain.AgentTypeModel,
		VersionID: "summarize-v2",
		Model:     "gpt-4o-mini",
	}

	fresh := &domain.StepMeta{AgentType: domain.AgentTypeModel, VersionID: "summarize-v2", Model: "gpt-4o-mini"}
	if !UpToDate(fresh, current) {
		t.Error("matching version_id should be up to date")
	}

	stale := &domain.StepMeta{AgentType: domain.AgentTypeModel, VersionID: "summarize-v1", Model: "gpt-4o-mini"}
	if UpToDate(stale, current) {
		t.Error("older version_id should be stale")
	}

	// Model string alone is not the identity; version_id decides.
	sameModel := &domain.StepMeta{AgentType: domain.AgentTypeModel, VersionID: "", Model: "gpt-4o-mini"}
	if UpToDate(sameModel, current) {
		t.Error("missing version_id should be stale")
	}
}

func TestUpToDate_Utility(t *testing.T) {
	current := &domain.StepVersion{
		Step:                  "thumbnail",
		AgentType:             domain.AgentTypeUtility,
		ImplementationVersion: "2.1.0",
	}

	if !UpToDate(&domain.StepMeta{AgentType: domain.AgentTypeUtility, ImplementationVersion: "2.1.0"}, current) {
		t.Error("matching implementation version should be up to date")
	}
	if UpToDate(&domain.StepMeta{AgentType: domain.AgentTypeUtility, ImplementationVersion: "2.0.0"}, current) {
		t.Error("older implementation version should be stale")
	}
}

func TestUpToDate_MissingInputs(t *testing.T) {
	current := &domain.StepVersion{AgentType: domain.AgentTypeModel, VersionID: "v1"}

	if UpToDate(nil, current) {
		t.Error("missing record is always stale")
	}
	if UpToDate(&domain.StepMeta{AgentType: domain.AgentTypeModel, VersionID: "v1"}, nil) {
		t.Error("missing active version cannot be up to date")
	}
}

func TestUpToDate_AgentTypeMismatch(t *testing.T) {
	current := &domain.StepVersion{AgentType: domain.AgentTypeUtility, ImplementationVersion: "1.0.0"}
	meta := &domain.StepMeta{AgentType: domain.AgentTypeModel, VersionID: "1.0.0", ImplementationVersion: "1.0.0"}
	if UpToDate(meta, current) {
		t.Error("a step reimplemented as a different agent type must re-run")
	}
}
