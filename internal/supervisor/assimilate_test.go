package supervisor

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/domain"
)

func instanceWithVersion(app, label string, v domain.Version, state State) *AppInstance {
	inst := NewAppInstance(Spec{App: app, Label: label, Version: v}, testBus(), zerolog.Nop())
	inst.state = state
	return inst
}

func TestPickAssimilationTargetPrefersDronedLabel(t *testing.T) {
	instances := []*AppInstance{
		instanceWithVersion("foo", "0", domain.Version{App: "foo"}, StateStopped),
		instanceWithVersion("foo", "1", domain.Version{App: "foo"}, StateStopped),
	}
	got := pickAssimilationTarget(instances, map[string]string{"DRONED_LABEL": "1"})
	if got == nil || got.LabelName() != "1" {
		t.Fatalf("expected label 1 to be picked via DRONED_LABEL, got %v", got)
	}
}

func TestPickAssimilationTargetSkipsAlreadyRunningLabel(t *testing.T) {
	instances := []*AppInstance{
		instanceWithVersion("foo", "0", domain.Version{App: "foo"}, StateUp),
		instanceWithVersion("foo", "1", domain.Version{App: "foo"}, StateStopped),
	}
	got := pickAssimilationTarget(instances, map[string]string{"DRONED_LABEL": "0"})
	if got == nil || got.LabelName() != "1" {
		t.Fatalf("expected fallback to free label 1 when DRONED_LABEL's instance is already up, got %v", got)
	}
}

func TestPickAssimilationTargetFallsBackToVersion(t *testing.T) {
	v1 := domain.Version{App: "foo", Major: 1}
	v2 := domain.Version{App: "foo", Major: 2}
	instances := []*AppInstance{
		instanceWithVersion("foo", "0", v1, StateStopped),
		instanceWithVersion("foo", "1", v2, StateStopped),
	}
	got := pickAssimilationTarget(instances, map[string]string{"DRONED_VERSION": "2.0.0"})
	if got == nil || got.LabelName() != "1" {
		t.Fatalf("expected label 1 to be picked via DRONED_VERSION match, got %v", got)
	}
}

func TestPickAssimilationTargetFallsBackToLowestFreeLabel(t *testing.T) {
	instances := []*AppInstance{
		instanceWithVersion("foo", "0", domain.Version{App: "foo"}, StateUp),
		instanceWithVersion("foo", "1", domain.Version{App: "foo"}, StateStopped),
		instanceWithVersion("foo", "2", domain.Version{App: "foo"}, StateStopped),
	}
	got := pickAssimilationTarget(instances, nil)
	if got == nil || got.LabelName() != "1" {
		t.Fatalf("expected lowest free label (1) to be picked with no env hints, got %v", got)
	}
}

func TestPickAssimilationTargetReturnsNilWhenNoneFree(t *testing.T) {
	instances := []*AppInstance{
		instanceWithVersion("foo", "0", domain.Version{App: "foo"}, StateUp),
		instanceWithVersion("foo", "1", domain.Version{App: "foo"}, StateDisabled),
	}
	got := pickAssimilationTarget(instances, nil)
	if got != nil {
		t.Fatalf("expected nil when every instance is up or disabled, got %v", got)
	}
}

func TestPreferCandidatePrefersVersionFlag(t *testing.T) {
	if !preferCandidate("/usr/bin/foo --version=1.2.3", "/usr/bin/foo") {
		t.Error("expected a cmdline with --version= to be preferred")
	}
	if preferCandidate("/usr/bin/foo", "/usr/bin/foo --version=1.2.3") {
		t.Error("expected a cmdline without --version= not to displace one that has it")
	}
}

func TestPreferCandidateFallsBackToLength(t *testing.T) {
	if !preferCandidate("/usr/bin/foo --extra-flag", "/usr/bin/foo") {
		t.Error("expected the longer cmdline to be preferred when neither has --version=")
	}
}
