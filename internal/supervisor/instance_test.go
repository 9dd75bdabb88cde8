package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/domain"
	"github.com/droned/droned/internal/eventbus"
)

func testBus() *eventbus.Bus {
	return eventbus.NewBus(zerolog.Nop())
}

func newTestInstance(app, label string) *AppInstance {
	spec := Spec{App: app, Label: label}
	return NewAppInstance(spec, testBus(), zerolog.Nop())
}

func TestKeyIsAppSlashLabel(t *testing.T) {
	inst := newTestInstance("foo", "0")
	if got, want := inst.Key(), "foo/0"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestKeyDistinguishesSameLabelDifferentApp(t *testing.T) {
	a := newTestInstance("foo", "0")
	b := newTestInstance("bar", "0")
	if a.Key() == b.Key() {
		t.Errorf("expected distinct keys for different apps sharing a label, got %q for both", a.Key())
	}
}

func TestNewInstanceStartsConfigured(t *testing.T) {
	inst := newTestInstance("foo", "0")
	if inst.State() != StateConfigured {
		t.Errorf("initial state = %q, want %q", inst.State(), StateConfigured)
	}
}

func TestDisableEnableRoundTrip(t *testing.T) {
	inst := newTestInstance("foo", "0")

	inst.Disable()
	if inst.State() != StateDisabled {
		t.Fatalf("after Disable, state = %q, want %q", inst.State(), StateDisabled)
	}
	if inst.Enabled() {
		t.Error("Enabled() = true for a disabled instance")
	}

	inst.Enable()
	if inst.State() != StateStopped {
		t.Errorf("after Enable, state = %q, want %q", inst.State(), StateStopped)
	}
	if !inst.Enabled() {
		t.Error("Enabled() = false after Enable")
	}
}

func TestEnableNoopWhenNotDisabled(t *testing.T) {
	inst := newTestInstance("foo", "0")
	inst.Enable()
	if inst.State() != StateConfigured {
		t.Errorf("Enable on a non-disabled instance changed state to %q", inst.State())
	}
}

func TestStartReturnsErrNotEnabledWhenDisabled(t *testing.T) {
	inst := newTestInstance("foo", "0")
	inst.Disable()

	if err := inst.Start(context.Background()); err == nil {
		t.Fatal("expected Start on a disabled instance to fail")
	}
}

func TestSetVersionFiresMajorReleaseEvent(t *testing.T) {
	inst := newTestInstance("foo", "0")
	inst.SetVersion(domain.Version{App: "foo", Major: 1})

	var fired string
	inst.bus.Subscribe("new-major-release", func(_ string, payload any) {
		fired, _ = payload.(string)
	})
	inst.SetVersion(domain.Version{App: "foo", Major: 2})

	if fired != inst.Key() {
		t.Errorf("expected new-major-release to fire with key %q, got %q", inst.Key(), fired)
	}
	if inst.Version().Major != 2 {
		t.Errorf("Version().Major = %d, want 2", inst.Version().Major)
	}
}

func TestSetVersionRejectsCrossAppVersion(t *testing.T) {
	inst := newTestInstance("foo", "0")
	before := inst.Version()

	err := inst.SetVersion(domain.Version{App: "bar", Major: 9})
	if err == nil {
		t.Fatal("expected SetVersion to reject a version from a different app")
	}
	if !errors.Is(err, domain.ErrIncomparableVer) {
		t.Errorf("expected domain.ErrIncomparableVer, got %v", err)
	}
	if inst.Version() != before {
		t.Error("version should be unchanged after a rejected SetVersion")
	}
}

func TestSetVersionFiresMinorReleaseEvent(t *testing.T) {
	inst := newTestInstance("foo", "0")
	inst.SetVersion(domain.Version{App: "foo", Major: 1, Minor: 1})

	var fired string
	inst.bus.Subscribe("new-release-version", func(_ string, payload any) {
		fired, _ = payload.(string)
	})
	inst.SetVersion(domain.Version{App: "foo", Major: 1, Minor: 2})

	if fired != inst.Key() {
		t.Errorf("expected new-release-version to fire, got fired=%q", fired)
	}
}

func TestRestartIfCrashedNoopWhenNotCrashed(t *testing.T) {
	inst := newTestInstance("foo", "0")
	if err := inst.RestartIfCrashed(context.Background()); err != nil {
		t.Errorf("RestartIfCrashed on a non-crashed instance returned %v, want nil", err)
	}
	if inst.State() != StateConfigured {
		t.Errorf("state changed to %q on a no-op RestartIfCrashed", inst.State())
	}
}

func TestCrashInfoInitiallyZero(t *testing.T) {
	inst := newTestInstance("foo", "0")
	count, last := inst.CrashInfo()
	if count != 0 || !last.IsZero() {
		t.Errorf("CrashInfo() = (%d, %v), want (0, zero time)", count, last)
	}
}

func TestAdoptPIDMarksInstanceUp(t *testing.T) {
	inst := newTestInstance("foo", "0")
	inst.adoptPID(1)
	if inst.State() != StateUp {
		t.Errorf("after adoptPID, state = %q, want %q", inst.State(), StateUp)
	}
}

func TestAutoRecoverReflectsSpec(t *testing.T) {
	spec := Spec{App: "foo", Label: "0", AutoRecover: true}
	inst := NewAppInstance(spec, testBus(), zerolog.Nop())
	if !inst.AutoRecover() {
		t.Error("AutoRecover() = false, want true per spec")
	}
}

func TestEnvOverridesIncludesDronedVars(t *testing.T) {
	spec := Spec{App: "foo", Label: "0", Path: "/bin/foo", LogDir: "/var/log/foo"}
	inst := NewAppInstance(spec, testBus(), zerolog.Nop())
	env := inst.envOverrides(time.Unix(1000, 0))

	want := []string{"DRONED_IDENTIFIER", "DRONED_STARTTIME", "DRONED_LABEL", "DRONED_APPLICATION", "DRONED_LOGDIR", "DRONED_PATH"}
	for _, k := range want {
		if _, ok := env[k]; !ok {
			t.Errorf("envOverrides missing key %q", k)
		}
	}
	if _, ok := env["DRONED_VERSION"]; ok {
		t.Error("envOverrides should omit DRONED_VERSION for the zero version")
	}
	if env["DRONED_LABEL"] != "0" {
		t.Errorf("DRONED_LABEL = %q, want %q", env["DRONED_LABEL"], "0")
	}
	if env["DRONED_APPLICATION"] != "foo" {
		t.Errorf("DRONED_APPLICATION = %q, want %q", env["DRONED_APPLICATION"], "foo")
	}
}

func TestEnvOverridesIncludesVersionWhenSet(t *testing.T) {
	spec := Spec{App: "foo", Label: "0", Version: domain.Version{App: "foo", Major: 2, Minor: 1}}
	inst := NewAppInstance(spec, testBus(), zerolog.Nop())
	env := inst.envOverrides(time.Now())
	if env["DRONED_VERSION"] != "2.1.0" {
		t.Errorf("DRONED_VERSION = %q, want %q", env["DRONED_VERSION"], "2.1.0")
	}
}
