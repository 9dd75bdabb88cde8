// Package supervisor implements the application lifecycle manager:
// starting, stopping, crash-detecting, and assimilating AppInstances —
// spawning, monitoring, and killing many named, versioned applications
// plus unmanaged processes discovered already running on the host.
package supervisor

import (
	"context"
	"crypto/sha1"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/domain"
	"github.com/droned/droned/internal/eventbus"
	"github.com/droned/droned/internal/procfacts"
	"github.com/droned/droned/internal/telemetry"
)

// State is one point in the AppInstance lifecycle.
type State string

const (
	StateConfigured State = "configured"
	StateStarting   State = "starting"
	StateUp         State = "up"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateCrashed    State = "crashed"
	StateDisabled   State = "disabled"
)

// Escalation timings for Stop: SIGTERM, wait, SIGKILL, wait.
const (
	termGrace = 5 * time.Second
	killGrace = 10 * time.Second
)

// Spec describes how to run one application instance, loaded from
// configuration. App is the logical application name (e.g. "foo");
// Label is the user-facing identifier distinguishing multiple instances
// of that same application on one host (e.g. "0", "1") — together they
// form the AppInstance identity key (spec §3: keyed by (Server, App,
// label), Server elided here since this supervisor only ever manages
// instances local to its own host).
type Spec struct {
	App         string
	Label       string
	Version     domain.Version
	Path        string
	StopPath    string
	StopArgs    []string
	Args        []string
	Env         map[string]string
	Dir         string
	LogDir      string
	AutoRecover bool
}

// AppInstance is one supervised application and its current OS process, if
// any. All state transitions hold mu; long-running work (starting a
// process, waiting on it to exit) happens outside the lock.
type AppInstance struct {
	mu    sync.Mutex
	spec  Spec
	state State
	cmd   *exec.Cmd
	proc  procfacts.Process

	lastStart   time.Time
	crashCount  int
	lastCrash   time.Time

	bus *eventbus.Bus
	log zerolog.Logger
}

// NewAppInstance creates an instance in the "configured" state. A zero
// Spec.Version is stamped with Spec.App so it stays comparable with any
// version SetVersion is later called with (domain.Version's AppVersion
// invariant compares only within the same App).
func NewAppInstance(spec Spec, bus *eventbus.Bus, log zerolog.Logger) *AppInstance {
	if spec.Version.App == "" {
		spec.Version.App = spec.App
	}
	return &AppInstance{
		spec:  spec,
		state: StateConfigured,
		proc:  procfacts.NullProcess{},
		bus:   bus,
		log:   log.With().Str("component", "app-instance").Str("app", spec.App).Str("label", spec.Label).Logger(),
	}
}

// Key identifies an AppInstance by app+label, the tuple AppManager uses as
// the entity registry key. Version is deliberately excluded: it's mutable
// attribute data (see SetVersion), not part of identity.
func (a *AppInstance) Key() string {
	return fmt.Sprintf("%s/%s", a.spec.App, a.spec.Label)
}

// AppName reports the logical application this instance belongs to.
func (a *AppInstance) AppName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spec.App
}

// LabelName reports this instance's user-facing label.
func (a *AppInstance) LabelName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spec.Label
}

// Version reports the instance's current release version.
func (a *AppInstance) Version() domain.Version {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spec.Version
}

// SetVersion mutates the instance's version attribute and fires the
// appropriate version-change event: "new-major-release" if the major
// component increased, "new-release-version" if minor/micro changed, or
// "release-change" for any other transition (e.g. a prerelease or
// downgrade), per spec §4.8. It returns domain.ErrIncomparableVer,
// unmodified, if v names a different application than the instance's
// current version — spec §3's AppVersion invariant.
func (a *AppInstance) SetVersion(v domain.Version) error {
	a.mu.Lock()
	old := a.spec.Version
	cmp, err := v.Compare(old)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.spec.Version = v
	a.mu.Unlock()

	topic := "release-change"
	switch {
	case cmp > 0 && v.Major > old.Major:
		topic = "new-major-release"
	case cmp != 0 && v.Major == old.Major && (v.Minor != old.Minor || v.Micro != old.Micro):
		topic = "new-release-version"
	}
	a.bus.Fire(topic, a.Key())
	return nil
}

// State reports the current lifecycle state.
func (a *AppInstance) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Facts reads the current process facts for this instance, if running.
func (a *AppInstance) Facts(ctx context.Context) (procfacts.Facts, bool, error) {
	a.mu.Lock()
	proc := a.proc
	a.mu.Unlock()
	return proc.Facts(ctx)
}

// Start transitions configured/stopped/crashed -> starting -> up. It is a
// no-op if already starting or up.
func (a *AppInstance) Start(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case StateStarting, StateUp:
		a.mu.Unlock()
		return nil
	case StateDisabled:
		a.mu.Unlock()
		return domain.ErrNotEnabled
	}
	a.state = StateStarting
	a.mu.Unlock()

	a.bus.Fire("instance-starting", a.Key())

	cmd := exec.CommandContext(context.Background(), a.spec.Path, a.spec.Args...)
	cmd.Dir = a.spec.Dir
	cmd.Env = append(os.Environ(), envSlice(a.spec, a.envOverrides(time.Now()))...)
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		a.mu.Lock()
		a.state = StateCrashed
		a.mu.Unlock()
		a.bus.Fire("instance-start-failed", a.Key())
		return fmt.Errorf("%w: %v", domain.ErrStartFailed, err)
	}

	a.mu.Lock()
	a.cmd = cmd
	a.proc = procfacts.NewLiveProcess(cmd.Process.Pid)
	a.lastStart = time.Now()
	a.state = StateUp
	a.mu.Unlock()

	a.bus.Fire("instance-started", a.Key())

	go a.watch(cmd)

	return nil
}

// envOverrides builds the DRONED_* environment variables every managed
// process receives, per spec §4.8/§6: an identifier unique to this start
// attempt, the start time, the instance's label/application/version, its
// log directory, and the program path.
func (a *AppInstance) envOverrides(startTime time.Time) map[string]string {
	identifier := sha1.Sum([]byte(fmt.Sprintf("%s:%s:%d", a.spec.App, a.spec.Label, startTime.UnixNano())))

	logDir := a.spec.LogDir
	if logDir == "" {
		logDir = a.spec.Dir
	}

	env := map[string]string{
		"DRONED_IDENTIFIER":  fmt.Sprintf("%x", identifier),
		"DRONED_STARTTIME":   fmt.Sprintf("%d", startTime.Unix()),
		"DRONED_LABEL":       a.spec.Label,
		"DRONED_APPLICATION": a.spec.App,
		"DRONED_LOGDIR":      logDir,
		"DRONED_PATH":        a.spec.Path,
	}
	if v := a.spec.Version.String(); v != "0.0.0" {
		env["DRONED_VERSION"] = v
	}
	return env
}

func envSlice(spec Spec, overrides map[string]string) []string {
	out := make([]string, 0, len(spec.Env)+len(overrides))
	for k, v := range spec.Env {
		out = append(out, k+"="+v)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}

// watch blocks on the process and records an unexpected exit as a crash,
// unless Stop() already moved the instance to "stopping".
func (a *AppInstance) watch(cmd *exec.Cmd) {
	err := cmd.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateStopping {
		a.state = StateStopped
		a.proc = procfacts.NullProcess{}
		a.mu.Unlock()
		a.bus.Fire("instance-stopped", a.Key())
		a.mu.Lock()
		return
	}

	a.state = StateCrashed
	a.crashCount++
	a.lastCrash = time.Now()
	a.proc = procfacts.NullProcess{}

	a.log.Warn().Err(err).Int("crashes", a.crashCount).Msg("application exited unexpectedly")
	telemetry.AppCrashes.WithLabelValues(a.Key()).Inc()
	a.mu.Unlock()
	a.bus.Fire("instance-crashed", a.Key())
	a.mu.Lock()
}

// Stop transitions up -> stopping -> stopped, escalating SIGTERM -> wait
// termGrace -> SIGKILL -> wait killGrace.
func (a *AppInstance) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateUp {
		a.mu.Unlock()
		return nil
	}
	a.state = StateStopping
	cmd := a.cmd
	a.mu.Unlock()

	a.runStopCommand(ctx)

	if cmd == nil || cmd.Process == nil {
		// Assimilated instance: no exec.Cmd to Wait on, so signal the
		// adopted pid directly and poll procfacts for exit instead.
		if err := a.stopAdopted(); err != nil {
			return err
		}
		a.mu.Lock()
		a.state = StateStopped
		a.proc = procfacts.NullProcess{}
		a.mu.Unlock()
		a.bus.Fire("instance-stopped", a.Key())
		return nil
	}

	exited := make(chan struct{})
	go func() {
		cmd.Wait() //nolint:errcheck
		close(exited)
	}()

	terminateProcess(cmd.Process)
	select {
	case <-exited:
		return nil
	case <-time.After(termGrace):
	}

	killProcess(cmd.Process)
	select {
	case <-exited:
		return nil
	case <-time.After(killGrace):
		return fmt.Errorf("%w: process did not exit after SIGKILL", domain.ErrStopFailed)
	}
}

// runStopCommand runs the app's configured stop command, if any, and
// waits for it to complete before the caller escalates to signals. A
// missing stop command or one that fails is logged and ignored — signal
// escalation is the fallback either way.
func (a *AppInstance) runStopCommand(ctx context.Context) {
	a.mu.Lock()
	path := a.spec.StopPath
	args := a.spec.StopArgs
	dir := a.spec.Dir
	a.mu.Unlock()
	if path == "" {
		return
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("stop command failed, escalating to signals")
	}
}

// stopAdopted escalates SIGTERM/SIGKILL against an assimilated process by
// pid, since there's no exec.Cmd for it.
func (a *AppInstance) stopAdopted() error {
	a.mu.Lock()
	pid := a.proc.PID()
	a.mu.Unlock()
	if pid == 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	poll := func(timeout time.Duration) bool {
		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			if _, ok, _ := a.proc.Facts(context.Background()); !ok {
				return true
			}
			time.Sleep(200 * time.Millisecond)
		}
		return false
	}

	terminateProcess(proc)
	if poll(termGrace) {
		return nil
	}
	killProcess(proc)
	if poll(killGrace) {
		return nil
	}
	return fmt.Errorf("%w: process did not exit after SIGKILL", domain.ErrStopFailed)
}

// Disable marks the instance as permanently stopped, the stopped ->
// disabled transition.
func (a *AppInstance) Disable() {
	a.mu.Lock()
	a.state = StateDisabled
	a.mu.Unlock()
	a.bus.Fire("instance-disabled", a.Key())
}

// Enable reverses Disable, the disabled -> stopped transition; it is a
// no-op if the instance isn't currently disabled.
func (a *AppInstance) Enable() {
	a.mu.Lock()
	if a.state != StateDisabled {
		a.mu.Unlock()
		return
	}
	a.state = StateStopped
	a.mu.Unlock()
	a.bus.Fire("instance-enabled", a.Key())
}

// Enabled reports whether the instance may currently be started, either
// by an operator or by the crash-recovery sweep.
func (a *AppInstance) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state != StateDisabled
}

// RestartIfCrashed moves crashed -> starting, throttled by the caller
// (AppManager's crash-detection sweep owns the throttle policy).
func (a *AppInstance) RestartIfCrashed(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateCrashed {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()
	return a.Start(ctx)
}

// adoptPID wires an already-running, unmanaged process into this instance
// without going through Start, for assimilation.
func (a *AppInstance) adoptPID(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.proc = procfacts.NewLiveProcess(pid)
	a.lastStart = time.Now()
	a.state = StateUp
}

// CrashInfo reports the crash counters used by the throttled-recovery sweep.
func (a *AppInstance) CrashInfo() (count int, last time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.crashCount, a.lastCrash
}

// AutoRecover reports whether the crash-detection sweep is allowed to
// restart this instance automatically after a crash.
func (a *AppInstance) AutoRecover() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spec.AutoRecover
}
