package supervisor

import (
	"context"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// AssimilationRule describes how to recognize an unmanaged OS process as
// belonging to a particular application: match the command line against
// Pattern and require the process's parent to be pid 1 (i.e. it isn't
// some other supervised child droned already knows about).
type AssimilationRule struct {
	App     string
	Pattern *regexp.Regexp
}

// Assimilate scans the host's process table for unmanaged processes
// matching a known rule and adopts the best-matching one per rule into
// one of that application's already-declared AppInstances, applying the
// default assimilation policy (spec §4.8): prefer the instance named by
// DRONED_LABEL if it isn't already running, else the instance whose
// version matches DRONED_VERSION, else the lowest-numbered free label. A
// match with no free instance is left alone (a Scab).
func (m *AppManager) Assimilate(ctx context.Context) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("assimilation sweep: failed to list processes")
		return
	}

	for _, rule := range m.rules {
		var candidate *process.Process
		var candidateCmdline string
		var candidateEnv map[string]string

		for _, p := range procs {
			if m.alreadyManaged(int(p.Pid)) {
				continue
			}

			ppid, err := p.PpidWithContext(ctx)
			if err != nil || ppid != 1 {
				continue
			}

			cmdline, err := p.CmdlineWithContext(ctx)
			if err != nil || !rule.Pattern.MatchString(cmdline) {
				continue
			}

			if candidate == nil || preferCandidate(cmdline, candidateCmdline) {
				candidate = p
				candidateCmdline = cmdline
				candidateEnv = processEnv(ctx, p)
			}
		}

		if candidate == nil {
			continue
		}

		m.adopt(rule.App, candidate, candidateCmdline, candidateEnv)
	}
}

// processEnv reads a process's environment into a map, tolerating
// permission failures (an unreadable environ just means no DRONED_LABEL/
// DRONED_VERSION hints are available, not an assimilation failure).
func processEnv(ctx context.Context, p *process.Process) map[string]string {
	lines, err := p.EnvironWithContext(ctx)
	if err != nil {
		return nil
	}
	out := make(map[string]string, len(lines))
	for _, l := range lines {
		k, v, ok := strings.Cut(l, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

// preferCandidate implements the "more specific invocation wins"
// tiebreaker among multiple unmanaged processes matching the same rule:
// a command line naming an explicit "--version=" argument beats one that
// doesn't, and otherwise the longer (more specific) command line wins.
func preferCandidate(newCmdline, currentBest string) bool {
	newHasVersion := strings.Contains(newCmdline, "--version=")
	bestHasVersion := strings.Contains(currentBest, "--version=")
	if newHasVersion != bestHasVersion {
		return newHasVersion
	}
	return len(newCmdline) > len(currentBest)
}

func (m *AppManager) alreadyManaged(pid int) bool {
	for _, inst := range m.All() {
		if inst.State() == StateUp {
			facts, ok, err := inst.Facts(context.Background())
			if err == nil && ok && facts.PID == pid {
				return true
			}
		}
	}
	return false
}

// adopt picks the target AppInstance for app per the default assimilation
// policy and binds the unmanaged process to it.
func (m *AppManager) adopt(app string, p *process.Process, cmdline string, env map[string]string) {
	instances := m.InstancesForApp(app)
	if len(instances) == 0 {
		m.log.Info().Str("app", app).Int("pid", int(p.Pid)).Msg("no declared instances, process left as a scab")
		return
	}

	target := pickAssimilationTarget(instances, env)
	if target == nil {
		m.log.Info().Str("app", app).Int("pid", int(p.Pid)).Msg("no free instance to assimilate into, process left as a scab")
		return
	}

	target.adoptPID(int(p.Pid))
	m.log.Info().Str("instance", target.Key()).Int("pid", int(p.Pid)).Str("cmdline", cmdline).Msg("assimilated unmanaged process")
	m.bus.Fire("instance-found", target.Key())
}

// pickAssimilationTarget applies spec §4.8's default policy in order:
// DRONED_LABEL (if not already running), then DRONED_VERSION match, then
// the lowest-numbered free (not-running) instance. instances is already
// sorted by label.
func pickAssimilationTarget(instances []*AppInstance, env map[string]string) *AppInstance {
	if label := env["DRONED_LABEL"]; label != "" {
		for _, inst := range instances {
			if inst.LabelName() == label && inst.State() != StateUp {
				return inst
			}
		}
	}

	if version := env["DRONED_VERSION"]; version != "" {
		for _, inst := range instances {
			if inst.State() != StateUp && inst.Version().String() == version {
				return inst
			}
		}
	}

	for _, inst := range instances {
		if inst.State() != StateUp && inst.State() != StateDisabled {
			return inst
		}
	}
	return nil
}

// AddRule registers an assimilation rule. Call before StartSweeps.
func (m *AppManager) AddRule(rule AssimilationRule) {
	m.rules = append(m.rules, rule)
}
