package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/droned/droned/internal/blaster"
)

// EntityLister reports every live entity grouped by class name (e.g.
// "AppInstance", "Server"), the enumeration the "list" built-in walks.
// Grounded on the original's list_action (models/server.py:249), which
// iterates every live Entity printing "class\tstr(obj)".
type EntityLister func() map[string][]string

// builtinMaxOutputBytes caps how much of a shell built-in's combined
// stdout/stderr is captured, bounding a managed process's captured output
// so one runaway command can't exhaust memory.
const builtinMaxOutputBytes = 64 * 1024

// limitedBuffer is a bytes.Buffer that silently drops writes past its cap
// instead of growing without bound.
type limitedBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	max      int
	overflow bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.overflow = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.overflow = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if b.overflow {
		s += "\n... (truncated)"
	}
	return s
}

// RegisterBuiltins installs the standard set of actions every droned
// instance exposes: ping, help, list, tasks, cancel, reload, shell,
// version, license. listEntities may be nil, in which case "list" reports
// no live entities (e.g. a standalone CLI context with no supervisor).
func RegisterBuiltins(reg *Registry, d *Dispatcher, version string, reloader func() error, listEntities EntityLister) {
	reg.Register(Action{
		Name: "ping",
		Help: "replies PONG with code 42; used as a liveness probe",
		Run: func(ctx context.Context, argstr string) blaster.Result {
			return blaster.Result{Code: 42, Description: "PONG"}
		},
	})

	reg.Register(Action{
		Name: "version",
		Help: "reports the running droned version",
		Run: func(ctx context.Context, argstr string) blaster.Result {
			return OK(version)
		},
	})

	reg.Register(Action{
		Name: "license",
		Help: "reports license information",
		Run: func(ctx context.Context, argstr string) blaster.Result {
			return OK("droned is distributed under the terms described in its repository's license file")
		},
	})

	reg.Register(Action{
		Name: "list",
		Help: "enumerates every live entity, grouped by class",
		Run: func(ctx context.Context, argstr string) blaster.Result {
			var classes map[string][]string
			if listEntities != nil {
				classes = listEntities()
			}

			classNames := make([]string, 0, len(classes))
			for class := range classes {
				classNames = append(classNames, class)
			}
			sort.Strings(classNames)

			lines := make([]string, 0)
			for _, class := range classNames {
				items := append([]string(nil), classes[class]...)
				sort.Strings(items)
				for _, item := range items {
					lines = append(lines, fmt.Sprintf("%s\t%s", class, item))
				}
			}
			return OKExtra(strings.Join(lines, "\n"), map[string]any{"entities": classes})
		},
	})

	reg.Register(Action{
		Name: "help",
		Help: "describes a single action, or all actions if none is named",
		Run: func(ctx context.Context, argstr string) blaster.Result {
			name := strings.TrimSpace(argstr)
			if name == "" {
				lines := make([]string, 0)
				for _, a := range reg.List() {
					lines = append(lines, fmt.Sprintf("%s - %s", a.Name, a.Help))
				}
				return OK(strings.Join(lines, "\n"))
			}
			a, err := reg.Lookup(name)
			if err != nil {
				return Fail(404, err.Error())
			}
			return OK(a.Help)
		},
	})

	reg.Register(Action{
		Name: "tasks",
		Help: "reports every tracked dispatch, running or recently completed",
		Run: func(ctx context.Context, argstr string) blaster.Result {
			tasks := d.Tasks()
			lines := make([]string, 0, len(tasks))
			for _, t := range tasks {
				status := "running"
				if t.Completed {
					status = "failed"
					if t.Success {
						status = "succeeded"
					}
				}
				lines = append(lines, fmt.Sprintf("%s: %s (%s)", t.ID, t.Description(), status))
			}
			return OKExtra(strings.Join(lines, "\n"), map[string]any{"tasks": tasks})
		},
	})

	reg.Register(Action{
		Name: "cancel",
		Help: "cancels every unfinished dispatch whose description matches",
		Run: func(ctx context.Context, argstr string) blaster.Result {
			desc := strings.TrimSpace(argstr)
			if desc == "" {
				return Fail(400, "cancel requires a description to match")
			}
			n := d.CancelMatching(desc)
			if n == 0 {
				return Fail(404, fmt.Sprintf("no task matching: %s", desc))
			}
			return OK(fmt.Sprintf("cancelled %d task(s) matching %q", n, desc))
		},
	})

	reg.Register(Action{
		Name:  "reload",
		Help:  "reloads configuration and the keyring from disk",
		Admin: true,
		Run: func(ctx context.Context, argstr string) blaster.Result {
			if reloader == nil {
				return OK("nothing to reload")
			}
			if err := reloader(); err != nil {
				return Fail(500, err.Error())
			}
			return OK("reloaded")
		},
	})

	reg.Register(Action{
		Name:  "shell",
		Help:  "runs a shell built-in command and captures its combined output",
		Admin: true,
		Run:   runShell,
	})
}

// runShell executes argstr through /bin/sh -c, capturing combined output up
// to builtinMaxOutputBytes the same way a managed process's captured logs
// are bounded, and returns the process's real exit status as both the
// Result code and an "exit_code" extra field — per the original's
// shell_action (models/server.py:258), which returns "status>>8, output"
// rather than a flattened success/failure bit.
func runShell(ctx context.Context, argstr string) blaster.Result {
	if strings.TrimSpace(argstr) == "" {
		return Fail(400, "shell requires a command string")
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", argstr)
	out := newLimitedBuffer(builtinMaxOutputBytes)
	cmd.Stdout = out
	cmd.Stderr = out

	runErr := cmd.Run()
	output := out.String()

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		return blaster.Result{Code: 0, Description: output, Extra: map[string]any{"exit_code": 0}}
	case errors.As(runErr, &exitErr):
		code := exitErr.ExitCode()
		return blaster.Result{
			Code:        code,
			Description: output,
			Error:       code != 0,
			Extra:       map[string]any{"exit_code": code},
		}
	default:
		// The command never ran at all (e.g. /bin/sh missing) — there's no
		// real exit status to report, so this stays a generic failure.
		return FailWithTrace(1, fmt.Sprintf("command failed: %v", runErr), output)
	}
}
