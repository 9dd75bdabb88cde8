package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/blaster"
)

// MaxConcurrentCommands bounds how many actions may run at once across the
// whole dispatcher. Commands beyond the bound queue in arrival order rather
// than being rejected: a caller blocks on a full semaphore instead of the
// request failing outright.
const MaxConcurrentCommands = 5

// DefaultActionTimeout bounds how long a single action may run before its
// context is cancelled.
const DefaultActionTimeout = 60 * time.Second

// maxTaskHistory bounds how many completed dispatches the "tasks" built-in
// can still report after they finish, so a long-running daemon's history
// doesn't grow without bound.
const maxTaskHistory = 200

// task tracks one in-flight dispatch for the "tasks"/"cancel" built-ins.
// Each dispatch gets a uuid rather than a process-local counter so a task
// id stays meaningful if it's ever reported across a blaster broadcast (a
// cancel issued against one host should never collide with another host's
// counter).
type task struct {
	id     uuid.UUID
	action string
	argstr string
	cancel context.CancelFunc
	done   chan struct{}
}

// Description is the "<action> <argstr>" string the original's
// cancel_action (models/server.py:214) matches against — "cancels all
// tasks matching the description" — and the same string "tasks" reports
// per dispatch.
func (t *task) Description() string {
	return strings.TrimSpace(t.action + " " + t.argstr)
}

// TaskStatus is one dispatch's reported state, for the "tasks" built-in:
// still running, or completed with its success/failure outcome.
type TaskStatus struct {
	ID        string
	Action    string
	Argstr    string
	Completed bool
	Success   bool
}

// Description mirrors task.Description for a reported TaskStatus.
func (s TaskStatus) Description() string {
	return strings.TrimSpace(s.Action + " " + s.Argstr)
}

// Dispatcher runs actions from a Registry under a bounded semaphore and
// implements blaster.Dispatcher so it can be wired directly into the
// blaster server.
type Dispatcher struct {
	registry *Registry
	sem      chan struct{}
	timeout  time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	running   map[uuid.UUID]*task
	completed []TaskStatus
}

// NewDispatcher creates a dispatcher drawing handlers from reg.
func NewDispatcher(reg *Registry, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		sem:      make(chan struct{}, MaxConcurrentCommands),
		timeout:  DefaultActionTimeout,
		log:      log.With().Str("component", "dispatcher").Logger(),
		running:  make(map[uuid.UUID]*task),
	}
}

// Dispatch implements blaster.Dispatcher: look up action, acquire a
// concurrency slot (queuing FIFO if the pool is full), run it with a
// bounded context, and convert any panic into an error Result rather than
// letting it escape to the HTTP handler — a Recoverer scoped to one action
// invocation.
func (d *Dispatcher) Dispatch(action, argstr string) blaster.Result {
	a, err := d.registry.Lookup(action)
	if err != nil {
		return Fail(404, err.Error())
	}

	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	t := d.track(action, argstr, cancel)
	result := d.run(ctx, a, argstr)
	d.complete(t, result)

	return result
}

func (d *Dispatcher) run(ctx context.Context, a Action, argstr string) (result blaster.Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("action", a.Name).Msg("action panicked")
			result = FailWithTrace(500, fmt.Sprintf("action %s panicked: %v", a.Name, r), string(debug.Stack()))
		}
	}()
	return a.Run(ctx, argstr)
}

func (d *Dispatcher) track(action, argstr string, cancel context.CancelFunc) *task {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New()
	t := &task{id: id, action: action, argstr: argstr, cancel: cancel, done: make(chan struct{})}
	d.running[id] = t
	return t
}

// complete moves t from running into the bounded completed history, for
// the "tasks" built-in to report its outcome. A panic-converted Result
// still carries Error=true via FailWithTrace, so success here is exactly
// "the action ran and didn't report an error" — matching the original's
// tasks_action, which reports completion and success/failure per task.
func (d *Dispatcher) complete(t *task, result blaster.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	close(t.done)
	delete(d.running, t.id)

	d.completed = append(d.completed, TaskStatus{
		ID:        t.id.String(),
		Action:    t.action,
		Argstr:    t.argstr,
		Completed: true,
		Success:   !result.Error,
	})
	if overflow := len(d.completed) - maxTaskHistory; overflow > 0 {
		d.completed = d.completed[overflow:]
	}
}

// Tasks reports every tracked dispatch, running or recently completed, for
// the "tasks" built-in.
func (d *Dispatcher) Tasks() []TaskStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]TaskStatus, 0, len(d.running)+len(d.completed))
	for _, t := range d.running {
		out = append(out, TaskStatus{ID: t.id.String(), Action: t.action, Argstr: t.argstr})
	}
	out = append(out, d.completed...)
	return out
}

// CancelMatching cancels every unfinished dispatch whose description
// (action + argstr) contains desc, for the "cancel" built-in, and returns
// how many were cancelled. Grounded on the original's cancel_action
// (models/server.py:214), which "cancels all tasks matching the
// description" rather than a single task by id.
func (d *Dispatcher) CancelMatching(desc string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.running {
		if strings.Contains(t.Description(), desc) {
			t.cancel()
			n++
		}
	}
	return n
}
