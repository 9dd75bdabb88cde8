package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/droned/droned/internal/blaster"
)

func TestDispatchTracksCompletedTaskOutcome(t *testing.T) {
	reg, d := newTestDispatcher()
	reg.Register(Action{
		Name: "ok",
		Run: func(ctx context.Context, argstr string) blaster.Result {
			return OK("done")
		},
	})
	reg.Register(Action{
		Name: "bad",
		Run: func(ctx context.Context, argstr string) blaster.Result {
			return Fail(500, "boom")
		},
	})

	d.Dispatch("ok", "")
	d.Dispatch("bad", "")

	tasks := d.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("Tasks() len = %d, want 2", len(tasks))
	}
	var sawOK, sawBad bool
	for _, ts := range tasks {
		if !ts.Completed {
			t.Errorf("task %+v not marked completed", ts)
		}
		switch ts.Action {
		case "ok":
			sawOK = true
			if !ts.Success {
				t.Error("ok task reported Success=false")
			}
		case "bad":
			sawBad = true
			if ts.Success {
				t.Error("bad task reported Success=true")
			}
		}
	}
	if !sawOK || !sawBad {
		t.Fatalf("missing expected tasks: %+v", tasks)
	}
}

func TestCancelMatchingCancelsRunningTaskByDescription(t *testing.T) {
	reg, d := newTestDispatcher()
	started := make(chan struct{})
	reg.Register(Action{
		Name: "sleep",
		Run: func(ctx context.Context, argstr string) blaster.Result {
			close(started)
			<-ctx.Done()
			return Fail(499, "cancelled")
		},
	})

	resultCh := make(chan blaster.Result, 1)
	go func() {
		resultCh <- d.Dispatch("sleep", "forever")
	}()

	<-started
	n := d.CancelMatching("sleep forever")
	if n != 1 {
		t.Fatalf("CancelMatching = %d, want 1", n)
	}

	select {
	case res := <-resultCh:
		if !res.Error {
			t.Errorf("expected cancelled task to report an error result, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after cancel")
	}
}

func TestCancelMatchingReturnsZeroForNoMatch(t *testing.T) {
	_, d := newTestDispatcher()
	if n := d.CancelMatching("nothing running"); n != 0 {
		t.Errorf("CancelMatching on empty dispatcher = %d, want 0", n)
	}
}

func TestNewDispatcherUsesDefaultTimeout(t *testing.T) {
	_, d := newTestDispatcher()
	if d.timeout != DefaultActionTimeout {
		t.Errorf("timeout = %v, want %v", d.timeout, DefaultActionTimeout)
	}
}
