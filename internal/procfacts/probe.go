// Package procfacts reads read-only OS process facts (C7): pid, ppid,
// inode-equivalent identity, cmdline, environment, RSS, file descriptor and
// thread counts, and accumulated CPU time. Linux gets a direct /proc
// reader; every other platform falls back to gopsutil.
package procfacts

import (
	"context"
	"time"
)

// Facts is a point-in-time snapshot of one OS process, per spec §4.7.
type Facts struct {
	PID        int
	PPID       int
	StartedAt  time.Time
	Cmdline    []string
	Environ    map[string]string
	RSSBytes   uint64
	NumFDs     int
	NumThreads int
	CPUTime    time.Duration
}

// Process is the probe handle for one OS process. Three variants satisfy
// it, per spec §4.7's "Live/Null/Remote" distinction:
//
//   - LiveProcess reads real facts for a local pid.
//   - NullProcess always reports "not running", for an AppInstance that
//     hasn't been started yet or whose process already exited.
//   - RemoteProcess is a stand-in for a process known only by a peer's
//     gremlin introspection feed, never probed locally.
type Process interface {
	// Facts reads the current snapshot. ok is false if the process is not
	// running (exited, never started, or not locally observable).
	Facts(ctx context.Context) (facts Facts, ok bool, err error)
	PID() int
}

// NullProcess always reports not-running.
type NullProcess struct{}

func (NullProcess) Facts(ctx context.Context) (Facts, bool, error) { return Facts{}, false, nil }
func (NullProcess) PID() int                                       { return 0 }

// RemoteProcess carries the last facts reported by a peer, without any
// local probing capability.
type RemoteProcess struct {
	Last Facts
}

func (r RemoteProcess) Facts(ctx context.Context) (Facts, bool, error) { return r.Last, true, nil }
func (r RemoteProcess) PID() int                                      { return r.Last.PID }

// NewLiveProcess returns a Process probing pid using the best available
// mechanism for the current platform (see proc_linux.go / proc_other.go).
func NewLiveProcess(pid int) Process {
	return newLiveProcess(pid)
}
