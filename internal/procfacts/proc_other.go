//go:build !linux

package procfacts

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// liveProcessGopsutil backs Process on platforms without a /proc
// filesystem, using gopsutil's per-OS readers instead.
type liveProcessGopsutil struct {
	pid int32
}

func newLiveProcess(pid int) Process {
	return liveProcessGopsutil{pid: int32(pid)}
}

func (p liveProcessGopsutil) PID() int { return int(p.pid) }

func (p liveProcessGopsutil) Facts(ctx context.Context) (Facts, bool, error) {
	proc, err := process.NewProcess(p.pid)
	if err != nil {
		return Facts{}, false, nil
	}

	running, err := proc.IsRunningWithContext(ctx)
	if err != nil || !running {
		return Facts{}, false, nil
	}

	f := Facts{PID: int(p.pid)}

	if ppid, err := proc.PpidWithContext(ctx); err == nil {
		f.PPID = int(ppid)
	}
	if cmdline, err := proc.CmdlineSliceWithContext(ctx); err == nil {
		f.Cmdline = cmdline
	}
	if env, err := proc.EnvironWithContext(ctx); err == nil {
		f.Environ = make(map[string]string, len(env))
		for _, kv := range env {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					f.Environ[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		f.RSSBytes = mem.RSS
	}
	if fds, err := proc.NumFDsWithContext(ctx); err == nil {
		f.NumFDs = int(fds)
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		f.NumThreads = int(threads)
	}
	if times, err := proc.TimesWithContext(ctx); err == nil && times != nil {
		f.CPUTime = time.Duration((times.User + times.System) * float64(time.Second))
	}
	if createTime, err := proc.CreateTimeWithContext(ctx); err == nil {
		f.StartedAt = time.UnixMilli(createTime)
	}

	return f, true, nil
}
