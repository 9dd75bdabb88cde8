//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// configureProcess starts the child in a new process group. Stop kills
// only the immediate child process, not the rest of the group.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// Windows has no SIGTERM; terminateProcess goes straight for Kill and lets
// the escalation timer in Stop cover the grace period instead.
func terminateProcess(p *os.Process) {
	p.Kill() //nolint:errcheck
}

func killProcess(p *os.Process) {
	p.Kill() //nolint:errcheck
}
