//go:build !windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// configureProcess puts the child in its own process group so a signal
// sent to it doesn't also land on droned itself.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcess(p *os.Process) {
	p.Signal(syscall.SIGTERM) //nolint:errcheck
}

func killProcess(p *os.Process) {
	p.Signal(syscall.SIGKILL) //nolint:errcheck
}
