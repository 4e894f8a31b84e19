//go:build unix && !linux

package executor

import (
	"os/exec"
	"syscall"
)

// setProcGroup runs the command in its own process group.
// Pdeathsig is Linux-only; elsewhere orphans rely on the timeout kill.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
