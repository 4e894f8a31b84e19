//go:build linux

package executor

import (
	"os/exec"
	"syscall"
)

// setProcGroup runs the command in its own process group so the shell and
// every tool it spawns can be signalled together. Pdeathsig stops the group
// if the gateway dies without cleaning up.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

func terminateProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
