//go:build !windows

package proctree

import (
	"os/exec"
	"syscall"
)

// detach puts the worker in its own process group so a terminal-generated
// SIGINT reaches only the autolauncher; the supervisor decides when and how
// to signal the worker.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
