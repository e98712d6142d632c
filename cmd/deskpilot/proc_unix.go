//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// detach starts cmd in its own session so closing the terminal does not
// stop the daemon.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
