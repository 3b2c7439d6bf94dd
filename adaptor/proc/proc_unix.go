//go:build !windows

package proc

import (
	"os"
	"os/exec"
	"syscall"
)

// setSysProcAttr leaves the child in the parent's process group; only the
// child itself is ever signalled.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{}
}

// exitCode maps a wait status to the shell convention: the exit status for a
// normal exit, 128+signal for a signal death.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
