//go:build windows

package proc

import (
	"os"
	"os/exec"
	"syscall"
)

// setSysProcAttr starts the child in its own process group so console
// control events aimed at the supervisor do not reach it.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// exitCode returns the process exit code; taskkill /F reports 1.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
