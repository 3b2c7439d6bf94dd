//go:build !windows

package terminate

import "golang.org/x/sys/unix"

// signalProcess sends SIGTERM, or SIGKILL when forced, to pid only.
func signalProcess(pid int, force bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	return unix.Kill(pid, sig)
}
