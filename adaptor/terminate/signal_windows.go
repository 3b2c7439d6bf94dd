//go:build windows

package terminate

import "errors"

// signalProcess is never reached on Windows, which always has taskkill.
func signalProcess(int, bool) error {
	return errors.New("terminate: signals not supported on windows")
}
