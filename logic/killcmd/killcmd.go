// Package killcmd builds the platform kill utility invocation for a process.
// Pure computation; running the command is handled by adaptor/terminate.
package killcmd

import (
	"strconv"

	"github.com/gurre/processoutput-go/logic/osfamily"
)

// For returns the argument vector that stops pid on the given OS family, or
// nil when the family has no kill utility strategy and the caller must fall
// back to a direct signal or forced destroy.
//
// On Windows the whole tree is stopped (/T); /F is only added when forced.
//
//	killcmd.For(osfamily.Linux, 4242, false)   // ["kill", "4242"]
//	killcmd.For(osfamily.Windows, 4242, true)  // ["taskkill", "/T", "/F", "/PID", "4242"]
func For(family osfamily.Family, pid int, force bool) []string {
	p := strconv.Itoa(pid)
	switch family {
	case osfamily.Linux, osfamily.Android:
		if force {
			return []string{"kill", "-9", p}
		}
		return []string{"kill", p}
	case osfamily.Windows:
		if force {
			return []string{"taskkill", "/T", "/F", "/PID", p}
		}
		return []string{"taskkill", "/T", "/PID", p}
	default:
		return nil
	}
}
