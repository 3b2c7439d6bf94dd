// Package osfamily classifies the host operating system for choosing a
// process termination strategy. The classification is computed once per
// process and never changes.
package osfamily

import (
	"runtime"
	"sync"
)

// Family is a coarse operating system classification.
type Family int

const (
	// Other covers every OS without a dedicated kill utility strategy
	// (darwin, the BSDs, ...).
	Other Family = iota
	// Linux is Linux excluding Android.
	Linux
	// Android has a kill utility but is reported separately from Linux.
	Android
	// Windows uses taskkill.
	Windows
)

// String returns the lower-case family name.
func (f Family) String() string {
	switch f {
	case Linux:
		return "linux"
	case Android:
		return "android"
	case Windows:
		return "windows"
	default:
		return "other"
	}
}

// Detect classifies a GOOS value.
//
//	osfamily.Detect("linux")   // Linux
//	osfamily.Detect("darwin")  // Other
func Detect(goos string) Family {
	switch goos {
	case "linux":
		return Linux
	case "android":
		return Android
	case "windows":
		return Windows
	default:
		return Other
	}
}

// Current returns the family of the running host, computed on first use.
var Current = sync.OnceValue(func() Family {
	return Detect(runtime.GOOS)
})
