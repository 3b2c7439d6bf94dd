// Package run defines the request and result types exchanged with the process
// supervisor. These are pure data types with no I/O.
package run

import (
	"io"
	"time"
)

// Stream identifies which output stream of the child a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// String returns "stdout" or "stderr".
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Selection chooses which streams a forwarding sink passes on.
type Selection int

const (
	SelectBoth Selection = iota
	SelectStdout
	SelectStderr
)

// Includes reports whether lines from s pass the selection.
func (sel Selection) Includes(s Stream) bool {
	switch sel {
	case SelectStdout:
		return s == Stdout
	case SelectStderr:
		return s == Stderr
	default:
		return true
	}
}

// ParseSelection maps "stdout", "stderr" and "both" (or "") to a Selection.
func ParseSelection(v string) (Selection, bool) {
	switch v {
	case "", "both":
		return SelectBoth, true
	case "stdout":
		return SelectStdout, true
	case "stderr":
		return SelectStderr, true
	}
	return SelectBoth, false
}

// Request describes one supervised invocation.
type Request struct {
	// Command is the argument vector; Command[0] is the executable.
	Command []string
	// Env is the complete child environment. Nil inherits the parent's.
	Env map[string]string
	// Input is written to the child's stdin, which is then closed.
	// Nil leaves stdin connected to the null device.
	Input io.Reader
	// Timeout bounds the wall-clock runtime. Zero or negative disables the watchdog.
	Timeout time.Duration
	// Dir is the working directory. Empty uses the current directory.
	Dir string
}

// Result is the final state of a supervised run. It is only meaningful once
// Supervisor.Monitor has returned.
type Result struct {
	// RunID uniquely identifies the run in logs and reports.
	RunID string
	// Command is the argument vector that was executed.
	Command []string
	// Env is the environment passed to the child as KEY=VALUE pairs,
	// nil if the parent environment was inherited.
	Env []string
	// Pid is the OS process id of the child.
	Pid int
	// ExitCode is the child's exit status. Signal deaths on Unix report 128+signal.
	ExitCode int
	// TimedOut is true if the watchdog, not the child, ended the run.
	TimedOut bool
	// Stdout holds the collected standard output (collecting sink only).
	Stdout string
	// Stderr holds the collected standard error (collecting sink only).
	Stderr string
	// StdoutLines counts lines drained from stdout regardless of sink.
	StdoutLines int
	// StderrLines counts lines drained from stderr regardless of sink.
	StderrLines int
	// StartedAt is when the child was started.
	StartedAt time.Time
	// Duration is the time from start until the result was finalised.
	Duration time.Duration
}

// Succeeded reports whether the child exited with code 0 without timing out.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut
}
