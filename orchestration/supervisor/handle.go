package supervisor

import (
	"io"

	"github.com/gurre/processoutput-go/state/run"
)

// Handle is a started child process as seen by the supervisor.
type Handle interface {
	Pid() int
	// Stdin is nil when the run has no input.
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Alive and Exited must not block.
	Alive() bool
	Exited() <-chan struct{}
	Wait() (int, error)
	Kill() error
	// CloseOutput closes the read ends so blocked reads return. Idempotent.
	CloseOutput()
}

// Starter launches the child for a request.
type Starter interface {
	Start(req run.Request) (Handle, error)
}

// StarterFunc adapts a function to Starter.
type StarterFunc func(req run.Request) (Handle, error)

// Start calls f(req).
func (f StarterFunc) Start(req run.Request) (Handle, error) { return f(req) }

// Target is the part of a Handle a Terminator needs.
type Target interface {
	Pid() int
	Alive() bool
	Kill() error
}

// Terminator stops a running process, gracefully unless force is set.
type Terminator interface {
	Terminate(target Target, force bool) error
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func(target Target, force bool) error

// Terminate calls f(target, force).
func (f TerminatorFunc) Terminate(target Target, force bool) error { return f(target, force) }

// killTerminator is used when no Terminator is configured: every request
// is a forced kill.
type killTerminator struct{}

func (killTerminator) Terminate(target Target, _ bool) error {
	if !target.Alive() {
		return nil
	}
	return target.Kill()
}

// Sink receives every drained line, without its terminator, tagged with the
// stream it came from. Consume is called from two goroutines at once.
type Sink interface {
	Consume(line string, stream run.Stream)
}

// Collector is implemented by sinks that accumulate output. The supervisor
// copies the collected text into the Result.
type Collector interface {
	Stdout() string
	Stderr() string
}

// Resetter is implemented by sinks that hold per-run state. Reset is called
// at the start of every Monitor.
type Resetter interface {
	Reset()
}

type discardSink struct{}

func (discardSink) Consume(string, run.Stream) {}
