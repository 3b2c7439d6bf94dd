// Package terminate stops child processes using the platform kill utility,
// falling back to a forced destroy when the utility is unavailable or fails.
package terminate

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/gurre/processoutput-go/logic/killcmd"
	"github.com/gurre/processoutput-go/logic/osfamily"
)

// Target is the view of a process needed to stop it.
type Target interface {
	Pid() int
	Alive() bool
	Kill() error
}

// CommandRunner runs a kill utility invocation and returns an error if it
// could not be run or exited non-zero.
type CommandRunner func(ctx context.Context, argv []string) error

// Terminator stops processes. The zero value is not usable; use New.
type Terminator struct {
	family  osfamily.Family
	run     CommandRunner
	signal  func(pid int, force bool) error
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Terminator for the given OS family.
//
//	t := terminate.New(osfamily.Current(), slog.Default())
//	_ = t.Terminate(p, false)
func New(family osfamily.Family, logger *slog.Logger) *Terminator {
	return &Terminator{
		family:  family,
		run:     runCommand,
		signal:  signalProcess,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// WithCommandRunner returns a copy of t that runs kill utilities through r.
func (t *Terminator) WithCommandRunner(r CommandRunner) *Terminator {
	c := *t
	c.run = r
	return &c
}

// Terminate asks target to stop. With force unset the request is graceful
// (SIGTERM / taskkill without /F). If the graceful or forced path cannot be
// confirmed, the process is destroyed with Kill. A target that is no longer
// alive is left alone.
func (t *Terminator) Terminate(target Target, force bool) error {
	if !target.Alive() {
		return nil
	}
	pid := target.Pid()

	if argv := killcmd.For(t.family, pid, force); argv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		err := t.run(ctx, argv)
		cancel()
		if err == nil {
			return nil
		}
		t.logger.Warn("kill command failed, destroying process", "pid", pid, "argv", argv, "error", err)
	} else if err := t.signal(pid, force); err == nil {
		return nil
	} else {
		t.logger.Warn("signal failed, destroying process", "pid", pid, "force", force, "error", err)
	}

	if err := target.Kill(); err != nil {
		return fmt.Errorf("terminate: pid %d: %w", pid, err)
	}
	return nil
}

func runCommand(ctx context.Context, argv []string) error {
	return exec.CommandContext(ctx, argv[0], argv[1:]...).Run()
}
