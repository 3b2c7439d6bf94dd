// Package supervisor runs a child process to completion while draining its
// stdout and stderr concurrently into a Sink, optionally enforcing a
// wall-clock timeout.
//
// A Monitor call proceeds in a fixed order: workers are started before the
// child exists, the child is launched and handed to them, input is written
// and stdin closed, the child is awaited, the drains are joined, a final
// flush collects anything still buffered, and the result is sealed. Reading
// both streams concurrently prevents a child from blocking on a full pipe.
//
// When the watchdog fires or Destroy is called, the drains may be stuck on a
// pipe that a descendant of the killed child still holds. The supervisor
// then closes the read ends itself so the drain goroutines always exit
// before Monitor returns.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gurre/processoutput-go/logic/envutil"
	"github.com/gurre/processoutput-go/state/run"
)

var (
	// ErrEmptyCommand is returned by Monitor for a request without a command.
	ErrEmptyCommand = errors.New("supervisor: empty command")
	// ErrBusy is returned when Monitor is called while another run is active
	// on the same Supervisor.
	ErrBusy = errors.New("supervisor: monitor already in progress")
)

// Default intervals.
const (
	DefaultActivationPoll = time.Second
	DefaultJoinPoll       = 100 * time.Millisecond
	DefaultWatchdogPoll   = 500 * time.Millisecond
	DefaultKillGrace      = 5 * time.Second
)

// Options configures a Supervisor. Starter is required.
type Options struct {
	Starter    Starter
	Terminator Terminator
	Sink       Sink
	Errors     ErrorSink
	Logger     *slog.Logger

	// ActivationPoll bounds how long a worker waits between checks of its
	// stop flag before the child is handed over.
	ActivationPoll time.Duration
	// JoinPoll is the interval at which the join rechecks the timeout and
	// destroy flags.
	JoinPoll time.Duration
	// WatchdogPoll is the watchdog's sampling interval.
	WatchdogPoll time.Duration
	// KillGrace is how long a timed out child may ignore the graceful
	// termination request before it is killed.
	KillGrace time.Duration
}

// Supervisor runs one child at a time. Monitor may be called again after a
// previous call has returned; Destroy and Flush are safe to call from any
// goroutine at any time.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	busy   bool
	handle Handle
	stdout *drain
	stderr *drain
	wd     *watchdog
	result run.Result

	timedOut  atomic.Bool
	destroyed atomic.Bool
}

// New creates a Supervisor. Zero durations take the package defaults; a nil
// Terminator kills outright, a nil Sink discards output and a nil ErrorSink
// logs through Logger.
//
//	s := supervisor.New(supervisor.Options{
//		Starter:    starter,
//		Terminator: term,
//		Sink:       sink.NewCollecting(),
//		Logger:     logger,
//	})
//	res, err := s.Monitor(ctx, run.Request{Command: []string{"make", "test"}, Timeout: time.Minute})
func New(opts Options) *Supervisor {
	if opts.Starter == nil {
		panic("supervisor: Starter is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Terminator == nil {
		opts.Terminator = killTerminator{}
	}
	if opts.Sink == nil {
		opts.Sink = discardSink{}
	}
	if opts.Errors == nil {
		opts.Errors = NewLogErrorSink(opts.Logger)
	}
	if opts.ActivationPoll <= 0 {
		opts.ActivationPoll = DefaultActivationPoll
	}
	if opts.JoinPoll <= 0 {
		opts.JoinPoll = DefaultJoinPoll
	}
	if opts.WatchdogPoll <= 0 {
		opts.WatchdogPoll = DefaultWatchdogPoll
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	return &Supervisor{opts: opts, logger: opts.Logger}
}

// Monitor runs req.Command to completion and returns its result. Output is
// delivered to the Sink as it is produced. When req.Timeout is positive the
// child is terminated once it has run that long, and the result reports
// TimedOut. Cancelling ctx has the same effect as Destroy.
//
// An error is returned when the child cannot be started or its input cannot
// be written; in the latter case the child is destroyed first and the
// partial result is returned alongside the error.
func (s *Supervisor) Monitor(ctx context.Context, req run.Request) (run.Result, error) {
	if len(req.Command) == 0 {
		return run.Result{ExitCode: -1}, ErrEmptyCommand
	}

	workers, err := s.prepare(req)
	if err != nil {
		return run.Result{ExitCode: -1}, err
	}
	defer s.release()

	for _, w := range workers {
		w.start()
	}

	h, err := s.opts.Starter.Start(req)
	if err != nil {
		s.stopAll(workers)
		for _, w := range workers {
			<-w.done
		}
		res := s.snapshot()
		res.ExitCode = -1
		return res, fmt.Errorf("supervisor: start %s: %w", req.Command[0], err)
	}
	startedAt := time.Now()

	s.mu.Lock()
	s.handle = h
	runID := s.result.RunID
	s.mu.Unlock()

	s.logger.Info("process started",
		"runID", runID,
		"pid", h.Pid(),
		"command", req.Command[0],
		"timeout", req.Timeout)

	for _, w := range workers {
		w.activate(h)
	}

	// Destroy may have run before the handle was published.
	if s.destroyed.Load() {
		s.terminate(h, true)
	}

	stop := context.AfterFunc(ctx, s.Destroy)
	defer stop()

	var inputErr error
	if req.Input != nil {
		if inputErr = writeInput(h.Stdin(), req.Input); inputErr != nil {
			s.logger.Warn("failed to write input, destroying process",
				"runID", runID, "pid", h.Pid(), "error", inputErr)
			s.Destroy()
		}
	}

	code, waitErr := s.awaitExit(h)
	if waitErr != nil {
		s.opts.Errors.LogError("failed to wait for process", waitErr)
	}

	if s.join() {
		s.abandon(h)
	}
	s.Flush()

	res := s.seal(h, code, startedAt)
	h.CloseOutput()

	s.logger.Info("process finished",
		"runID", res.RunID,
		"pid", res.Pid,
		"exitCode", res.ExitCode,
		"timedOut", res.TimedOut,
		"duration", res.Duration)

	if inputErr != nil {
		return res, fmt.Errorf("supervisor: write stdin: %w", inputErr)
	}
	return res, nil
}

// prepare claims the supervisor and builds fresh workers for req.
func (s *Supervisor) prepare(req run.Request) ([]*worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrBusy
	}
	s.busy = true
	s.handle = nil
	s.timedOut.Store(false)
	s.destroyed.Store(false)

	if r, ok := s.opts.Sink.(Resetter); ok {
		r.Reset()
	}

	s.stdout = newDrain(run.Stdout, s.opts.Sink, s.opts.Errors, s.opts.ActivationPoll)
	s.stderr = newDrain(run.Stderr, s.opts.Sink, s.opts.Errors, s.opts.ActivationPoll)
	workers := []*worker{s.stdout.worker, s.stderr.worker}

	s.wd = nil
	if req.Timeout > 0 {
		s.wd = newWatchdog(req.Timeout, s.opts.WatchdogPoll, s.opts.ActivationPoll, &s.timedOut, s.opts.Terminator, s.opts.Errors)
		workers = append(workers, s.wd.worker)
	}

	s.result = run.Result{
		RunID:   uuid.NewString(),
		Command: slices.Clone(req.Command),
		Env:     envutil.MapToSlice(req.Env),
	}
	return workers, nil
}

func (s *Supervisor) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// awaitExit blocks until the child exits. If the watchdog fired and the
// child is still running after KillGrace, it is killed.
func (s *Supervisor) awaitExit(h Handle) (int, error) {
	var expired <-chan struct{}
	if s.wd != nil {
		expired = s.wd.expired
	}

	var grace <-chan time.Time
	for {
		select {
		case <-h.Exited():
			return h.Wait()
		case <-expired:
			expired = nil
			timer := time.NewTimer(s.opts.KillGrace)
			defer timer.Stop()
			grace = timer.C
		case <-grace:
			grace = nil
			s.logger.Warn("process ignored termination, killing",
				"pid", h.Pid(), "grace", s.opts.KillGrace)
			s.terminate(h, true)
		}
	}
}

// join waits for both drains to reach end-of-file. Once the run has timed
// out or been destroyed the drains get one more interval, then join gives
// up and reports true.
func (s *Supervisor) join() bool {
	ticker := time.NewTicker(s.opts.JoinPoll)
	defer ticker.Stop()

	giveUp := false
	for _, d := range []*drain{s.stdout, s.stderr} {
	wait:
		for {
			select {
			case <-d.done:
				break wait
			case <-ticker.C:
				if giveUp {
					return true
				}
				giveUp = s.timedOut.Load() || s.destroyed.Load()
			}
		}
	}
	return false
}

// abandon stops the drains and closes the read ends under them, then waits
// a bounded time for their goroutines to exit.
func (s *Supervisor) abandon(h Handle) {
	drains := []*drain{s.stdout, s.stderr}
	for _, d := range drains {
		d.halt()
	}
	h.CloseOutput()

	deadline := time.NewTimer(max(10*s.opts.JoinPoll, time.Second))
	defer deadline.Stop()
	for _, d := range drains {
		select {
		case <-d.done:
		case <-deadline.C:
			s.opts.Errors.LogError(d.name+" did not stop after its stream was closed", nil)
			return
		}
	}
}

// seal records the final state of the run and clears the handle.
func (s *Supervisor) seal(h Handle, code int, startedAt time.Time) run.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.result
	res.Pid = h.Pid()
	res.ExitCode = code
	res.TimedOut = s.timedOut.Load()
	res.StdoutLines = int(s.stdout.lines.Load())
	res.StderrLines = int(s.stderr.lines.Load())
	res.StartedAt = startedAt
	res.Duration = time.Since(startedAt)
	if c, ok := s.opts.Sink.(Collector); ok {
		res.Stdout = c.Stdout()
		res.Stderr = c.Stderr()
	}

	s.result = res
	s.handle = nil
	return res
}

func (s *Supervisor) snapshot() run.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Result returns the result of the most recent run. It is only complete
// once Monitor has returned.
func (s *Supervisor) Result() run.Result {
	return s.snapshot()
}

// TimedOut reports whether the current or most recent run was ended by the
// watchdog.
func (s *Supervisor) TimedOut() bool {
	return s.timedOut.Load()
}

// Destroy forcibly stops the running child and its workers. While Monitor
// is active, Monitor performs the final flush and returns promptly; after
// Monitor has returned, Destroy is a no-op apart from a harmless flush.
func (s *Supervisor) Destroy() {
	s.mu.Lock()
	h := s.handle
	busy := s.busy
	workers := s.workersLocked()
	if busy {
		s.destroyed.Store(true)
	}
	s.mu.Unlock()

	if h != nil {
		s.terminate(h, true)
	}
	s.stopAll(workers)

	if !busy {
		s.Flush()
	}
}

// Flush delivers any output already readable but not yet consumed. It is a
// no-op when the drains are busy reading or the streams are exhausted.
func (s *Supervisor) Flush() {
	s.mu.Lock()
	drains := []*drain{s.stdout, s.stderr}
	s.mu.Unlock()

	for _, d := range drains {
		if d != nil {
			d.flush()
		}
	}
}

func (s *Supervisor) workersLocked() []*worker {
	var workers []*worker
	if s.stdout != nil {
		workers = append(workers, s.stdout.worker)
	}
	if s.stderr != nil {
		workers = append(workers, s.stderr.worker)
	}
	if s.wd != nil {
		workers = append(workers, s.wd.worker)
	}
	return workers
}

func (s *Supervisor) stopAll(workers []*worker) {
	for _, w := range workers {
		w.halt()
	}
}

func (s *Supervisor) terminate(h Handle, force bool) {
	if err := s.opts.Terminator.Terminate(h, force); err != nil {
		s.opts.Errors.LogError("failed to terminate process", err)
	}
}

func writeInput(w io.WriteCloser, r io.Reader) error {
	if w == nil {
		return errors.New("process has no stdin")
	}
	_, err := io.Copy(w, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}
