package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gurre/processoutput-go/orchestration/sink"
	"github.com/gurre/processoutput-go/state/run"
)

// fakeHandle is a process whose output comes from fixed readers and which
// "exits" when exit or Kill is called.
type fakeHandle struct {
	stdout io.Reader
	stderr io.Reader
	stdin  io.WriteCloser

	exited   chan struct{}
	exitOnce sync.Once
	code     int
	kills    atomic.Int32
	closed   atomic.Bool
}

func newFakeHandle(stdout, stderr string) *fakeHandle {
	return &fakeHandle{
		stdout: strings.NewReader(stdout),
		stderr: strings.NewReader(stderr),
		exited: make(chan struct{}),
	}
}

func (f *fakeHandle) exit(code int) {
	f.exitOnce.Do(func() {
		f.code = code
		close(f.exited)
	})
}

func (f *fakeHandle) Pid() int                { return 4242 }
func (f *fakeHandle) Stdin() io.WriteCloser   { return f.stdin }
func (f *fakeHandle) Stdout() io.Reader       { return f.stdout }
func (f *fakeHandle) Stderr() io.Reader       { return f.stderr }
func (f *fakeHandle) Exited() <-chan struct{} { return f.exited }

func (f *fakeHandle) Alive() bool {
	select {
	case <-f.exited:
		return false
	default:
		return true
	}
}

func (f *fakeHandle) Wait() (int, error) {
	<-f.exited
	return f.code, nil
}

func (f *fakeHandle) Kill() error {
	f.kills.Add(1)
	f.exit(137)
	return nil
}

func (f *fakeHandle) CloseOutput() {
	f.closed.Store(true)
	for _, r := range []io.Reader{f.stdout, f.stderr} {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

func startFake(h *fakeHandle) Starter {
	return StarterFunc(func(run.Request) (Handle, error) { return h, nil })
}

type errorLog struct {
	mu   sync.Mutex
	msgs []string
}

func (l *errorLog) LogError(msg string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		msg += ": " + err.Error()
	}
	l.msgs = append(l.msgs, msg)
}

func (l *errorLog) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func echo(args ...string) run.Request {
	return run.Request{Command: append([]string{"echo"}, args...)}
}

// TestMonitorCollectsBothStreams verifies lines from each stream reach the
// collecting sink in order, with the final unterminated fragment kept.
func TestMonitorCollectsBothStreams(t *testing.T) {
	h := newFakeHandle("a\r\nb\nc", "e1\n")
	h.exit(3)
	col := sink.NewCollecting()
	s := New(Options{Starter: startFake(h), Sink: col})

	res, err := s.Monitor(context.Background(), echo())
	if err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if res.Stdout != "a\nb\nc\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.Stderr != "e1\n" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if res.ExitCode != 3 || res.Succeeded() {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
	if res.StdoutLines != 3 || res.StderrLines != 1 {
		t.Errorf("lines = %d/%d", res.StdoutLines, res.StderrLines)
	}
	if res.Pid != 4242 || res.RunID == "" {
		t.Errorf("Pid=%d RunID=%q", res.Pid, res.RunID)
	}
	if !h.closed.Load() {
		t.Error("output not closed after Monitor")
	}
}

// TestMonitorReportsReadFault verifies a failing read is reported once to
// the error sink and does not fail the run.
func TestMonitorReportsReadFault(t *testing.T) {
	h := newFakeHandle("", "")
	h.stdout = io.MultiReader(strings.NewReader("before\n"), iotestErrReader{errors.New("device gone")})
	h.exit(0)
	errs := &errorLog{}
	col := sink.NewCollecting()
	s := New(Options{Starter: startFake(h), Sink: col, Errors: errs})

	res, err := s.Monitor(context.Background(), echo())
	if err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if res.Stdout != "before\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if !errs.contains("failed to read stdout: device gone") {
		t.Errorf("errors = %v", errs.msgs)
	}
	if len(errs.msgs) != 1 {
		t.Errorf("reported %d errors, want 1: %v", len(errs.msgs), errs.msgs)
	}
}

type iotestErrReader struct{ err error }

func (r iotestErrReader) Read([]byte) (int, error) { return 0, r.err }

// TestMonitorRecoversSinkPanic verifies a panicking sink is contained to its
// drain and surfaced through the error sink.
func TestMonitorRecoversSinkPanic(t *testing.T) {
	h := newFakeHandle("x\n", "")
	h.exit(0)
	errs := &errorLog{}
	bad := sink.NewStreaming(sink.HandlerFunc(func(string, run.Stream) { panic("sink exploded") }))
	s := New(Options{Starter: startFake(h), Sink: bad, Errors: errs})

	if _, err := s.Monitor(context.Background(), echo()); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if !errs.contains("stdout drain failed: panic: sink exploded") {
		t.Errorf("errors = %v", errs.msgs)
	}
}

// TestMonitorStartFailureStopsWorkers verifies that workers waiting for a
// handle that never arrives are released immediately, not after the
// activation interval.
func TestMonitorStartFailureStopsWorkers(t *testing.T) {
	starter := StarterFunc(func(run.Request) (Handle, error) {
		return nil, errors.New("no such file")
	})
	s := New(Options{Starter: starter, ActivationPoll: time.Hour})

	begin := time.Now()
	res, err := s.Monitor(context.Background(), run.Request{Command: []string{"x"}, Timeout: time.Minute})
	if err == nil {
		t.Fatal("expected start error")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Errorf("Monitor took %v", elapsed)
	}
}

func TestMonitorEmptyCommand(t *testing.T) {
	s := New(Options{Starter: startFake(newFakeHandle("", ""))})
	if _, err := s.Monitor(context.Background(), run.Request{}); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("err = %v, want ErrEmptyCommand", err)
	}
}

// TestMonitorRejectsConcurrentUse verifies a second Monitor on a busy
// supervisor fails fast while the first run is unaffected.
func TestMonitorRejectsConcurrentUse(t *testing.T) {
	h := newFakeHandle("", "")
	s := New(Options{Starter: startFake(h), JoinPoll: time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := s.Monitor(context.Background(), echo())
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		s.mu.Lock()
		started := s.handle != nil
		s.mu.Unlock()
		if started || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := s.Monitor(context.Background(), echo()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Monitor err = %v, want ErrBusy", err)
	}

	h.exit(0)
	if err := <-done; err != nil {
		t.Fatalf("first Monitor: %v", err)
	}
}

// TestWatchdogFiresOnce verifies the timeout flag is set, the message is
// reported and a graceful termination is requested exactly once.
func TestWatchdogFiresOnce(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := newFakeHandle("", "")
	h.stdout = pr
	errs := &errorLog{}

	var graceful, forced atomic.Int32
	term := TerminatorFunc(func(target Target, force bool) error {
		if force {
			forced.Add(1)
		} else {
			graceful.Add(1)
		}
		return target.Kill()
	})

	s := New(Options{
		Starter:      startFake(h),
		Terminator:   term,
		Errors:       errs,
		WatchdogPoll: 10 * time.Millisecond,
		JoinPoll:     10 * time.Millisecond,
	})

	res, err := s.Monitor(context.Background(), run.Request{Command: []string{"x"}, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if !res.TimedOut || !s.TimedOut() {
		t.Error("TimedOut = false")
	}
	if graceful.Load() != 1 || forced.Load() != 0 {
		t.Errorf("graceful=%d forced=%d", graceful.Load(), forced.Load())
	}
	if !errs.contains("Timeout of 50ms reached, terminating process...") {
		t.Errorf("errors = %v", errs.msgs)
	}
}

// TestWatchdogEscalatesAfterGrace verifies a child that ignores the graceful
// request is force-killed once the grace period ends.
func TestWatchdogEscalatesAfterGrace(t *testing.T) {
	h := newFakeHandle("", "")
	var forced atomic.Int32
	term := TerminatorFunc(func(target Target, force bool) error {
		if !force {
			return nil
		}
		forced.Add(1)
		return target.Kill()
	})

	s := New(Options{
		Starter:      startFake(h),
		Terminator:   term,
		Errors:       &errorLog{},
		WatchdogPoll: 10 * time.Millisecond,
		JoinPoll:     10 * time.Millisecond,
		KillGrace:    50 * time.Millisecond,
	})

	res, err := s.Monitor(context.Background(), run.Request{Command: []string{"x"}, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if forced.Load() != 1 {
		t.Errorf("forced = %d, want 1", forced.Load())
	}
	if res.ExitCode != 137 || !res.TimedOut {
		t.Errorf("ExitCode=%d TimedOut=%v", res.ExitCode, res.TimedOut)
	}
}

// TestAbandonClosesStuckDrains verifies a drain blocked on a stream that
// never ends is reclaimed once the run has timed out.
func TestAbandonClosesStuckDrains(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := newFakeHandle("", "")
	h.stdout = pr

	s := New(Options{
		Starter:      startFake(h),
		Errors:       &errorLog{},
		WatchdogPoll: 10 * time.Millisecond,
		JoinPoll:     10 * time.Millisecond,
	})

	done := make(chan run.Result, 1)
	go func() {
		res, _ := s.Monitor(context.Background(), run.Request{Command: []string{"x"}, Timeout: 30 * time.Millisecond})
		done <- res
	}()

	select {
	case res := <-done:
		if !res.TimedOut {
			t.Error("TimedOut = false")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Monitor did not return with a stuck drain")
	}
	if !h.closed.Load() {
		t.Error("CloseOutput not called")
	}
}

func TestDestroyBeforeMonitorIsSafe(t *testing.T) {
	s := New(Options{Starter: startFake(newFakeHandle("", ""))})
	s.Destroy()
	s.Flush()
	if res := s.Result(); res.RunID != "" {
		t.Errorf("Result = %+v, want zero", res)
	}
}

// TestSequentialReuse verifies a supervisor can run again and that a
// collecting sink is reset between runs.
func TestSequentialReuse(t *testing.T) {
	col := sink.NewCollecting()
	var next atomic.Int32
	starter := StarterFunc(func(run.Request) (Handle, error) {
		n := next.Add(1)
		h := newFakeHandle(strings.Repeat("x\n", int(n)), "")
		h.exit(0)
		return h, nil
	})
	s := New(Options{Starter: starter, Sink: col})

	first, err := s.Monitor(context.Background(), echo())
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Monitor(context.Background(), echo())
	if err != nil {
		t.Fatal(err)
	}
	if first.Stdout != "x\n" || second.Stdout != "x\nx\n" {
		t.Errorf("first=%q second=%q", first.Stdout, second.Stdout)
	}
	if first.RunID == second.RunID {
		t.Error("RunID reused")
	}
}

func TestMonitorRecordsEnvironment(t *testing.T) {
	h := newFakeHandle("", "")
	h.exit(0)
	s := New(Options{Starter: startFake(h)})

	res, err := s.Monitor(context.Background(), run.Request{
		Command: []string{"env"},
		Env:     map[string]string{"B": "2", "A": "1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(res.Env, ",") != "A=1,B=2" {
		t.Errorf("Env = %v", res.Env)
	}
	if strings.Join(res.Command, " ") != "env" {
		t.Errorf("Command = %v", res.Command)
	}
}

func TestLogErrorSinkAcceptsNilError(t *testing.T) {
	var buf strings.Builder
	errs := NewLogErrorSink(slog.New(slog.NewTextHandler(&buf, nil)))
	errs.LogError("plain", nil)
	errs.LogError("wrapped", errors.New("cause"))

	out := buf.String()
	if !strings.Contains(out, "msg=plain") || !strings.Contains(out, "error=cause") {
		t.Errorf("log = %q", out)
	}
}
