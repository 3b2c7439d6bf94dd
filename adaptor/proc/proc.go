// Package proc starts child processes whose stdio pipes are owned by the
// caller rather than by os/exec.
//
// exec.Cmd closes pipes created by StdoutPipe/StderrPipe as soon as Wait
// returns, which would discard output still buffered in the pipe when a child
// exits quickly. Process instead hands the child plain os.Pipe write ends, so
// the read ends stay readable until end-of-file and are only closed by
// CloseOutput. Exit is observed by a reaper goroutine; Alive and Exited never
// block.
package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/gurre/processoutput-go/logic/envutil"
	"github.com/gurre/processoutput-go/state/run"
)

// ErrEmptyCommand is returned by Start when the argument vector is empty.
var ErrEmptyCommand = errors.New("proc: empty command")

// Process is a started child process.
type Process struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	done     chan struct{}
	exitCode int
	waitErr  error

	closeOutput sync.Once
}

// Start launches req.Command with fresh stdout/stderr pipes. A stdin pipe is
// only created when req.Input is set; otherwise stdin is the null device.
// req.Input itself is not consumed here.
//
//	p, err := proc.Start(run.Request{Command: []string{"ls", "-l"}})
//	if err != nil { ... }
//	code, _ := p.Wait()
func Start(req run.Request) (*Process, error) {
	if len(req.Command) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	cmd.Dir = req.Dir
	cmd.Env = envutil.MapToSlice(req.Env)
	setSysProcAttr(cmd)

	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("proc: stdout pipe: %w", err)
	}
	opened = append(opened, outR, outW)

	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("proc: stderr pipe: %w", err)
	}
	opened = append(opened, errR, errW)

	var inR, inW *os.File
	if req.Input != nil {
		inR, inW, err = os.Pipe()
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("proc: stdin pipe: %w", err)
		}
		opened = append(opened, inR, inW)
		cmd.Stdin = inR
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll()
		return nil, fmt.Errorf("proc: start %s: %w", req.Command[0], err)
	}

	// The child holds its own copies; dropping ours lets the read ends see
	// end-of-file once the child (and anything it spawned) closes them.
	_ = outW.Close()
	_ = errW.Close()
	if inR != nil {
		_ = inR.Close()
	}

	p := &Process{
		cmd:    cmd,
		stdin:  inW,
		stdout: outR,
		stderr: errR,
		done:   make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.exitCode = exitCode(p.cmd.ProcessState)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	close(p.done)
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stdin returns the write end of the child's stdin, or nil when the process
// was started without input.
func (p *Process) Stdin() io.WriteCloser {
	if p.stdin == nil {
		return nil
	}
	return p.stdin
}

// Stdout returns the read end of the child's stdout.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stderr returns the read end of the child's stderr.
func (p *Process) Stderr() io.Reader { return p.stderr }

// Exited is closed once the child has exited and been reaped.
func (p *Process) Exited() <-chan struct{} { return p.done }

// Alive reports whether the child has not yet been reaped.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the child exits and returns its exit code. Signal deaths
// on Unix report 128+signal. Safe to call from multiple goroutines.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.waitErr
}

// Kill forcibly terminates the child. Killing an exited child is a no-op.
func (p *Process) Kill() error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("proc: kill %d: %w", p.Pid(), err)
	}
	return nil
}

// CloseOutput closes the stdout and stderr read ends. A read blocked on
// either returns os.ErrClosed. Idempotent.
func (p *Process) CloseOutput() {
	p.closeOutput.Do(func() {
		_ = p.stdout.Close()
		_ = p.stderr.Close()
	})
}
