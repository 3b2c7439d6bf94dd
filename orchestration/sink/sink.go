// Package sink provides the line consumers a supervisor delivers output to:
// collecting into memory, echoing to a console with per-stream prefixes, or
// forwarding to a caller-supplied Handler.
//
// Every sink here is safe for concurrent use; the stdout and stderr drains
// call Consume from separate goroutines.
package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gurre/processoutput-go/state/config"
	"github.com/gurre/processoutput-go/state/run"
)

// Default console prefixes.
const (
	PrefixStdout = "[OUT] "
	PrefixStderr = "[ERR] "
)

// Sink consumes one line of child output, without its terminator.
type Sink interface {
	Consume(line string, stream run.Stream)
}

// Collecting accumulates each stream in memory, one newline-terminated line
// at a time.
type Collecting struct {
	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
}

// NewCollecting returns an empty collecting sink.
func NewCollecting() *Collecting {
	return &Collecting{}
}

func (c *Collecting) Consume(line string, stream run.Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := &c.stdout
	if stream == run.Stderr {
		b = &c.stderr
	}
	b.WriteString(line)
	b.WriteByte('\n')
}

// Stdout returns everything collected from stdout so far.
func (c *Collecting) Stdout() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.String()
}

// Stderr returns everything collected from stderr so far.
func (c *Collecting) Stderr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stderr.String()
}

// Reset discards collected output. The supervisor calls it before each run.
func (c *Collecting) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdout.Reset()
	c.stderr.Reset()
}

// Console echoes stdout lines to one writer and stderr lines to another,
// each behind its own prefix.
type Console struct {
	mu        sync.Mutex
	stdout    io.Writer
	stderr    io.Writer
	prefixOut string
	prefixErr string
}

// NewConsole creates a console sink.
//
//	s := sink.NewConsole(os.Stdout, os.Stderr, sink.PrefixStdout, sink.PrefixStderr)
func NewConsole(stdout, stderr io.Writer, prefixOut, prefixErr string) *Console {
	return &Console{stdout: stdout, stderr: stderr, prefixOut: prefixOut, prefixErr: prefixErr}
}

func (c *Console) Consume(line string, stream run.Stream) {
	w, prefix := c.stdout, c.prefixOut
	if stream == run.Stderr {
		w, prefix = c.stderr, c.prefixErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(w, prefix+line)
}

// Handler receives forwarded lines. Selection is consulted per line; lines
// from an unselected stream are dropped.
type Handler interface {
	Selection() run.Selection
	HandleLine(line string, stream run.Stream)
}

// Streaming forwards lines to a Handler.
type Streaming struct {
	h Handler
}

// NewStreaming wraps h.
func NewStreaming(h Handler) *Streaming {
	return &Streaming{h: h}
}

func (s *Streaming) Consume(line string, stream run.Stream) {
	if s.h.Selection().Includes(stream) {
		s.h.HandleLine(line, stream)
	}
}

// Prefixed writes both streams to a single writer, tagging each line with
// its stream's prefix.
type Prefixed struct {
	mu        sync.Mutex
	w         io.Writer
	sel       run.Selection
	prefixOut string
	prefixErr string
}

// NewPrefixed creates a Handler writing to w.
func NewPrefixed(w io.Writer, sel run.Selection, prefixOut, prefixErr string) *Prefixed {
	return &Prefixed{w: w, sel: sel, prefixOut: prefixOut, prefixErr: prefixErr}
}

func (p *Prefixed) Selection() run.Selection { return p.sel }

func (p *Prefixed) HandleLine(line string, stream run.Stream) {
	prefix := p.prefixOut
	if stream == run.Stderr {
		prefix = p.prefixErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, prefix+line)
}

// Simple writes each stream unmodified to its own writer.
type Simple struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
	sel    run.Selection
}

// NewSimple creates a Handler that passes lines through.
func NewSimple(stdout, stderr io.Writer, sel run.Selection) *Simple {
	return &Simple{stdout: stdout, stderr: stderr, sel: sel}
}

func (s *Simple) Selection() run.Selection { return s.sel }

func (s *Simple) HandleLine(line string, stream run.Stream) {
	w := s.stdout
	if stream == run.Stderr {
		w = s.stderr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(w, line)
}

// HandlerFunc adapts a function to a Handler that selects both streams.
type HandlerFunc func(line string, stream run.Stream)

func (f HandlerFunc) Selection() run.Selection { return run.SelectBoth }

func (f HandlerFunc) HandleLine(line string, stream run.Stream) { f(line, stream) }

// Tee fans each line out to several sinks in order. If the first sink that
// collects output is wrapped, Tee exposes its collected text.
type Tee struct {
	sinks []Sink
}

// NewTee combines sinks; nil entries are skipped.
func NewTee(sinks ...Sink) *Tee {
	t := &Tee{}
	for _, s := range sinks {
		if s != nil {
			t.sinks = append(t.sinks, s)
		}
	}
	return t
}

func (t *Tee) Consume(line string, stream run.Stream) {
	for _, s := range t.sinks {
		s.Consume(line, stream)
	}
}

func (t *Tee) collector() *Collecting {
	for _, s := range t.sinks {
		if c, ok := s.(*Collecting); ok {
			return c
		}
	}
	return nil
}

// Stdout returns the collected stdout of the first Collecting sink, if any.
func (t *Tee) Stdout() string {
	if c := t.collector(); c != nil {
		return c.Stdout()
	}
	return ""
}

// Stderr returns the collected stderr of the first Collecting sink, if any.
func (t *Tee) Stderr() string {
	if c := t.collector(); c != nil {
		return c.Stderr()
	}
	return ""
}

// Reset resets every wrapped sink that holds per-run state.
func (t *Tee) Reset() {
	for _, s := range t.sinks {
		if r, ok := s.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
}

// FromConfig builds the sink selected by cfg.Output. Console and stream
// modes write to stdout and stderr.
func FromConfig(cfg config.Supervisor, stdout, stderr io.Writer) (Sink, error) {
	switch cfg.Output {
	case "", config.OutputCollect:
		return NewCollecting(), nil
	case config.OutputConsole:
		return NewConsole(stdout, stderr, cfg.PrefixStdout, cfg.PrefixStderr), nil
	case config.OutputStream:
		sel, ok := run.ParseSelection(cfg.Streams)
		if !ok {
			return nil, fmt.Errorf("sink: invalid streams %q", cfg.Streams)
		}
		return NewStreaming(NewPrefixed(stdout, sel, cfg.PrefixStdout, cfg.PrefixStderr)), nil
	}
	return nil, fmt.Errorf("sink: invalid output %q", cfg.Output)
}
