package supervisor

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gurre/processoutput-go/state/run"
)

// drain moves one output stream of the child into the sink, a line at a
// time. It reads while the child is alive, then once more to end-of-file so
// that output written just before exit is not lost.
type drain struct {
	*worker
	stream run.Stream
	sink   Sink

	// mu serialises reads between the drain goroutine and flush.
	mu       sync.Mutex
	reader   *bufio.Reader
	finished bool
	lines    atomic.Int64
}

func newDrain(stream run.Stream, sink Sink, errs ErrorSink, poll time.Duration) *drain {
	d := &drain{stream: stream, sink: sink}
	d.worker = newWorker(stream.String()+" drain", poll, errs, d.loop)
	return d
}

func (d *drain) loop(h Handle) {
	src := h.Stdout()
	if d.stream == run.Stderr {
		src = h.Stderr()
	}

	d.mu.Lock()
	d.reader = bufio.NewReader(src)
	d.mu.Unlock()

	for h.Alive() && !d.isStopped() {
		if !d.next() {
			return
		}
	}
	d.flush()
}

func (d *drain) next() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readLocked()
}

// flush reads every line still available until end-of-file. It does nothing
// if another goroutine is reading, or the stream is finished or not yet
// attached, so repeated calls are harmless.
func (d *drain) flush() {
	if !d.mu.TryLock() {
		return
	}
	defer d.mu.Unlock()
	for d.readLocked() {
	}
}

// readLocked delivers one line and reports whether more may follow. A final
// fragment without a newline is delivered as a line. A closed stream ends
// the drain silently; any other read error is reported once.
func (d *drain) readLocked() bool {
	if d.finished || d.reader == nil {
		return false
	}

	line, err := d.reader.ReadString('\n')
	if line != "" {
		d.emit(line)
	}
	if err == nil {
		return true
	}

	d.finished = true
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return false
	}
	d.errs.LogError("failed to read "+d.stream.String(), err)
	return false
}

func (d *drain) emit(line string) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	d.lines.Add(1)
	d.sink.Consume(line, d.stream)
}
