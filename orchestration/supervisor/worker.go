package supervisor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// worker is the lifecycle shared by drains and the watchdog: it is started
// before the child exists, waits for the handle, then runs body once.
type worker struct {
	name string
	poll time.Duration
	errs ErrorSink
	body func(h Handle)

	handles  chan Handle
	stop     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	running  atomic.Bool
	done     chan struct{}
}

func newWorker(name string, poll time.Duration, errs ErrorSink, body func(Handle)) *worker {
	return &worker{
		name:    name,
		poll:    poll,
		errs:    errs,
		body:    body,
		handles: make(chan Handle, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (w *worker) start() {
	go w.run()
}

// activate hands the worker its process. Only the first call has an effect.
func (w *worker) activate(h Handle) {
	select {
	case w.handles <- h:
	default:
	}
}

// halt sets the stop flag. A worker still waiting for its handle returns;
// a running body observes the flag at its next check.
func (w *worker) halt() {
	w.stopped.Store(true)
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *worker) isStopped() bool {
	return w.stopped.Load()
}

func (w *worker) run() {
	defer close(w.done)

	h := w.await()
	if h == nil {
		return
	}

	w.running.Store(true)
	defer w.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			w.errs.LogError(w.name+" failed", fmt.Errorf("panic: %v", r))
		}
	}()

	w.body(h)
}

// await blocks until the handle arrives or the worker is stopped, waking at
// least every poll interval to recheck the stop flag.
func (w *worker) await() Handle {
	timer := time.NewTimer(w.poll)
	defer timer.Stop()

	for !w.isStopped() {
		select {
		case h := <-w.handles:
			if w.isStopped() {
				return nil
			}
			return h
		case <-w.stop:
			return nil
		case <-timer.C:
			timer.Reset(w.poll)
		}
	}
	return nil
}
