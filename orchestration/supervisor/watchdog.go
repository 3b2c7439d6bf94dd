package supervisor

import (
	"fmt"
	"sync/atomic"
	"time"
)

// watchdog terminates the child once it has been observed running for
// longer than timeout. The clock starts at the first observation of a live
// process, not at launch.
type watchdog struct {
	*worker
	timeout  time.Duration
	interval time.Duration
	timedOut *atomic.Bool
	term     Terminator

	// expired is closed when the watchdog fires.
	expired chan struct{}
}

func newWatchdog(timeout, interval, activation time.Duration, timedOut *atomic.Bool, term Terminator, errs ErrorSink) *watchdog {
	wd := &watchdog{
		timeout:  timeout,
		interval: interval,
		timedOut: timedOut,
		term:     term,
		expired:  make(chan struct{}),
	}
	wd.worker = newWorker("watchdog", activation, errs, wd.loop)
	return wd
}

func (wd *watchdog) loop(h Handle) {
	if !h.Alive() {
		return
	}
	started := time.Now()

	ticker := time.NewTicker(wd.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.Exited():
			return
		case <-wd.stop:
			return
		case <-ticker.C:
		}
		if !h.Alive() || wd.isStopped() {
			return
		}
		if time.Since(started) < wd.timeout {
			continue
		}

		if wd.timedOut.CompareAndSwap(false, true) {
			wd.errs.LogError(fmt.Sprintf("Timeout of %v reached, terminating process...", wd.timeout), nil)
			close(wd.expired)
			if err := wd.term.Terminate(h, false); err != nil {
				wd.errs.LogError("failed to terminate timed out process", err)
			}
		}
		return
	}
}
