//go:build !windows

package terminate

import (
	"log/slog"
	"testing"
	"time"

	"github.com/gurre/processoutput-go/adaptor/proc"
	"github.com/gurre/processoutput-go/logic/osfamily"
	"github.com/gurre/processoutput-go/state/run"
)

// TestTerminateRealProcess verifies a live child is stopped whether or not a
// kill binary is installed on the host: a missing binary takes the fallback.
func TestTerminateRealProcess(t *testing.T) {
	p, err := proc.Start(run.Request{Command: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.CloseOutput()

	if err := New(osfamily.Current(), slog.Default()).Terminate(p, false); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		_ = p.Kill()
		t.Fatal("process still alive after Terminate")
	}
	if code, _ := p.Wait(); code == 0 {
		t.Errorf("exit code = 0, want signal status")
	}
}
