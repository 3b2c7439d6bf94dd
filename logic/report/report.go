// Package report renders the outcome of a supervised run, either as a JSON
// document for machines or as a short summary for terminals.
package report

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gurre/processoutput-go/state/run"
)

// Status classifies how a run ended.
type Status string

const (
	Succeeded   Status = "succeeded"
	Failed      Status = "failed"
	TimedOut    Status = "timed_out"
	StartFailed Status = "start_failed"
	InputFailed Status = "input_failed"
)

// MaxLogBytes caps the combined log embedded in a report.
const MaxLogBytes = 64 * 1024

// Report is the JSON form of a run.
type Report struct {
	RunID       string    `json:"run_id"`
	Command     []string  `json:"command"`
	Env         []string  `json:"env,omitempty"`
	Pid         int       `json:"pid"`
	ExitCode    int       `json:"exit_code"`
	Status      Status    `json:"status"`
	TimedOut    bool      `json:"timed_out"`
	StdoutLines int       `json:"stdout_lines"`
	StderrLines int       `json:"stderr_lines"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	Log         string    `json:"log,omitempty"`
}

// Classify maps a result and the error Monitor returned to a Status.
func Classify(res run.Result, err error) Status {
	switch {
	case res.TimedOut:
		return TimedOut
	case err != nil && res.Pid == 0:
		return StartFailed
	case err != nil:
		return InputFailed
	case res.ExitCode == 0:
		return Succeeded
	default:
		return Failed
	}
}

// FromResult builds a Report. The collected output, if any, is embedded as
// a prefixed log truncated to MaxLogBytes.
//
//	r := report.FromResult(res, err)
func FromResult(res run.Result, err error) Report {
	r := Report{
		RunID:       res.RunID,
		Command:     res.Command,
		Env:         res.Env,
		Pid:         res.Pid,
		ExitCode:    res.ExitCode,
		Status:      Classify(res, err),
		TimedOut:    res.TimedOut,
		StdoutLines: res.StdoutLines,
		StderrLines: res.StderrLines,
		StartedAt:   res.StartedAt,
		DurationMS:  res.Duration.Milliseconds(),
		Log:         FormatLog(res.Stdout, res.Stderr, MaxLogBytes),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Marshal encodes r as indented JSON terminated by a newline.
func Marshal(r Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: marshal: %w", err)
	}
	return append(data, '\n'), nil
}

// FormatLog lists stdout lines prefixed with [stdout], then stderr lines
// prefixed with [stderr]. Empty lines are
// dropped. Output beyond limit bytes is cut at a line boundary; a limit of
// zero or less disables the cap.
func FormatLog(stdout, stderr string, limit int) string {
	var b strings.Builder
	write := func(prefix, text string) bool {
		for _, line := range strings.Split(text, "\n") {
			if line == "" {
				continue
			}
			if limit > 0 && b.Len()+len(prefix)+len(line)+1 > limit {
				return false
			}
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteByte('\n')
		}
		return true
	}
	if write("[stdout]", stdout) {
		write("[stderr]", stderr)
	}
	return b.String()
}

// Summary is the terminal form: the command vector and its exit code, with
// a note when the watchdog ended the run.
func Summary(res run.Result) string {
	var b strings.Builder
	b.WriteString("Command:\n")
	fmt.Fprintf(&b, "[%s]\n", strings.Join(res.Command, ", "))
	b.WriteString("Exit code:\n")
	fmt.Fprintf(&b, "%d\n", res.ExitCode)
	if res.TimedOut {
		b.WriteString("Timed out\n")
	}
	return b.String()
}
