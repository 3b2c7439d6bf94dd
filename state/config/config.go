// Package config defines the supervisor's configuration structs and their defaults.
// These are pure data types with no I/O; loading is handled by adaptor/configloader.
package config

import "time"

// Output modes select the sink that consumes drained lines.
const (
	OutputCollect = "collect"
	OutputConsole = "console"
	OutputStream  = "stream"
)

// Supervisor holds the process supervisor configuration.
// Fields are aligned from largest to smallest for memory efficiency.
type Supervisor struct {
	// Output is one of OutputCollect, OutputConsole or OutputStream.
	Output string
	// Streams selects forwarded streams in stream mode: stdout, stderr or both.
	Streams string
	// PrefixStdout is prepended to stdout lines by the console and stream sinks.
	PrefixStdout string
	// PrefixStderr is prepended to stderr lines by the console and stream sinks.
	PrefixStderr string
	// CaptureFile, if set, receives a rotating copy of every drained line.
	CaptureFile string
	// MetricsFile, if set, receives Prometheus text-format run metrics.
	MetricsFile string
	// LogLevel is the slog level name: debug, info, warn or error.
	LogLevel string
	// LogFormat is text or json.
	LogFormat string
	// S3Region is the region used to fetch stdin payloads from s3:// URLs.
	S3Region string
	// S3Endpoint overrides the S3 endpoint.
	S3Endpoint string
	// AWSAccessKeyID is an optional static access key for S3.
	AWSAccessKeyID string
	// AWSSecretAccessKey is the matching static secret key.
	AWSSecretAccessKey string

	// Timeout bounds each run. Zero disables the watchdog.
	Timeout time.Duration
	// ActivationPoll is how often a waiting worker rechecks its stop flag.
	ActivationPoll time.Duration
	// JoinPoll is the drain join polling interval.
	JoinPoll time.Duration
	// WatchdogPoll is the watchdog tick.
	WatchdogPoll time.Duration
	// KillGrace is how long a timed-out child may ignore the graceful
	// termination request before it is forcibly killed.
	KillGrace time.Duration

	// CaptureMaxBytes rotates the capture file past this size.
	CaptureMaxBytes int64
	// CaptureMaxFiles is the number of rotated capture files kept.
	CaptureMaxFiles int

	// S3UseFIPS selects the FIPS S3 endpoint.
	S3UseFIPS bool
}

// Default returns a Supervisor config with the stock polling intervals.
//
//	cfg := config.Default()
//	cfg.Timeout = 30 * time.Second
func Default() Supervisor {
	return Supervisor{
		Output:          OutputCollect,
		Streams:         "both",
		PrefixStdout:    "[OUT] ",
		PrefixStderr:    "[ERR] ",
		LogLevel:        "info",
		LogFormat:       "text",
		S3Region:        "us-east-1",
		ActivationPoll:  1000 * time.Millisecond,
		JoinPoll:        100 * time.Millisecond,
		WatchdogPoll:    500 * time.Millisecond,
		KillGrace:       5 * time.Second,
		CaptureMaxBytes: 64 << 20,
		CaptureMaxFiles: 8,
	}
}

// ValidOutputs returns the set of accepted Output values.
func ValidOutputs() map[string]bool {
	return map[string]bool{
		OutputCollect: true,
		OutputConsole: true,
		OutputStream:  true,
	}
}
