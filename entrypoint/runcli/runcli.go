// Package runcli wires the procoutput command: it loads configuration,
// builds the sink and supervisor, runs one command to completion and prints
// the outcome.
package runcli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/gurre/processoutput-go/adaptor/capturelog"
	"github.com/gurre/processoutput-go/adaptor/configloader"
	"github.com/gurre/processoutput-go/adaptor/metrics"
	"github.com/gurre/processoutput-go/adaptor/proc"
	"github.com/gurre/processoutput-go/adaptor/s3input"
	"github.com/gurre/processoutput-go/adaptor/terminate"
	"github.com/gurre/processoutput-go/logic/envutil"
	"github.com/gurre/processoutput-go/logic/osfamily"
	"github.com/gurre/processoutput-go/logic/report"
	"github.com/gurre/processoutput-go/orchestration/sink"
	"github.com/gurre/processoutput-go/orchestration/supervisor"
	"github.com/gurre/processoutput-go/state/config"
	"github.com/gurre/processoutput-go/state/run"
)

// Options holds the CLI arguments for one run. Empty strings and nil
// pointers leave the configured value in place.
type Options struct {
	Command    []string
	ConfigFile string
	Dir        string

	// Timeout overrides timeout_seconds when non-nil. Zero disables it.
	Timeout *time.Duration
	// Env holds extra KEY=VALUE pairs for the child.
	Env []string
	// CleanEnv starts the child from an empty environment instead of the
	// parent's.
	CleanEnv bool
	// Input is written to the child's stdin.
	Input string
	// InputFile names a file or s3:// object to write to stdin instead.
	InputFile string

	Output       string
	Streams      string
	PrefixStdout *string
	PrefixStderr *string
	CaptureFile  string
	MetricsFile  string
	LogLevel     string
	LogFormat    string
	JSON         bool

	Stdout io.Writer
	Stderr io.Writer
}

// Run executes opts.Command under a supervisor. The returned error is
// non-nil only when the command could not be run as requested; a non-zero
// exit or a timeout is reported through the result.
//
//	res, err := runcli.Run(ctx, runcli.Options{Command: []string{"make", "test"}})
func Run(ctx context.Context, opts Options) (run.Result, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if len(opts.Command) == 0 {
		return run.Result{ExitCode: -1}, fmt.Errorf("runcli: command required")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return run.Result{ExitCode: -1}, err
	}

	logger, err := newLogger(cfg, opts.Stderr)
	if err != nil {
		return run.Result{ExitCode: -1}, err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	input, err := resolveInput(ctx, cfg, opts, logger)
	if err != nil {
		return run.Result{ExitCode: -1}, err
	}

	out, err := sink.FromConfig(cfg, opts.Stdout, opts.Stderr)
	if err != nil {
		return run.Result{ExitCode: -1}, fmt.Errorf("runcli: %w", err)
	}

	var capture *capturelog.Capture
	if cfg.CaptureFile != "" {
		capture, err = capturelog.Open(cfg.CaptureFile, cfg.CaptureMaxBytes, cfg.CaptureMaxFiles)
		if err != nil {
			return run.Result{ExitCode: -1}, fmt.Errorf("runcli: %w", err)
		}
		defer func() { _ = capture.Close() }()
		out = sink.NewTee(out, capture)
	}

	sup := supervisor.New(supervisor.Options{
		Starter:        procStarter{},
		Terminator:     &terminatorBridge{t: terminate.New(osfamily.Current(), logger)},
		Sink:           out,
		Errors:         supervisor.NewLogErrorSink(logger),
		Logger:         logger,
		ActivationPoll: cfg.ActivationPoll,
		JoinPoll:       cfg.JoinPoll,
		WatchdogPoll:   cfg.WatchdogPoll,
		KillGrace:      cfg.KillGrace,
	})

	req := run.Request{
		Command: opts.Command,
		Env:     buildEnv(os.Environ(), opts.Env, opts.CleanEnv),
		Input:   input,
		Timeout: cfg.Timeout,
		Dir:     opts.Dir,
	}

	res, runErr := sup.Monitor(ctx, req)

	if capture != nil {
		if err := capture.Err(); err != nil {
			logger.Warn("capture file incomplete", "path", cfg.CaptureFile, "error", err)
		}
	}
	if cfg.MetricsFile != "" {
		rec := metrics.NewRecorder()
		rec.Record(res, string(report.Classify(res, runErr)))
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("failed to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}

	if err := printOutcome(opts, cfg, res, runErr); err != nil {
		logger.Warn("failed to print result", "error", err)
	}

	if runErr != nil {
		return res, fmt.Errorf("runcli: %w", runErr)
	}
	return res, nil
}

func loadConfig(opts Options) (config.Supervisor, error) {
	cfg := config.Default()
	if opts.ConfigFile != "" {
		loaded, err := configloader.Load(opts.ConfigFile)
		if err != nil {
			return config.Supervisor{}, fmt.Errorf("runcli: load config: %w", err)
		}
		cfg = loaded
	}
	if err := applyOverrides(&cfg, opts); err != nil {
		return config.Supervisor{}, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Supervisor, opts Options) error {
	if opts.Output != "" {
		if !config.ValidOutputs()[opts.Output] {
			return fmt.Errorf("runcli: invalid output %q (must be collect, console or stream)", opts.Output)
		}
		cfg.Output = opts.Output
	}
	if opts.Streams != "" {
		if _, ok := run.ParseSelection(opts.Streams); !ok {
			return fmt.Errorf("runcli: invalid streams %q (must be stdout, stderr or both)", opts.Streams)
		}
		cfg.Streams = opts.Streams
	}
	if opts.Timeout != nil {
		cfg.Timeout = max(*opts.Timeout, 0)
	}
	if opts.PrefixStdout != nil {
		cfg.PrefixStdout = *opts.PrefixStdout
	}
	if opts.PrefixStderr != nil {
		cfg.PrefixStderr = *opts.PrefixStderr
	}
	if opts.CaptureFile != "" {
		cfg.CaptureFile = opts.CaptureFile
	}
	if opts.MetricsFile != "" {
		cfg.MetricsFile = opts.MetricsFile
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	return nil
}

func newLogger(cfg config.Supervisor, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("runcli: log level %q: %w", cfg.LogLevel, err)
	}
	hopts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.LogFormat) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return nil, fmt.Errorf("runcli: invalid log format %q (must be text or json)", cfg.LogFormat)
}

// buildEnv returns nil, meaning inherit, unless the environment is changed.
func buildEnv(parent, extra []string, clean bool) map[string]string {
	if !clean && len(extra) == 0 {
		return nil
	}
	base := map[string]string{}
	if !clean {
		base = envutil.SliceToMap(parent)
	}
	return envutil.Merge(base, envutil.SliceToMap(extra))
}

// resolveInput loads stdin data up front so that a missing file or object
// fails before the child is started.
func resolveInput(ctx context.Context, cfg config.Supervisor, opts Options, logger *slog.Logger) (io.Reader, error) {
	switch {
	case opts.Input != "" && opts.InputFile != "":
		return nil, fmt.Errorf("runcli: input and input file are mutually exclusive")
	case opts.Input != "":
		return strings.NewReader(opts.Input), nil
	case opts.InputFile == "":
		return nil, nil
	case s3input.IsURI(opts.InputFile):
		loc, err := s3input.ParseURI(opts.InputFile)
		if err != nil {
			return nil, fmt.Errorf("runcli: %w", err)
		}
		fetcher, err := newFetcher(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		data, err := fetcher.Fetch(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("runcli: %w", err)
		}
		return bytes.NewReader(data), nil
	default:
		data, err := os.ReadFile(opts.InputFile)
		if err != nil {
			return nil, fmt.Errorf("runcli: read input: %w", err)
		}
		return bytes.NewReader(data), nil
	}
}

func newFetcher(ctx context.Context, cfg config.Supervisor, logger *slog.Logger) (*s3input.Fetcher, error) {
	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("runcli: load AWS config: %w", err)
	}
	return s3input.NewFetcher(awsCfg, cfg.S3Region, cfg.S3Endpoint, cfg.S3UseFIPS, nil, logger), nil
}

// printOutcome writes the JSON report, or in collect mode the captured
// output followed by the summary. Console and stream modes already echoed
// the output and only print the summary.
func printOutcome(opts Options, cfg config.Supervisor, res run.Result, runErr error) error {
	if opts.JSON {
		data, err := report.Marshal(report.FromResult(res, runErr))
		if err != nil {
			return err
		}
		_, err = opts.Stdout.Write(data)
		return err
	}
	if runErr != nil && res.Pid == 0 {
		return nil
	}

	if cfg.Output == config.OutputCollect {
		if _, err := io.WriteString(opts.Stdout, res.Stdout); err != nil {
			return err
		}
		if _, err := io.WriteString(opts.Stderr, res.Stderr); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(opts.Stdout, "\n"+report.Summary(res))
	return err
}

type procStarter struct{}

func (procStarter) Start(req run.Request) (supervisor.Handle, error) {
	p, err := proc.Start(req)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type terminatorBridge struct {
	t *terminate.Terminator
}

func (b *terminatorBridge) Terminate(target supervisor.Target, force bool) error {
	return b.t.Terminate(target, force)
}
