// Command procoutput runs a command under supervision, draining its stdout
// and stderr concurrently and optionally enforcing a timeout.
//
// Usage:
//
//	procoutput run [flags] -- command [args...]
//
// Exit status is 0 when the command succeeded, 1 when it exited non-zero or
// timed out, and 2 when it could not be run.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gurre/processoutput-go/entrypoint/runcli"
	"github.com/spf13/cobra"
)

// errFailed marks a run that completed but did not succeed; the outcome has
// already been printed.
var errFailed = errors.New("command failed")

func main() {
	root := &cobra.Command{
		Use:           "procoutput",
		Short:         "Run commands while draining their output",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, errFailed) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "procoutput: %s\n", err)
		os.Exit(2)
	}
}

func newRunCmd() *cobra.Command {
	var (
		opts           runcli.Options
		timeoutSeconds int
		prefixStdout   string
		prefixStderr   string
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a command and collect, echo or stream its output",
		Long: `Runs the command with its stdout and stderr drained concurrently, so it
can never block on a full pipe. With --timeout the command is terminated once
it has run that many seconds.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = args
			flags := cmd.Flags()
			if flags.Changed("timeout") {
				d := time.Duration(timeoutSeconds) * time.Second
				opts.Timeout = &d
			}
			if flags.Changed("prefix-stdout") {
				opts.PrefixStdout = &prefixStdout
			}
			if flags.Changed("prefix-stderr") {
				opts.PrefixStderr = &prefixStderr
			}
			opts.Stdout = cmd.OutOrStdout()
			opts.Stderr = cmd.ErrOrStderr()

			res, err := runcli.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if !res.Succeeded() {
				return errFailed
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.SetInterspersed(false)
	f.IntVarP(&timeoutSeconds, "timeout", "t", 0, "Terminate the command after this many seconds (0 disables)")
	f.StringArrayVarP(&opts.Env, "env", "e", nil, "Extra KEY=VALUE for the command's environment (repeatable)")
	f.BoolVar(&opts.CleanEnv, "clean-env", false, "Do not inherit the parent environment")
	f.StringVarP(&opts.Input, "input", "i", "", "Text written to the command's stdin")
	f.StringVar(&opts.InputFile, "input-file", "", "File or s3://bucket/key written to the command's stdin")
	f.StringVarP(&opts.Output, "output", "o", "", "Output mode: collect, console or stream")
	f.StringVar(&opts.Streams, "streams", "", "Streams forwarded in stream mode: stdout, stderr or both")
	f.StringVar(&prefixStdout, "prefix-stdout", "", "Prefix for stdout lines in console and stream modes")
	f.StringVar(&prefixStderr, "prefix-stderr", "", "Prefix for stderr lines in console and stream modes")
	f.StringVarP(&opts.ConfigFile, "config", "c", "", "Path to a YAML or TOML config file")
	f.StringVar(&opts.Dir, "dir", "", "Working directory for the command")
	f.StringVar(&opts.CaptureFile, "capture-file", "", "Also write every line to this rotating file")
	f.StringVar(&opts.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
	f.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.StringVar(&opts.LogFormat, "log-format", "", "Log format: text or json")
	f.BoolVar(&opts.JSON, "json", false, "Print a JSON report instead of the summary")

	return cmd
}
