// Package configloader loads supervisor configuration from YAML or TOML files on disk.
package configloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gurre/processoutput-go/state/config"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// rawConfig mirrors the file layout. Pointer fields distinguish "unset" from
// zero so that an explicit 0 can disable the timeout.
type rawConfig struct {
	Output             string  `yaml:"output" toml:"output"`
	Streams            string  `yaml:"streams" toml:"streams"`
	PrefixStdout       *string `yaml:"prefix_stdout" toml:"prefix_stdout"`
	PrefixStderr       *string `yaml:"prefix_stderr" toml:"prefix_stderr"`
	CaptureFile        string  `yaml:"capture_file" toml:"capture_file"`
	MetricsFile        string  `yaml:"metrics_file" toml:"metrics_file"`
	LogLevel           string  `yaml:"log_level" toml:"log_level"`
	LogFormat          string  `yaml:"log_format" toml:"log_format"`
	S3Region           string  `yaml:"s3_region" toml:"s3_region"`
	S3Endpoint         string  `yaml:"s3_endpoint" toml:"s3_endpoint"`
	AWSAccessKeyID     string  `yaml:"aws_access_key_id" toml:"aws_access_key_id"`
	AWSSecretAccessKey string  `yaml:"aws_secret_access_key" toml:"aws_secret_access_key"`
	TimeoutSeconds     *int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
	ActivationPollMS   *int    `yaml:"activation_poll_ms" toml:"activation_poll_ms"`
	JoinPollMS         *int    `yaml:"join_poll_ms" toml:"join_poll_ms"`
	WatchdogPollMS     *int    `yaml:"watchdog_poll_ms" toml:"watchdog_poll_ms"`
	KillGraceSeconds   *int    `yaml:"kill_grace_seconds" toml:"kill_grace_seconds"`
	CaptureMaxBytes    *int64  `yaml:"capture_max_bytes" toml:"capture_max_bytes"`
	CaptureMaxFiles    *int    `yaml:"capture_max_files" toml:"capture_max_files"`
	S3UseFIPS          *bool   `yaml:"s3_use_fips" toml:"s3_use_fips"`
}

// Load loads the config file, overlaying values onto defaults. The format is
// chosen by extension: .toml is parsed as TOML, anything else as YAML.
// A missing file yields the defaults.
//
//	cfg, err := configloader.Load("/etc/procoutput/procoutput.yml")
func Load(path string) (config.Supervisor, error) {
	cfg := config.Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return config.Supervisor{}, fmt.Errorf("configloader: %w", err)
	}

	var raw rawConfig
	if isTOML(path) {
		if err := toml.Unmarshal(data, &raw); err != nil {
			return config.Supervisor{}, fmt.Errorf("configloader: parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return config.Supervisor{}, fmt.Errorf("configloader: parse %s: %w", path, err)
		}
	}

	if err := overlay(&cfg, raw); err != nil {
		return config.Supervisor{}, fmt.Errorf("configloader: %s: %w", path, err)
	}
	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func overlay(cfg *config.Supervisor, raw rawConfig) error {
	if raw.Output != "" {
		if !config.ValidOutputs()[raw.Output] {
			return fmt.Errorf("invalid output %q", raw.Output)
		}
		cfg.Output = raw.Output
	}
	if raw.Streams != "" {
		cfg.Streams = raw.Streams
	}
	if raw.PrefixStdout != nil {
		cfg.PrefixStdout = *raw.PrefixStdout
	}
	if raw.PrefixStderr != nil {
		cfg.PrefixStderr = *raw.PrefixStderr
	}
	if raw.CaptureFile != "" {
		cfg.CaptureFile = raw.CaptureFile
	}
	if raw.MetricsFile != "" {
		cfg.MetricsFile = raw.MetricsFile
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.LogFormat != "" {
		cfg.LogFormat = raw.LogFormat
	}
	if raw.S3Region != "" {
		cfg.S3Region = raw.S3Region
	}
	if raw.S3Endpoint != "" {
		cfg.S3Endpoint = raw.S3Endpoint
	}
	if raw.AWSAccessKeyID != "" {
		cfg.AWSAccessKeyID = raw.AWSAccessKeyID
	}
	if raw.AWSSecretAccessKey != "" {
		cfg.AWSSecretAccessKey = raw.AWSSecretAccessKey
	}
	if raw.TimeoutSeconds != nil {
		// Negative values mean "disabled", same as zero.
		cfg.Timeout = max(time.Duration(*raw.TimeoutSeconds)*time.Second, 0)
	}
	if raw.ActivationPollMS != nil {
		cfg.ActivationPoll = time.Duration(*raw.ActivationPollMS) * time.Millisecond
	}
	if raw.JoinPollMS != nil {
		cfg.JoinPoll = time.Duration(*raw.JoinPollMS) * time.Millisecond
	}
	if raw.WatchdogPollMS != nil {
		cfg.WatchdogPoll = time.Duration(*raw.WatchdogPollMS) * time.Millisecond
	}
	if raw.KillGraceSeconds != nil {
		cfg.KillGrace = time.Duration(*raw.KillGraceSeconds) * time.Second
	}
	if raw.CaptureMaxBytes != nil {
		cfg.CaptureMaxBytes = *raw.CaptureMaxBytes
	}
	if raw.CaptureMaxFiles != nil {
		cfg.CaptureMaxFiles = *raw.CaptureMaxFiles
	}
	if raw.S3UseFIPS != nil {
		cfg.S3UseFIPS = *raw.S3UseFIPS
	}
	return nil
}
