package runcli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gurre/processoutput-go/state/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	timeout := -5 * time.Second
	empty := ""

	err := applyOverrides(&cfg, Options{
		Output:       config.OutputStream,
		Streams:      "stderr",
		Timeout:      &timeout,
		PrefixStdout: &empty,
		CaptureFile:  "/tmp/c.log",
		LogLevel:     "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, config.OutputStream, cfg.Output)
	assert.Equal(t, "stderr", cfg.Streams)
	assert.Zero(t, cfg.Timeout, "negative timeout disables the watchdog")
	assert.Empty(t, cfg.PrefixStdout)
	assert.Equal(t, "[ERR] ", cfg.PrefixStderr)
	assert.Equal(t, "/tmp/c.log", cfg.CaptureFile)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyOverridesRejectsInvalid(t *testing.T) {
	cfg := config.Default()
	assert.Error(t, applyOverrides(&cfg, Options{Output: "printer"}))
	assert.Error(t, applyOverrides(&cfg, Options{Streams: "stdin"}))
}

// TestLoadConfigFileThenFlags verifies flags win over the config file while
// unset flags keep file values.
func TestLoadConfigFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procoutput.yml")
	require.NoError(t, os.WriteFile(path, []byte("timeout_seconds: 9\noutput: console\n"), 0o644))

	cfg, err := loadConfig(Options{ConfigFile: path, Output: config.OutputCollect})
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, cfg.Timeout)
	assert.Equal(t, config.OutputCollect, cfg.Output)
}

func TestBuildEnv(t *testing.T) {
	parent := []string{"PATH=/bin", "HOME=/root"}

	assert.Nil(t, buildEnv(parent, nil, false), "unchanged environment is inherited")

	env := buildEnv(parent, []string{"HOME=/tmp", "DEBUG=1"}, false)
	assert.Equal(t, map[string]string{"PATH": "/bin", "HOME": "/tmp", "DEBUG": "1"}, env)

	env = buildEnv(parent, nil, true)
	assert.NotNil(t, env)
	assert.Empty(t, env, "clean environment must be empty, not inherited")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	logger, err := newLogger(cfg, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	cfg.LogFormat = "xml"
	_, err = newLogger(cfg, &buf)
	assert.Error(t, err)

	cfg.LogFormat = "text"
	cfg.LogLevel = "loud"
	_, err = newLogger(cfg, &buf)
	assert.Error(t, err)
}

func TestResolveInputSources(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	r, err := resolveInput(ctx, cfg, Options{}, slog.Default())
	require.NoError(t, err)
	assert.Nil(t, r, "no input leaves stdin closed")

	r, err = resolveInput(ctx, cfg, Options{Input: "literal"}, slog.Default())
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	assert.Equal(t, "literal", string(data))

	path := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o644))
	r, err = resolveInput(ctx, cfg, Options{InputFile: path}, slog.Default())
	require.NoError(t, err)
	data, _ = io.ReadAll(r)
	assert.Equal(t, "from file", string(data))

	_, err = resolveInput(ctx, cfg, Options{InputFile: filepath.Join(t.TempDir(), "missing")}, slog.Default())
	assert.Error(t, err)

	_, err = resolveInput(ctx, cfg, Options{Input: "a", InputFile: path}, slog.Default())
	assert.Error(t, err)
}

// TestResolveInputFromS3 verifies s3:// input is fetched through the
// configured endpoint with static credentials.
func TestResolveInputFromS3(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bucket/input.txt", r.URL.Path)
		_, _ = w.Write([]byte("remote input"))
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.S3Endpoint = server.URL
	cfg.AWSAccessKeyID = "AKID"
	cfg.AWSSecretAccessKey = "SECRET"

	r, err := resolveInput(context.Background(), cfg, Options{InputFile: "s3://bucket/input.txt"}, slog.Default())
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	assert.Equal(t, "remote input", string(data))
}

func TestRunRequiresCommand(t *testing.T) {
	_, err := Run(context.Background(), Options{Stdout: io.Discard, Stderr: io.Discard})
	assert.Error(t, err)
}
