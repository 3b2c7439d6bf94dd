package supervisor

import (
	"log/slog"
	"os"
)

// ErrorSink receives faults raised on worker goroutines (read failures,
// termination failures, timeouts). Implementations must be safe for
// concurrent use and must not panic.
type ErrorSink interface {
	LogError(msg string, err error)
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(msg string, err error)

// LogError calls f(msg, err).
func (f ErrorSinkFunc) LogError(msg string, err error) { f(msg, err) }

// LogErrorSink reports faults through a slog.Logger.
type LogErrorSink struct {
	logger *slog.Logger
}

// NewLogErrorSink creates an ErrorSink that logs at error level. A nil
// logger writes text records to stderr.
//
//	errs := supervisor.NewLogErrorSink(slog.Default())
func NewLogErrorSink(logger *slog.Logger) *LogErrorSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &LogErrorSink{logger: logger}
}

// LogError logs msg with err attached when non-nil.
func (s *LogErrorSink) LogError(msg string, err error) {
	if err != nil {
		s.logger.Error(msg, "error", err)
		return
	}
	s.logger.Error(msg)
}
