// Package metrics records supervised runs as Prometheus metrics and writes
// them in the node-exporter textfile format.
package metrics

import (
	"fmt"

	"github.com/gurre/processoutput-go/state/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the run metrics in its own registry.
type Recorder struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	lines    *prometheus.CounterVec
	exitCode prometheus.Gauge
	duration prometheus.Histogram
	timeouts prometheus.Counter
}

// NewRecorder creates a Recorder with an empty registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procoutput",
			Name:      "runs_total",
			Help:      "Supervised runs by final status",
		}, []string{"status"}),
		lines: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procoutput",
			Name:      "lines_total",
			Help:      "Lines drained from the child",
		}, []string{"stream"}),
		exitCode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "procoutput",
			Name:      "last_exit_code",
			Help:      "Exit code of the most recent run",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "procoutput",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of supervised runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "procoutput",
			Name:      "timeouts_total",
			Help:      "Runs ended by the watchdog",
		}),
	}
}

// Record adds one finished run under the given status label.
func (r *Recorder) Record(res run.Result, status string) {
	r.runs.WithLabelValues(status).Inc()
	r.lines.WithLabelValues(run.Stdout.String()).Add(float64(res.StdoutLines))
	r.lines.WithLabelValues(run.Stderr.String()).Add(float64(res.StderrLines))
	r.exitCode.Set(float64(res.ExitCode))
	r.duration.Observe(res.Duration.Seconds())
	if res.TimedOut {
		r.timeouts.Inc()
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile atomically writes all metrics to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
