// Package metrics exports rotation runs as Prometheus metrics.
//
// Collectors live on a private registry, so a Recorder can be created per
// process (or per test) without clashing with the default registry. A CLI
// run is short lived, so metrics are written once to a node_exporter
// textfile rather than served.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/systmms/credrotate/pkg/rotation"
)

// Recorder implements rotation.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	steps     *prometheus.HistogramVec
	stepFails *prometheus.CounterVec
	lastRun   *prometheus.GaugeVec
}

var _ rotation.Recorder = (*Recorder)(nil)

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credrotate_rotation_started_total",
				Help: "Total number of rotation runs started",
			},
			[]string{"target"},
		),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credrotate_rotation_completed_total",
				Help: "Total number of rotation runs finished, by outcome",
			},
			[]string{"target", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credrotate_rotation_duration_seconds",
				Help:    "Duration of rotation runs in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120},
			},
			[]string{"target"},
		),
		steps: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credrotate_step_duration_seconds",
				Help:    "Duration of individual rotation steps in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"step"},
		),
		stepFails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credrotate_step_failures_total",
				Help: "Total number of failed rotation steps",
			},
			[]string{"step"},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "credrotate_last_run_timestamp_seconds",
				Help: "Unix time of the last finished run, by outcome",
			},
			[]string{"target", "outcome"},
		),
	}
	r.registry.MustRegister(r.started, r.completed, r.duration, r.steps, r.stepFails, r.lastRun)
	return r
}

// Registry returns the registry the collectors are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RunStarted(target string) {
	r.started.WithLabelValues(target).Inc()
}

func (r *Recorder) RunFinished(target string, status rotation.Status, kind rotation.ErrorKind, d time.Duration) {
	outcome := Outcome(status, kind)
	r.completed.WithLabelValues(target, outcome).Inc()
	r.duration.WithLabelValues(target).Observe(d.Seconds())
	r.lastRun.WithLabelValues(target, outcome).SetToCurrentTime()
}

func (r *Recorder) StepFinished(step string, d time.Duration, err error) {
	r.steps.WithLabelValues(step).Observe(d.Seconds())
	if err != nil {
		r.stepFails.WithLabelValues(step).Inc()
	}
}

// WriteTextfile writes all metrics in the text exposition format for the
// node_exporter textfile collector. The write is atomic.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// Outcome is the outcome label for a finished run: "completed",
// "ambiguous", or the error kind for failures.
func Outcome(status rotation.Status, kind rotation.ErrorKind) string {
	switch status {
	case rotation.StatusCompleted, rotation.StatusAmbiguous:
		return string(status)
	}
	if kind == rotation.KindNone {
		return string(status)
	}
	return kind.String()
}
