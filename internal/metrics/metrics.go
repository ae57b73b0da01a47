// Package metrics exports scheduler activity as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/actiontree/internal/scheduler"
)

const namespace = "actiontree"

// Hooks records action transitions into its own registry. Like every
// scheduler hook it is called serially, so the start times need no lock.
// One Hooks can observe several runs in turn.
type Hooks struct {
	scheduler.NopHooks

	registry *prometheus.Registry
	actions  *prometheus.CounterVec
	running  prometheus.Gauge
	duration *prometheus.HistogramVec
	output   prometheus.Counter

	started map[*scheduler.Action]time.Time
	now     func() time.Time
}

// NewHooks creates the collectors and registers them on a fresh registry.
func NewHooks() *Hooks {
	h := &Hooks{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "actions_total", Help: "Actions that reached a state, by state."},
			[]string{"status"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "actions_running", Help: "Actions whose behavior is currently running."},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "action_duration_seconds", Help: "Time spent in action behaviors.", Buckets: prometheus.DefBuckets},
			[]string{"status"},
		),
		output: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "action_output_bytes_total", Help: "Bytes written by action behaviors."},
		),
		started: make(map[*scheduler.Action]time.Time),
		now:     time.Now,
	}
	h.registry.MustRegister(h.actions, h.running, h.duration, h.output)
	return h
}

// Registry returns the registry holding the hooks' collectors.
func (h *Hooks) Registry() *prometheus.Registry {
	return h.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (h *Hooks) Handler() http.Handler {
	return promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current values for the node exporter's textfile
// collector.
func (h *Hooks) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, h.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func (h *Hooks) ActionReady(*scheduler.Action) {
	h.actions.WithLabelValues(scheduler.StatusReady.String()).Inc()
}

func (h *Hooks) ActionStarted(a *scheduler.Action) {
	h.actions.WithLabelValues(scheduler.StatusStarted.String()).Inc()
	h.running.Inc()
	h.started[a] = h.now()
}

func (h *Hooks) ActionSuccessful(a *scheduler.Action, _ any) {
	h.finish(a, scheduler.StatusSuccessful)
}

func (h *Hooks) ActionFailed(a *scheduler.Action, _ error) {
	h.finish(a, scheduler.StatusFailed)
}

func (h *Hooks) ActionCanceled(*scheduler.Action) {
	h.actions.WithLabelValues(scheduler.StatusCanceled.String()).Inc()
}

func (h *Hooks) ActionOutput(_ *scheduler.Action, chunk []byte) {
	h.output.Add(float64(len(chunk)))
}

func (h *Hooks) finish(a *scheduler.Action, status scheduler.Status) {
	h.actions.WithLabelValues(status.String()).Inc()

	start, ok := h.started[a]
	if !ok {
		return
	}
	delete(h.started, a)
	h.running.Dec()
	h.duration.WithLabelValues(status.String()).Observe(h.now().Sub(start).Seconds())
}
