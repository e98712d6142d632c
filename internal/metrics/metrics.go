// Package metrics exposes agent activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/models"
)

const namespace = "deskpilot"

// Metrics implements agent.Metrics on a private registry.
type Metrics struct {
	registry     *prometheus.Registry
	tasks        *prometheus.CounterVec
	steps        *prometheus.CounterVec
	approvals    *prometheus.CounterVec
	stepDuration prometheus.Histogram
}

var _ agent.Metrics = (*Metrics)(nil)

// New creates and registers the agent metrics, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Plan steps processed by the execution loop, by outcome.",
		}, []string{"outcome"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "User answers to approval requests, by decision.",
		}, []string{"decision"}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Time from executing a step to its verification verdict.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
	m.registry.MustRegister(
		m.tasks, m.steps, m.approvals, m.stepDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// TaskFinished counts a terminal task.
func (m *Metrics) TaskFinished(status models.TaskStatus) {
	m.tasks.WithLabelValues(string(status)).Inc()
}

// StepFinished counts a step outcome. Steps that never executed report
// a zero duration and are left out of the histogram.
func (m *Metrics) StepFinished(outcome string, d time.Duration) {
	m.steps.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.stepDuration.Observe(d.Seconds())
	}
}

// Approval counts an approve or reject decision.
func (m *Metrics) Approval(decision string) {
	m.approvals.WithLabelValues(decision).Inc()
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
