// Package metrics holds the process's Prometheus registry and the
// instruments the pipeline, sinks, and reconciler report into.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics uses a standalone registry; there is no ambient global to
// collide with when tests construct several instances.
type Metrics struct {
	registry *prometheus.Registry

	SyncDuration    *prometheus.HistogramVec
	SyncTotal       *prometheus.CounterVec
	RowsWritten     *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	DriftTotal      *prometheus.CounterVec
	ReconcileTotal  *prometheus.CounterVec
	ScheduleEnabled *prometheus.GaugeVec
}

// New creates and registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,

		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "syncd",
				Subsystem: "worker",
				Name:      "sync_duration_seconds",
				Help:      "Duration of per-event sync pipelines in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"repository"},
		),
		SyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncd",
				Subsystem: "worker",
				Name:      "sync_total",
				Help:      "Total number of sync jobs by outcome.",
			},
			[]string{"repository", "result"},
		),
		RowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncd",
				Subsystem: "sink",
				Name:      "rows_written_total",
				Help:      "Total mutation rows written to sinks.",
			},
			[]string{"repository"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "syncd",
				Subsystem: "worker",
				Name:      "queue_depth",
				Help:      "Tasks currently waiting in each queue.",
			},
			[]string{"queue"},
		),
		DriftTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncd",
				Subsystem: "reconciler",
				Name:      "drift_total",
				Help:      "Drift items detected, by classification.",
			},
			[]string{"drift_type"},
		),
		ReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncd",
				Subsystem: "reconciler",
				Name:      "runs_total",
				Help:      "Reconciliation runs by outcome.",
			},
			[]string{"result"},
		),
		ScheduleEnabled: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "syncd",
				Subsystem: "reconciler",
				Name:      "schedule_enabled",
				Help:      "Whether a reconciliation schedule is enabled (1) or auto-disabled (0).",
			},
			[]string{"repository", "branch"},
		),
	}

	reg.MustRegister(
		m.SyncDuration,
		m.SyncTotal,
		m.RowsWritten,
		m.QueueDepth,
		m.DriftTotal,
		m.ReconcileTotal,
		m.ScheduleEnabled,
	)
	return m
}

// Registerer exposes the underlying registry for packages that carry
// their own instruments (the webhook receiver).
func (m *Metrics) Registerer() prometheus.Registerer { return m.registry }

// Handler returns an http.Handler that serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
