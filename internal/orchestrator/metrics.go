package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for one shipgate invocation.
// It uses a standalone registry; the process is short-lived and writes the
// registry to a textfile collector instead of serving it.
type Metrics struct {
	registry *prometheus.Registry

	RunTotal          *prometheus.CounterVec
	ComponentDuration *prometheus.HistogramVec
	ComponentTotal    *prometheus.CounterVec
	SyncPolls         prometheus.Counter
	HookVerdicts      *prometheus.CounterVec
	LastRunTimestamp  prometheus.Gauge
	LastRunSuccess    prometheus.Gauge
}

// NewMetrics creates and registers all run metrics on a standalone registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		RunTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipgate",
				Subsystem: "run",
				Name:      "total",
				Help:      "Total number of orchestrator runs by outcome kind.",
			},
			[]string{"application", "outcome"},
		),
		ComponentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "shipgate",
				Subsystem: "component",
				Name:      "duration_seconds",
				Help:      "Duration of each component step in seconds.",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"component"},
		),
		ComponentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipgate",
				Subsystem: "component",
				Name:      "total",
				Help:      "Total number of component steps by result.",
			},
			[]string{"component", "result"},
		),
		SyncPolls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "shipgate",
				Subsystem: "sync",
				Name:      "polls_total",
				Help:      "Total number of application status polls.",
			},
		),
		HookVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipgate",
				Subsystem: "hook",
				Name:      "verdicts_total",
				Help:      "Observed hook verdicts at sync resolution.",
			},
			[]string{"hook", "verdict"},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "shipgate",
				Subsystem: "run",
				Name:      "last_timestamp_seconds",
				Help:      "Unix timestamp of the last completed run.",
			},
		),
		LastRunSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "shipgate",
				Subsystem: "run",
				Name:      "last_success",
				Help:      "Whether the last run succeeded (1=success, 0=failure).",
			},
		),
	}

	reg.MustRegister(
		m.RunTotal,
		m.ComponentDuration,
		m.ComponentTotal,
		m.SyncPolls,
		m.HookVerdicts,
		m.LastRunTimestamp,
		m.LastRunSuccess,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes every metric in the text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
