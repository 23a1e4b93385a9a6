package sandbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records execution outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	TeardownFailures  *prometheus.CounterVec
	EngineAvailable   prometheus.Gauge
}

// NewMetrics registers the sandbox collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "execbox_executions_total",
				Help: "Total number of executions by request kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "execbox_execution_duration_seconds",
				Help:    "Execution phase duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind", "phase"}, // phase: "build", "run", "total"
		),
		TeardownFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "execbox_teardown_failures_total",
				Help: "Best-effort cleanup steps that failed",
			},
			[]string{"resource"}, // resource: "image", "workspace"
		),
		EngineAvailable: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "execbox_engine_available",
				Help: "1 when the container engine answered the startup ping",
			},
		),
	}
}

func (m *Metrics) observeOutcome(kind RequestKind, outcome Kind) {
	if m == nil {
		return
	}
	label := "success"
	if outcome != KindNone {
		label = outcome.String()
	}
	m.ExecutionsTotal.WithLabelValues(string(kind), label).Inc()
}

func (m *Metrics) observePhase(kind RequestKind, phase string, started time.Time) {
	if m == nil {
		return
	}
	m.ExecutionDuration.WithLabelValues(string(kind), phase).Observe(time.Since(started).Seconds())
}

func (m *Metrics) teardownFailed(resource string) {
	if m == nil {
		return
	}
	m.TeardownFailures.WithLabelValues(resource).Inc()
}

func (m *Metrics) setAvailable(available bool) {
	if m == nil {
		return
	}
	if available {
		m.EngineAvailable.Set(1)
	} else {
		m.EngineAvailable.Set(0)
	}
}
