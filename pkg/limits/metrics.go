package limits

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Check results recorded by Metrics.
const (
	resultAllowed  = "allowed"
	resultDenied   = "denied"
	resultDegraded = "degraded"
)

// Metrics contains Prometheus metrics for the limits package.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	checks        *prometheus.CounterVec
	denied        *prometheus.CounterVec
	degraded      *prometheus.CounterVec
	breakerState  prometheus.Gauge
	checkDuration *prometheus.HistogramVec
}

// NewMetrics registers the limiter metrics with reg under namespace.
// A nil reg selects the default registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "throttle"
	}
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "checks_total",
				Help:      "Total number of rate limit checks performed",
			},
			[]string{"class", "result"},
		),

		denied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "denied_total",
				Help:      "Total number of denied requests by deciding tier",
			},
			[]string{"class", "limit_type"},
		),

		degraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "degraded_total",
				Help:      "Total number of store calls that failed open",
			},
			[]string{"operation"},
		),

		breakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "breaker_state",
				Help:      "Store circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "check_duration_seconds",
				Help:      "Duration of limiter operations in seconds",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"operation"},
		),
	}
}

// RecordDecision records the outcome of a check.
func (m *Metrics) RecordDecision(d *Decision) {
	if m == nil || d == nil {
		return
	}
	class := string(d.Class)
	switch {
	case d.Degraded:
		m.checks.WithLabelValues(class, resultDegraded).Inc()
	case d.Allowed:
		m.checks.WithLabelValues(class, resultAllowed).Inc()
	default:
		m.checks.WithLabelValues(class, resultDenied).Inc()
		m.denied.WithLabelValues(class, string(d.LimitType)).Inc()
	}
}

// RecordDegraded records a store call that failed open.
func (m *Metrics) RecordDegraded(operation string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(operation).Inc()
}

// RecordBreakerState records the breaker state.
func (m *Metrics) RecordBreakerState(state BreakerState) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

// RecordDuration records how long an operation took.
func (m *Metrics) RecordDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
