package reaper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for sweeps. A nil *Metrics records
// nothing.
type Metrics struct {
	sweeps      *prometheus.CounterVec
	keysDeleted prometheus.Counter
}

// NewMetrics registers the reaper metrics with reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "throttle"
	}
	factory := promauto.With(reg)

	return &Metrics{
		sweeps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "sweeps_total",
				Help:      "Total number of reaper sweeps by result",
			},
			[]string{"result"},
		),
		keysDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "keys_deleted_total",
				Help:      "Total number of empty window keys deleted",
			},
		),
	}
}

func (m *Metrics) recordSweep(stats Stats, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweeps.WithLabelValues(result).Inc()
	m.keysDeleted.Add(float64(stats.Deleted))
}
