package metrics

import (
	"strconv"
	"time"

	"mercator-hq/throttle/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// UnroutedClass labels requests that matched no route.
const UnroutedClass = "unrouted"

// Collector owns the Prometheus registry of the gateway and records HTTP
// request metrics. The limiter and reaper register their own metrics on the
// same registry through Registry().
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	// Request metrics
	requestMetrics *RequestMetrics
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a new registry is created with
// the Go runtime and process collectors.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "throttle",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0}
	}

	c := &Collector{
		config:   cfg,
		registry: registry,
	}
	c.requestMetrics = NewRequestMetrics(cfg, registry)

	return c
}

// RecordRequest records metrics for a completed HTTP request.
//
// Parameters:
//   - class: endpoint class of the matched route, empty when unrouted
//   - status: HTTP status code written to the client
//   - duration: total request duration including the upstream
func (c *Collector) RecordRequest(class string, status int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	if class == "" {
		class = UnroutedClass
	}
	c.requestMetrics.RecordRequest(class, strconv.Itoa(status), duration)
}

// RecordUpstreamError records a failed upstream round trip.
func (c *Collector) RecordUpstreamError(class string) {
	if !c.config.Enabled {
		return
	}
	if class == "" {
		class = UnroutedClass
	}
	c.requestMetrics.RecordUpstreamError(class)
}

// Namespace returns the metric name prefix shared by all components.
func (c *Collector) Namespace() string {
	return c.config.Namespace
}

// Enabled reports whether recording is on.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry returns the Prometheus registry used by this collector.
// This can be used to create an HTTP handler for the /metrics endpoint:
//
//	http.Handle("/metrics", promhttp.HandlerFor(
//		collector.Registry(),
//		promhttp.HandlerOpts{},
//	))
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
