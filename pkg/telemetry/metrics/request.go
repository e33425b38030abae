package metrics

import (
	"time"

	"mercator-hq/throttle/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics tracks HTTP traffic through the gateway.
//
// Metrics:
//   - throttle_http_requests_total: request count by class and status
//   - throttle_http_request_duration_seconds: request duration by class
//   - throttle_http_upstream_errors_total: failed upstream round trips
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics with the provided registry.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled by the gateway",
			},
			[]string{"class", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"class"},
		),

		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "upstream_errors_total",
				Help:      "Total number of failed upstream round trips",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.upstreamErrors,
	)

	return rm
}

// RecordRequest records metrics for a completed request.
func (rm *RequestMetrics) RecordRequest(class, status string, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(class, status).Inc()
	rm.requestDuration.WithLabelValues(class).Observe(duration.Seconds())
}

// RecordUpstreamError increments the upstream error counter.
func (rm *RequestMetrics) RecordUpstreamError(class string) {
	rm.upstreamErrors.WithLabelValues(class).Inc()
}
