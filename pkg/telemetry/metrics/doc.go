// Package metrics provides Prometheus metrics collection for the gateway.
//
// # Overview
//
// The Collector owns the process registry. HTTP request metrics are recorded
// here; the limiter (pkg/limits) and the reaper register their own metrics on
// the same registry so that a single /metrics endpoint exposes everything.
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	lm := limits.NewMetrics(collector.Registry(), collector.Namespace())
//	limiter, err := limits.New(store, registry, limits.WithMetrics(lm))
//
//	collector.RecordRequest("auth", http.StatusTooManyRequests, 3*time.Millisecond)
//
// # Prometheus Endpoint
//
//	# HELP throttle_http_requests_total Total number of HTTP requests handled by the gateway
//	# TYPE throttle_http_requests_total counter
//	throttle_http_requests_total{class="auth",status="429"} 17
//
// Requests that match no route are labelled class="unrouted".
package metrics
