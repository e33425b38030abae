// Package telemetry wires the observability components of the throttle
// gateway.
//
// # Components
//
//   - logging: Structured logging with PII redaction
//   - metrics: Prometheus metrics collection
//   - tracing: OpenTelemetry distributed tracing
//   - health: Health check endpoints
//
// # Usage
//
//	tel, err := telemetry.New(&cfg.Telemetry, health.VersionInfo{Version: "1.0.0"}, "stderr")
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.Logger().Slog().Info("gateway started", "address", cfg.Proxy.ListenAddress)
//	tel.Metrics().RecordRequest("auth", 200, time.Millisecond)
//
// The limiter registers its own collectors on Registry so a single /metrics
// endpoint serves everything.
package telemetry
