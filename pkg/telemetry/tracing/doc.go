// Package tracing provides OpenTelemetry distributed tracing for the gateway.
//
// # Overview
//
// New installs an SDK tracer provider exporting over OTLP gRPC and the W3C
// Trace Context and Baggage propagators. When tracing is disabled a noop
// tracer is returned and nothing is installed globally.
//
// The limiter creates its spans through otel.Tracer, so the check and store
// spans join the server span started by HTTPMiddleware.
//
// # Sampling Strategies
//
//   - always: Sample all traces (development/debugging)
//   - never: Sample no traces
//   - ratio: Sample a fraction of traces by trace id (production)
//
// All strategies honour the parent's sampling decision.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	handler = tracer.HTTPMiddleware(handler)
package tracing
