// Package health provides health check endpoints for the gateway.
//
// # Endpoints
//
// The package provides three endpoints, served on the admin listener:
//
//   - /health: Liveness probe - indicates if the process is running
//   - /ready: Readiness probe - indicates if the system can serve traffic
//   - /version: Build information - version, commit, build time
//
// # Critical and non-critical checks
//
// Checks registered with RegisterCheck are critical: a failure makes
// readiness report "unhealthy" with status 503. Checks registered with
// RegisterNonCriticalCheck only degrade readiness; the endpoint keeps
// returning 200 with status "degraded". The window store is registered as
// non-critical because the limiter fails open while it is unreachable.
//
// # Usage
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("config", func(ctx context.Context) error { return nil })
//	checker.RegisterNonCriticalCheck("store", limiter.Ping)
//
//	r.Get("/ready", checker.ReadinessHandler())
package health
