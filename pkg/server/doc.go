// Package server runs the gateway's two HTTP listeners.
//
// The public listener classifies each request by path prefix, runs the
// dual-tier admission check for its endpoint class and forwards admitted
// requests to the upstream. Paths that match no route are forwarded without
// a check. The admin listener serves health, readiness, version and
// Prometheus endpoints next to a small JSON API for operators.
//
// # Basic Usage
//
//	cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	registry, _ := policy.NewRegistry(cfg.Limits.PolicyMap())
//	limiter, _ := limits.New(storage.NewMemoryStore(), registry)
//	tel, _ := telemetry.New(&cfg.Telemetry, health.VersionInfo{Version: "dev"}, "")
//
//	srv, err := server.New(cfg, limiter, tel)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Start binds both listeners, closes Ready and blocks until ctx is
// cancelled or a listener fails, then calls Shutdown. Shutdown drains
// in-flight requests for up to proxy.shutdown_timeout.
//
// # Routes
//
// Public listener:
//   - configured path prefixes, longest prefix first: admission, then upstream
//   - anything else: upstream, unchecked
//
// Admin listener:
//   - GET  /health, /ready, /version, /metrics (paths configurable)
//   - GET  /admin/v1/status?identifier=&class=&user=
//   - POST /admin/v1/reset
//   - GET  /admin/v1/policies and /admin/v1/policies/{class}
//   - PUT  /admin/v1/policies/{class}
//   - POST /admin/v1/reap
//
// Policy changes made through the admin API apply to this process only. Every
// instance sharing a store must be updated for a fleet-wide change.
//
// AdminClient is the Go client for the admin API used by the CLI.
package server
