package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/throttle/internal/clock"
	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/limits"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/limits/reaper"
	"mercator-hq/throttle/pkg/limits/storage"
	"mercator-hq/throttle/pkg/telemetry"
	"mercator-hq/throttle/pkg/telemetry/health"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	cfg      *config.Config
	server   *Server
	limiter  *limits.Limiter
	store    *storage.MemoryStore
	clock    *clock.Virtual
	upstream *atomic.Int64
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Proxy.ListenAddress = "127.0.0.1:0"
	cfg.Admin.ListenAddress = "127.0.0.1:0"
	cfg.Proxy.UpstreamURL = "http://127.0.0.1:1"
	cfg.Proxy.ShutdownTimeout = 5 * time.Second
	cfg.Proxy.Routes = []config.RouteConfig{
		{PathPrefix: "/api/", Class: "api"},
		{PathPrefix: "/api/auth/", Class: "auth"},
	}
	return cfg
}

// newTestEnv builds a Server over a memory store, a virtual clock and an
// upstream that answers 200 and counts calls.
func newTestEnv(t *testing.T, cfg *config.Config, opts ...Option) *testEnv {
	t.Helper()

	registry, err := policy.NewRegistry(cfg.Limits.PolicyMap())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	store := storage.NewMemoryStore()
	clk := clock.NewVirtual(testStart)
	limiter, err := limits.New(store, registry, limits.WithClock(clk))
	if err != nil {
		t.Fatalf("limits.New() error = %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })

	tel, err := telemetry.New(&cfg.Telemetry, health.VersionInfo{Version: "1.2.3", Commit: "abc123"}, "")
	if err != nil {
		t.Fatalf("telemetry.New() error = %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	var calls atomic.Int64
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("upstream"))
	})

	rp := reaper.New(store, registry, limiter.Composer(), reaper.WithClock(clk))
	all := append([]Option{WithUpstream(upstream), WithReaper(rp)}, opts...)
	srv, err := New(cfg, limiter, tel, all...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{
		cfg:      cfg,
		server:   srv,
		limiter:  limiter,
		store:    store,
		clock:    clk,
		upstream: &calls,
	}
}

func (e *testEnv) public(method, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	e.server.PublicHandler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) admin(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.AdminHandler().ServeHTTP(w, req)
	return w
}
