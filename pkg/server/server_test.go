package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/limits"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/limits/storage"
	"mercator-hq/throttle/pkg/proxy/middleware"
	"mercator-hq/throttle/pkg/telemetry"
	"mercator-hq/throttle/pkg/telemetry/health"
)

func TestPublicRouter_LongestPrefixWins(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for i := 0; i < 3; i++ {
		w := env.public(http.MethodPost, "/api/auth/login", "203.0.113.7:5000")
		if w.Code != http.StatusOK {
			t.Fatalf("auth request %d: status = %d, want 200", i+1, w.Code)
		}
	}
	w := env.public(http.MethodPost, "/api/auth/login", "203.0.113.7:5000")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("fourth auth request: status = %d, want 429", w.Code)
	}
	if w.Header().Get(middleware.HeaderRetry) == "" {
		t.Error("429 should carry Retry-After")
	}

	// The api class has its own bucket and a larger limit.
	w = env.public(http.MethodGet, "/api/items", "203.0.113.7:5000")
	if w.Code != http.StatusOK {
		t.Fatalf("api request: status = %d, want 200", w.Code)
	}
	if got := w.Header().Get(middleware.HeaderLimit); got != "100" {
		t.Errorf("api %s = %q, want 100", middleware.HeaderLimit, got)
	}

	if got := env.upstream.Load(); got != 4 {
		t.Errorf("upstream calls = %d, want 4", got)
	}
}

func TestPublicRouter_UnroutedPassesUnchecked(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for i := 0; i < 50; i++ {
		w := env.public(http.MethodGet, "/static/app.js", "203.0.113.7:5000")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
		if got := w.Header().Get(middleware.HeaderLimit); got != "" {
			t.Fatalf("unrouted request got %s = %q", middleware.HeaderLimit, got)
		}
	}

	if w := env.public(http.MethodGet, "/", "203.0.113.7:5000"); w.Code != http.StatusOK {
		t.Errorf("root: status = %d, want 200", w.Code)
	}
}

func TestPublicRouter_SetsRequestID(t *testing.T) {
	env := newTestEnv(t, testConfig())

	w := env.public(http.MethodGet, "/api/items", "203.0.113.7:5000")
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("response should carry a request id")
	}
}

func TestPublicRouter_DryRun(t *testing.T) {
	env := newTestEnv(t, testConfig(), WithDryRun(true))

	for i := 0; i < 5; i++ {
		if w := env.public(http.MethodPost, "/api/auth/login", "203.0.113.7:5000"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 in dry run", i+1, w.Code)
		}
	}
}

func TestPublicRouter_LimitsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.Enabled = false
	env := newTestEnv(t, cfg)

	for i := 0; i < 5; i++ {
		if w := env.public(http.MethodPost, "/api/auth/login", "203.0.113.7:5000"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}
}

func TestPublicRouter_DegradedWhenStoreDown(t *testing.T) {
	env := newTestEnv(t, testConfig())
	_ = env.store.Close()

	w := env.public(http.MethodPost, "/api/auth/login", "203.0.113.7:5000")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (fail open)", w.Code)
	}
	if got := w.Header().Get(middleware.HeaderDegraded); got != "true" {
		t.Errorf("%s = %q, want true", middleware.HeaderDegraded, got)
	}
}

func TestNew_UnknownRouteClassPanics(t *testing.T) {
	cfg := testConfig()
	cfg.Proxy.Routes = append(cfg.Proxy.Routes, config.RouteConfig{PathPrefix: "/upload/", Class: "uploads"})

	defer func() {
		if recover() == nil {
			t.Error("New() should panic for a route with an unknown class")
		}
	}()
	newTestEnv(t, cfg)
}

func TestNew_Validation(t *testing.T) {
	cfg := testConfig()
	limiter, err := limits.New(storage.NewMemoryStore(), policy.NewDefaultRegistry())
	if err != nil {
		t.Fatalf("limits.New() error = %v", err)
	}
	defer limiter.Close()
	tel, err := telemetry.New(&cfg.Telemetry, health.VersionInfo{}, "")
	if err != nil {
		t.Fatalf("telemetry.New() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	if _, err := New(nil, limiter, tel); err == nil {
		t.Error("New() should require a config")
	}
	if _, err := New(cfg, nil, tel); err == nil {
		t.Error("New() should require a limiter")
	}

	bad := testConfig()
	bad.Proxy.UpstreamURL = "ftp://example.com"
	if _, err := New(bad, limiter, tel); err == nil {
		t.Error("New() should reject a non-http upstream")
	}

	bad = testConfig()
	bad.Proxy.Identity.TrustedProxies = []string{"not-a-cidr"}
	if _, err := New(bad, limiter, tel); err == nil {
		t.Error("New() should reject an invalid trusted proxy")
	}
}

func TestServer_Lifecycle(t *testing.T) {
	env := newTestEnv(t, testConfig())
	srv := env.server

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("Start() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	if !srv.IsRunning() {
		t.Error("IsRunning() = false after Ready")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/api/items", srv.PublicAddr()))
	if err != nil {
		t.Fatalf("GET gateway: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "upstream" {
		t.Errorf("gateway response = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(fmt.Sprintf("http://%s/health", srv.AdminAddr()))
	if err != nil {
		t.Fatalf("GET admin: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("admin /health = %d, want 200", resp.StatusCode)
	}

	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
}

func TestServer_AdminDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Admin.Enabled = false
	env := newTestEnv(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Start(ctx) }()
	<-env.server.Ready()

	if env.server.AdminAddr() != nil {
		t.Errorf("AdminAddr() = %v, want nil", env.server.AdminAddr())
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start() error = %v", err)
	}
}

func TestServer_ListenError(t *testing.T) {
	cfg := testConfig()
	cfg.Proxy.ListenAddress = "256.0.0.1:0"
	env := newTestEnv(t, cfg)

	err := env.server.Start(context.Background())
	if err == nil {
		t.Fatal("Start() should fail for an invalid address")
	}
}
