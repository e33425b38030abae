package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "throttle.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	configPath := writeConfig(t, `
proxy:
  listen_address: "0.0.0.0:8080"
  read_timeout: "60s"
  upstream_url: "http://backend:9000"
  routes:
    - path_prefix: "/api/auth/"
      class: "auth"
    - path_prefix: "/api/"
      class: "api"

limits:
  namespace: "edge"
  policies:
    auth:
      sustained_limit: 5
      sustained_window_seconds: 60
      burst_limit: 2
      burst_window_seconds: 10
      cooldown_seconds: 60
  store:
    backend: "sqlite"
    sqlite:
      path: "/var/lib/throttle/windows.db"
  reaper:
    enabled: false

telemetry:
  logging:
    level: "debug"
    format: "text"
`)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Proxy.ListenAddress != "0.0.0.0:8080" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:8080", cfg.Proxy.ListenAddress)
	}
	if cfg.Proxy.ReadTimeout != 60*time.Second {
		t.Errorf("expected read timeout 60s, got %v", cfg.Proxy.ReadTimeout)
	}
	if len(cfg.Proxy.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(cfg.Proxy.Routes))
	}
	if cfg.Limits.Namespace != "edge" {
		t.Errorf("expected namespace %q, got %q", "edge", cfg.Limits.Namespace)
	}
	if got := cfg.Limits.Policies["auth"].SustainedLimit; got != 5 {
		t.Errorf("expected auth sustained limit 5, got %d", got)
	}
	if _, ok := cfg.Limits.Policies["search"]; !ok {
		t.Error("expected built-in search class to remain")
	}
	if cfg.Limits.Store.SQLite.Path != "/var/lib/throttle/windows.db" {
		t.Errorf("unexpected sqlite path %q", cfg.Limits.Store.SQLite.Path)
	}
	if cfg.Limits.Reaper.Enabled {
		t.Error("expected reaper disabled")
	}
	if !cfg.Limits.Enabled {
		t.Error("expected limits enabled when omitted from the file")
	}
	if cfg.Proxy.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("expected default write timeout, got %v", cfg.Proxy.WriteTimeout)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	configPath := writeConfig(t, "proxy:\n  listen_address: [unclosed\n")

	_, err := LoadConfig(configPath)
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
limits:
  policies:
    auth:
      sustained_limit: 3
      sustained_window_seconds: 60
      burst_limit: 10
      burst_window_seconds: 10
`)

	_, err := LoadConfig(configPath)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if !verr.Has("limits.policies.auth.burst_limit") {
		t.Errorf("expected burst_limit error, got %v", verr)
	}
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("failed to load empty config: %v", err)
	}
	if len(cfg.Limits.Policies) != 5 {
		t.Errorf("expected 5 built-in policies, got %d", len(cfg.Limits.Policies))
	}
}

func TestLoadConfigWithEnvOverrides_BasicOverrides(t *testing.T) {
	configPath := writeConfig(t, `
proxy:
  listen_address: "127.0.0.1:8080"
limits:
  store:
    redis:
      host: "file-host"
`)

	t.Setenv("THROTTLE_PROXY_LISTEN_ADDRESS", "0.0.0.0:9999")
	t.Setenv("THROTTLE_LIMITS_STORE_REDIS_HOST", "env-host")
	t.Setenv("THROTTLE_LIMITS_STORE_REDIS_PASSWORD", "s3cret")
	t.Setenv("THROTTLE_TELEMETRY_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfigWithEnvOverrides(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Proxy.ListenAddress != "0.0.0.0:9999" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:9999", cfg.Proxy.ListenAddress)
	}
	if cfg.Limits.Store.Redis.Host != "env-host" {
		t.Errorf("expected redis host %q, got %q", "env-host", cfg.Limits.Store.Redis.Host)
	}
	if cfg.Limits.Store.Redis.Password != "s3cret" {
		t.Error("expected redis password from environment")
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected logging level %q, got %q", "warn", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfigWithEnvOverrides_TypedValues(t *testing.T) {
	configPath := writeConfig(t, "")

	t.Setenv("THROTTLE_LIMITS_STORE_OPERATION_TIMEOUT", "75ms")
	t.Setenv("THROTTLE_LIMITS_STORE_REDIS_PORT", "6380")
	t.Setenv("THROTTLE_LIMITS_REAPER_ENABLED", "false")
	t.Setenv("THROTTLE_TELEMETRY_TRACING_SAMPLE_RATIO", "0.5")
	t.Setenv("THROTTLE_LIMITS_STORE_REDIS_CLUSTER_NODES", "a:6379, b:6379")

	cfg, err := LoadConfigWithEnvOverrides(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Limits.Store.OperationTimeout != 75*time.Millisecond {
		t.Errorf("expected operation timeout 75ms, got %v", cfg.Limits.Store.OperationTimeout)
	}
	if cfg.Limits.Store.Redis.Port != 6380 {
		t.Errorf("expected port 6380, got %d", cfg.Limits.Store.Redis.Port)
	}
	if cfg.Limits.Reaper.Enabled {
		t.Error("expected reaper disabled from environment")
	}
	if cfg.Telemetry.Tracing.SampleRatio != 0.5 {
		t.Errorf("expected sample ratio 0.5, got %v", cfg.Telemetry.Tracing.SampleRatio)
	}
	nodes := cfg.Limits.Store.Redis.ClusterNodes
	if len(nodes) != 2 || nodes[0] != "a:6379" || nodes[1] != "b:6379" {
		t.Errorf("expected two cluster nodes, got %v", nodes)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidEnvValues(t *testing.T) {
	configPath := writeConfig(t, "")

	t.Setenv("THROTTLE_PROXY_READ_TIMEOUT", "not-a-duration")
	t.Setenv("THROTTLE_LIMITS_STORE_REDIS_PORT", "abc")
	t.Setenv("THROTTLE_LIMITS_ENABLED", "maybe")

	cfg, err := LoadConfigWithEnvOverrides(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Proxy.ReadTimeout != DefaultReadTimeout {
		t.Errorf("expected default read timeout, got %v", cfg.Proxy.ReadTimeout)
	}
	if cfg.Limits.Store.Redis.Port != DefaultRedisPort {
		t.Errorf("expected default port, got %d", cfg.Limits.Store.Redis.Port)
	}
	if !cfg.Limits.Enabled {
		t.Error("expected limits to stay enabled")
	}
}

func TestLoadConfigWithEnvOverrides_Revalidates(t *testing.T) {
	configPath := writeConfig(t, "")
	t.Setenv("THROTTLE_LIMITS_STORE_BACKEND", "etcd")

	_, err := LoadConfigWithEnvOverrides(configPath)
	if err == nil {
		t.Fatal("expected validation error after override")
	}
	if !strings.Contains(err.Error(), "limits.store.backend") {
		t.Errorf("expected backend error, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("THROTTLE_LIMITS_STORE_BACKEND", "memory")
	t.Setenv("THROTTLE_PROXY_UPSTREAM_URL", "http://backend:9000")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Limits.Store.Backend != "memory" {
		t.Errorf("expected backend %q, got %q", "memory", cfg.Limits.Store.Backend)
	}
	if len(cfg.Limits.Policies) != 5 {
		t.Errorf("expected the 5 built-in policies, got %d", len(cfg.Limits.Policies))
	}

	t.Setenv("THROTTLE_LIMITS_STORE_BACKEND", "etcd")
	if _, err := LoadFromEnv(); err == nil {
		t.Error("expected validation error for unknown backend")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "THROTTLE_TEST_DOTENV_VALUE=from-file\nTHROTTLE_TEST_DOTENV_SET=from-file\n"
	if err := os.WriteFile(envPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	t.Setenv("THROTTLE_TEST_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("THROTTLE_TEST_DOTENV_VALUE") })

	if err := LoadDotEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}

	if got := os.Getenv("THROTTLE_TEST_DOTENV_VALUE"); got != "from-file" {
		t.Errorf("expected %q, got %q", "from-file", got)
	}
	if got := os.Getenv("THROTTLE_TEST_DOTENV_SET"); got != "from-env" {
		t.Errorf("expected existing variable to win, got %q", got)
	}
}
