package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "THROTTLE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of DefaultConfig and applies defaults to any
// field the document set to a zero value. It does not validate.
//
// A class listed under limits.policies replaces the built-in policy of the
// same name as a whole; fields it omits are zero, not inherited.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention THROTTLE_SECTION_FIELD (e.g., THROTTLE_PROXY_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv builds a configuration from defaults and THROTTLE_*
// environment overrides alone, for deployments without a config file.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from the given .env files into the
// process environment. Variables already set are not overwritten. Missing
// files are ignored; with no arguments ".env" in the working directory is
// tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %q: %w", p, err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format THROTTLE_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Proxy overrides
	envString("PROXY_LISTEN_ADDRESS", &cfg.Proxy.ListenAddress)
	envDuration("PROXY_READ_TIMEOUT", &cfg.Proxy.ReadTimeout)
	envDuration("PROXY_WRITE_TIMEOUT", &cfg.Proxy.WriteTimeout)
	envDuration("PROXY_IDLE_TIMEOUT", &cfg.Proxy.IdleTimeout)
	envDuration("PROXY_SHUTDOWN_TIMEOUT", &cfg.Proxy.ShutdownTimeout)
	envInt("PROXY_MAX_HEADER_BYTES", &cfg.Proxy.MaxHeaderBytes)
	envString("PROXY_UPSTREAM_URL", &cfg.Proxy.UpstreamURL)
	envDuration("PROXY_UPSTREAM_TIMEOUT", &cfg.Proxy.UpstreamTimeout)
	envString("PROXY_IDENTITY_USER_HEADER", &cfg.Proxy.Identity.UserHeader)
	envBool("PROXY_IDENTITY_TRUST_USER_HEADER", &cfg.Proxy.Identity.TrustUserHeader)
	envBool("PROXY_IDENTITY_TRUST_FORWARDED_HEADERS", &cfg.Proxy.Identity.TrustForwardedHeaders)
	envList("PROXY_IDENTITY_TRUSTED_PROXIES", &cfg.Proxy.Identity.TrustedProxies)
	envBool("PROXY_CORS_ENABLED", &cfg.Proxy.CORS.Enabled)

	// Admin overrides
	envBool("ADMIN_ENABLED", &cfg.Admin.Enabled)
	envString("ADMIN_LISTEN_ADDRESS", &cfg.Admin.ListenAddress)

	// Limits overrides
	envBool("LIMITS_ENABLED", &cfg.Limits.Enabled)
	envString("LIMITS_NAMESPACE", &cfg.Limits.Namespace)
	envString("LIMITS_STORE_BACKEND", &cfg.Limits.Store.Backend)
	envDuration("LIMITS_STORE_OPERATION_TIMEOUT", &cfg.Limits.Store.OperationTimeout)

	redis := &cfg.Limits.Store.Redis
	envString("LIMITS_STORE_REDIS_HOST", &redis.Host)
	envInt("LIMITS_STORE_REDIS_PORT", &redis.Port)
	envString("LIMITS_STORE_REDIS_USERNAME", &redis.Username)
	envString("LIMITS_STORE_REDIS_PASSWORD", &redis.Password)
	envInt("LIMITS_STORE_REDIS_DB", &redis.DB)
	envList("LIMITS_STORE_REDIS_CLUSTER_NODES", &redis.ClusterNodes)
	envInt("LIMITS_STORE_REDIS_POOL_SIZE", &redis.PoolSize)
	envBool("LIMITS_STORE_REDIS_APPROXIMATE_NON_ATOMIC", &redis.ApproximateNonAtomic)
	envBool("LIMITS_STORE_REDIS_TLS_ENABLED", &redis.TLS.Enabled)
	envString("LIMITS_STORE_REDIS_TLS_CA_FILE", &redis.TLS.CAFile)
	envString("LIMITS_STORE_REDIS_TLS_CERT_FILE", &redis.TLS.CertFile)
	envString("LIMITS_STORE_REDIS_TLS_KEY_FILE", &redis.TLS.KeyFile)
	envString("LIMITS_STORE_REDIS_TLS_SERVER_NAME", &redis.TLS.ServerName)

	envString("LIMITS_STORE_SQLITE_PATH", &cfg.Limits.Store.SQLite.Path)
	envDuration("LIMITS_STORE_SQLITE_BUSY_TIMEOUT", &cfg.Limits.Store.SQLite.BusyTimeout)

	envString("LIMITS_DEGRADATION_LOG_OUTPUT", &cfg.Limits.Degradation.LogOutput)
	envDuration("LIMITS_DEGRADATION_WARN_INTERVAL", &cfg.Limits.Degradation.WarnInterval)
	envBool("LIMITS_DEGRADATION_BREAKER_ENABLED", &cfg.Limits.Degradation.Breaker.Enabled)

	envBool("LIMITS_REAPER_ENABLED", &cfg.Limits.Reaper.Enabled)
	envString("LIMITS_REAPER_SCHEDULE", &cfg.Limits.Reaper.Schedule)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_LOGGING_REDACT_PII", &cfg.Telemetry.Logging.RedactPII)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	envString("SECRETS_DIR", &cfg.Secrets.Dir)
}

// Malformed values are ignored and the file value kept.

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envList(name string, dst *[]string) {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
