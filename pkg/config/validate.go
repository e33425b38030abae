package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/throttle/pkg/limits/policy"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "proxy.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Has reports whether any error refers to field.
func (e ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateProxy(&cfg.Proxy, cfg.Limits.Policies)...)
	errs = append(errs, validateAdmin(&cfg.Admin, &cfg.Proxy)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecrets(&cfg.Secrets)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateProxy validates proxy configuration.
func validateProxy(cfg *ProxyConfig, policies map[string]PolicyConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "proxy.listen_address",
			Message: "listen address is required",
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.UpstreamTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.upstream_timeout",
			Message: "upstream timeout must be positive",
		})
	}

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{
			Field:   "proxy.max_header_bytes",
			Message: "max header bytes exceeds reasonable limit (10MB)",
		})
	}

	// The upstream is optional for embedders that only use the admin API,
	// but when set it must be absolute.
	if cfg.UpstreamURL != "" {
		u, err := url.Parse(cfg.UpstreamURL)
		if err != nil {
			errs = append(errs, FieldError{
				Field:   "proxy.upstream_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, FieldError{
				Field:   "proxy.upstream_url",
				Message: "URL must use http or https scheme",
			})
		} else if u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "proxy.upstream_url",
				Message: "URL must include a host",
			})
		}
	}

	seen := make(map[string]bool, len(cfg.Routes))
	for i, r := range cfg.Routes {
		prefix := fmt.Sprintf("proxy.routes[%d]", i)
		if r.PathPrefix == "" || r.PathPrefix[0] != '/' {
			errs = append(errs, FieldError{
				Field:   prefix + ".path_prefix",
				Message: "path prefix must start with /",
			})
		} else if seen[r.PathPrefix] {
			errs = append(errs, FieldError{
				Field:   prefix + ".path_prefix",
				Message: fmt.Sprintf("duplicate path prefix %q", r.PathPrefix),
			})
		}
		seen[r.PathPrefix] = true

		if r.Class == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".class",
				Message: "class is required",
			})
		} else if _, ok := policies[r.Class]; !ok {
			errs = append(errs, FieldError{
				Field:   prefix + ".class",
				Message: fmt.Sprintf("unknown endpoint class %q", r.Class),
			})
		}
	}

	if cfg.Identity.UserHeader == "" {
		errs = append(errs, FieldError{
			Field:   "proxy.identity.user_header",
			Message: "user header is required",
		})
	}
	for i, cidr := range cfg.Identity.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("proxy.identity.trusted_proxies[%d]", i),
				Message: fmt.Sprintf("invalid CIDR %q", cidr),
			})
		}
	}
	if cfg.Identity.TrustForwardedHeaders && len(cfg.Identity.TrustedProxies) == 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.identity.trusted_proxies",
			Message: "trusted proxies are required when forwarded headers are trusted",
		})
	}
	if cfg.Identity.TrustUserHeader && len(cfg.Identity.TrustedProxies) == 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.identity.trusted_proxies",
			Message: "trusted proxies are required when the user header is trusted",
		})
	}

	return errs
}

// validateAdmin validates the admin listener.
func validateAdmin(cfg *AdminConfig, proxy *ProxyConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}
	var errs []FieldError
	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "admin.listen_address",
			Message: "listen address is required when the admin API is enabled",
		})
	} else if cfg.ListenAddress == proxy.ListenAddress {
		errs = append(errs, FieldError{
			Field:   "admin.listen_address",
			Message: "admin listen address must differ from proxy.listen_address",
		})
	}
	return errs
}

// validateLimits validates limits configuration.
func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if cfg.Namespace == "" {
		errs = append(errs, FieldError{
			Field:   "limits.namespace",
			Message: "namespace is required",
		})
	} else if strings.ContainsAny(cfg.Namespace, ":*?[] ") {
		errs = append(errs, FieldError{
			Field:   "limits.namespace",
			Message: "namespace must not contain ':', spaces or glob characters",
		})
	}

	if len(cfg.Policies) == 0 {
		errs = append(errs, FieldError{
			Field:   "limits.policies",
			Message: "at least one policy must be configured",
		})
	}

	// Sorted for stable error output.
	names := make([]string, 0, len(cfg.Policies))
	for name := range cfg.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		errs = append(errs, validatePolicy(name, cfg.Policies[name])...)
	}

	errs = append(errs, validateStore(&cfg.Store)...)

	deg := &cfg.Degradation
	if deg.LogOutput == "" {
		errs = append(errs, FieldError{
			Field:   "limits.degradation.log_output",
			Message: "log output is required",
		})
	}
	if deg.WarnInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.degradation.warn_interval",
			Message: "warn interval must be positive",
		})
	}
	if deg.Breaker.Enabled {
		if deg.Breaker.FailureThreshold <= 0 {
			errs = append(errs, FieldError{
				Field:   "limits.degradation.breaker.failure_threshold",
				Message: "failure threshold must be positive",
			})
		}
		if deg.Breaker.Cooldown <= 0 {
			errs = append(errs, FieldError{
				Field:   "limits.degradation.breaker.cooldown",
				Message: "cooldown must be positive",
			})
		}
	}

	if cfg.Reaper.Enabled {
		if _, err := cron.ParseStandard(cfg.Reaper.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "limits.reaper.schedule",
				Message: fmt.Sprintf("invalid schedule %q: %v", cfg.Reaper.Schedule, err),
			})
		}
	}
	if cfg.Reaper.ScanCount < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.reaper.scan_count",
			Message: "scan count must be non-negative",
		})
	}

	return errs
}

// validatePolicy maps the invariants of one policy onto config field paths.
func validatePolicy(name string, p PolicyConfig) []FieldError {
	prefix := fmt.Sprintf("limits.policies.%s", name)
	var errs []FieldError

	if strings.ContainsAny(name, ":*?[] ") || name == "" {
		errs = append(errs, FieldError{
			Field:   prefix,
			Message: "class name must not be empty or contain ':', spaces or glob characters",
		})
	}

	err := p.ToPolicy().Validate()
	var verr *policy.ValidationError
	if errors.As(err, &verr) {
		for _, fe := range verr.Errors {
			errs = append(errs, FieldError{
				Field:   prefix + "." + policyField(fe.Field),
				Message: fe.Message,
			})
		}
	} else if err != nil {
		errs = append(errs, FieldError{Field: prefix, Message: err.Error()})
	}
	return errs
}

// policyField translates a policy field name to its YAML key.
func policyField(field string) string {
	switch field {
	case "sustained_window", "burst_window", "cooldown":
		return field + "_seconds"
	}
	return field
}

// validateStore validates the window store backend.
func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	validBackends := map[string]bool{"redis": true, "sqlite": true, "memory": true}
	if cfg.Backend == "" {
		errs = append(errs, FieldError{
			Field:   "limits.store.backend",
			Message: "backend is required",
		})
	} else if !validBackends[cfg.Backend] {
		errs = append(errs, FieldError{
			Field:   "limits.store.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'redis', 'sqlite', or 'memory'", cfg.Backend),
		})
	}

	if cfg.OperationTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "limits.store.operation_timeout",
			Message: "operation timeout must be positive",
		})
	} else if cfg.OperationTimeout > 10*time.Second {
		errs = append(errs, FieldError{
			Field:   "limits.store.operation_timeout",
			Message: "operation timeout exceeds reasonable limit (10s)",
		})
	}

	switch cfg.Backend {
	case "redis":
		errs = append(errs, validateRedis(&cfg.Redis)...)
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "limits.store.sqlite.path",
				Message: "SQLite path is required when backend is 'sqlite'",
			})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{
				Field:   "limits.store.sqlite.busy_timeout",
				Message: "busy timeout must be positive",
			})
		}
	}

	return errs
}

// validateRedis validates Redis connection settings.
func validateRedis(cfg *RedisConfig) []FieldError {
	var errs []FieldError

	if len(cfg.ClusterNodes) == 0 {
		if cfg.Host == "" {
			errs = append(errs, FieldError{
				Field:   "limits.store.redis.host",
				Message: "host is required when cluster_nodes is empty",
			})
		}
		if cfg.Port < 1 || cfg.Port > 65535 {
			errs = append(errs, FieldError{
				Field:   "limits.store.redis.port",
				Message: "port must be between 1 and 65535",
			})
		}
		if cfg.DB < 0 {
			errs = append(errs, FieldError{
				Field:   "limits.store.redis.db",
				Message: "db must be non-negative",
			})
		}
	} else {
		for i, node := range cfg.ClusterNodes {
			if _, _, err := net.SplitHostPort(node); err != nil {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("limits.store.redis.cluster_nodes[%d]", i),
					Message: fmt.Sprintf("invalid address %q: expected host:port", node),
				})
			}
		}
		if cfg.DB != 0 {
			errs = append(errs, FieldError{
				Field:   "limits.store.redis.db",
				Message: "db must be 0 in cluster mode",
			})
		}
	}

	if cfg.PoolSize < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.store.redis.pool_size",
			Message: "pool size must be non-negative",
		})
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.store.redis.max_retries",
			Message: "max retries must be non-negative",
		})
	}
	if cfg.DialTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.store.redis.dial_timeout",
			Message: "dial timeout must be positive",
		})
	}

	if cfg.TLS.Enabled {
		if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
			errs = append(errs, FieldError{
				Field:   "limits.store.redis.tls",
				Message: "cert_file and key_file must be set together",
			})
		}
		if cfg.TLS.MinVersion != "1.2" && cfg.TLS.MinVersion != "1.3" {
			errs = append(errs, FieldError{
				Field:   "limits.store.redis.tls.min_version",
				Message: fmt.Sprintf("invalid TLS version %q: must be '1.2' or '1.3'", cfg.TLS.MinVersion),
			})
		}
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.Logging.Level == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: "logging level is required",
		})
	} else if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if cfg.Logging.Format == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: "logging format is required",
		})
	} else if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path is required when metrics are enabled",
		})
	}
	for i := 1; i < len(cfg.Metrics.RequestDurationBuckets); i++ {
		if cfg.Metrics.RequestDurationBuckets[i] <= cfg.Metrics.RequestDurationBuckets[i-1] {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.request_duration_buckets",
				Message: "buckets must be strictly increasing",
			})
			break
		}
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	if cfg.Health.Enabled {
		paths := []struct {
			field string
			value string
		}{
			{"telemetry.health.liveness_path", cfg.Health.LivenessPath},
			{"telemetry.health.readiness_path", cfg.Health.ReadinessPath},
			{"telemetry.health.version_path", cfg.Health.VersionPath},
		}
		for _, p := range paths {
			if p.value == "" || p.value[0] != '/' {
				errs = append(errs, FieldError{
					Field:   p.field,
					Message: "path must start with /",
				})
			}
		}

		if cfg.Health.CheckTimeout < 0 {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.check_timeout",
				Message: "check timeout must be positive",
			})
		}
		if cfg.Health.CheckTimeout > 60*time.Second {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.check_timeout",
				Message: "check timeout exceeds reasonable limit (60s)",
			})
		}
	}

	return errs
}

// validateSecrets validates secret resolution settings.
func validateSecrets(cfg *SecretsConfig) []FieldError {
	var errs []FieldError

	for _, r := range cfg.EnvPrefix {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			errs = append(errs, FieldError{
				Field:   "secrets.env_prefix",
				Message: fmt.Sprintf("env prefix %q may only contain A-Z, 0-9 and _", cfg.EnvPrefix),
			})
			break
		}
	}

	return errs
}
