package config

import (
	"time"

	"mercator-hq/throttle/pkg/limits/policy"
)

// Config is the root configuration structure for the throttle gateway.
// It contains the public gateway listener, the admin listener, the rate
// limiter and telemetry settings.
type Config struct {
	// Proxy contains the public gateway listener, the protected upstream and
	// the route table mapping paths to endpoint classes.
	Proxy ProxyConfig `yaml:"proxy"`

	// Admin contains the admin API listener.
	Admin AdminConfig `yaml:"admin"`

	// Limits contains the rate limiter configuration: policies, store,
	// degradation and reaper settings.
	Limits LimitsConfig `yaml:"limits"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Secrets controls how ${secret:name} references are resolved.
	Secrets SecretsConfig `yaml:"secrets"`
}

// SecretsConfig configures secret reference resolution. References are
// allowed in the Redis username and password.
type SecretsConfig struct {
	// EnvPrefix is prepended to the upper-cased secret name to form the
	// environment variable consulted first.
	// Default: "THROTTLE_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir is a directory holding one file per secret, consulted after the
	// environment. Empty disables file secrets.
	// Example: "/run/secrets"
	Dir string `yaml:"dir"`
}

// ProxyConfig contains configuration for the public gateway.
type ProxyConfig struct {
	// ListenAddress is the address and port for the gateway to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body. A zero or negative value means no timeout.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. A zero or negative value means no timeout.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled. If IdleTimeout is zero, ReadTimeout is used.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// If requests are still in-flight after this timeout, the server will
	// force shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values, including the
	// request line. It does not limit the size of the request body.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// UpstreamURL is the protected backend that admitted requests are
	// forwarded to.
	// Required.
	UpstreamURL string `yaml:"upstream_url"`

	// UpstreamTimeout bounds the response headers from the upstream.
	// Default: 30s
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	// CORS contains Cross-Origin Resource Sharing configuration.
	CORS CORSConfig `yaml:"cors"`

	// Routes maps path prefixes to endpoint classes. The longest matching
	// prefix wins. Requests matching no route are forwarded without a check.
	Routes []RouteConfig `yaml:"routes"`

	// Identity controls how the caller IP and user id are determined.
	Identity IdentityConfig `yaml:"identity"`
}

// RouteConfig assigns an endpoint class to a path prefix.
type RouteConfig struct {
	// PathPrefix is matched against the request path.
	// Example: "/api/auth/"
	PathPrefix string `yaml:"path_prefix"`

	// Class is the endpoint class; it must exist in limits.policies.
	Class string `yaml:"class"`
}

// IdentityConfig controls caller identification.
type IdentityConfig struct {
	// UserHeader carries the authenticated user id, set by an upstream
	// authentication layer.
	// Default: "X-User-ID"
	UserHeader string `yaml:"user_header"`

	// TrustUserHeader honours UserHeader on requests from TrustedProxies.
	// From any other peer the header is ignored and the caller is keyed by
	// IP alone.
	// Default: false
	TrustUserHeader bool `yaml:"trust_user_header"`

	// TrustForwardedHeaders enables X-Forwarded-For and X-Real-IP for
	// requests arriving from TrustedProxies.
	// Default: false
	TrustForwardedHeaders bool `yaml:"trust_forwarded_headers"`

	// TrustedProxies lists the CIDRs whose forwarded headers are honoured.
	// Example: ["10.0.0.0/8"]
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) configuration.
type CORSConfig struct {
	// Enabled controls whether CORS is enabled.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins is a list of allowed origins for CORS requests.
	// Use ["*"] to allow all origins (not recommended for production).
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedMethods is a list of allowed HTTP methods for CORS requests.
	// Default: ["GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders is a list of allowed HTTP headers for CORS requests.
	// Default: ["Authorization", "Content-Type", "X-Request-ID", "X-User-ID"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// ExposedHeaders is a list of headers that are exposed to the client.
	// The rate limit headers are always exposed in addition.
	// Default: ["X-Request-ID"]
	ExposedHeaders []string `yaml:"exposed_headers"`

	// MaxAge is the maximum age (in seconds) for preflight request cache.
	// Default: 3600 (1 hour)
	MaxAge int `yaml:"max_age"`

	// AllowCredentials controls whether credentials (cookies, auth headers)
	// are allowed in CORS requests.
	// Default: false
	AllowCredentials bool `yaml:"allow_credentials"`
}

// AdminConfig contains the admin API listener configuration.
type AdminConfig struct {
	// Enabled controls whether the admin listener is started.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the admin listener address. Keep it on a private
	// interface; the admin API has no authentication of its own.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`
}

// LimitsConfig contains configuration for the rate limiter.
type LimitsConfig struct {
	// Enabled controls whether requests are checked at all.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every store key.
	// Default: "throttle"
	Namespace string `yaml:"namespace"`

	// Policies maps endpoint class names to their limits. Built-in classes
	// (auth, api, search, write, admin) are seeded by ApplyDefaults and can
	// be overridden per class.
	Policies map[string]PolicyConfig `yaml:"policies"`

	// Store selects and configures the shared window store.
	Store StoreConfig `yaml:"store"`

	// Degradation controls fail-open behaviour when the store is unavailable.
	Degradation DegradationConfig `yaml:"degradation"`

	// Reaper controls the background sweep for empty keys.
	Reaper ReaperConfig `yaml:"reaper"`
}

// PolicyConfig is the YAML form of a limit policy. All windows are seconds.
type PolicyConfig struct {
	// SustainedLimit is the number of requests allowed per sustained window.
	SustainedLimit int64 `yaml:"sustained_limit" json:"sustained_limit"`

	// SustainedWindowSeconds is the length of the long window.
	SustainedWindowSeconds int `yaml:"sustained_window_seconds" json:"sustained_window_seconds"`

	// BurstLimit is the number of requests allowed per burst window.
	// Must not exceed SustainedLimit.
	BurstLimit int64 `yaml:"burst_limit" json:"burst_limit"`

	// BurstWindowSeconds is the length of the short window.
	// Must not exceed SustainedWindowSeconds.
	BurstWindowSeconds int `yaml:"burst_window_seconds" json:"burst_window_seconds"`

	// CooldownSeconds is the minimum Retry-After advertised on denial.
	CooldownSeconds int `yaml:"cooldown_seconds" json:"cooldown_seconds"`
}

// ToPolicy converts the YAML form to a policy.LimitPolicy.
func (p PolicyConfig) ToPolicy() policy.LimitPolicy {
	return policy.LimitPolicy{
		SustainedLimit:  p.SustainedLimit,
		SustainedWindow: time.Duration(p.SustainedWindowSeconds) * time.Second,
		BurstLimit:      p.BurstLimit,
		BurstWindow:     time.Duration(p.BurstWindowSeconds) * time.Second,
		Cooldown:        time.Duration(p.CooldownSeconds) * time.Second,
	}
}

// PolicyConfigFrom converts a policy.LimitPolicy to its YAML form.
func PolicyConfigFrom(p policy.LimitPolicy) PolicyConfig {
	return PolicyConfig{
		SustainedLimit:         p.SustainedLimit,
		SustainedWindowSeconds: int(p.SustainedWindow / time.Second),
		BurstLimit:             p.BurstLimit,
		BurstWindowSeconds:     int(p.BurstWindow / time.Second),
		CooldownSeconds:        int(p.Cooldown / time.Second),
	}
}

// PolicyMap converts the configured policies for policy.NewRegistry.
func (c LimitsConfig) PolicyMap() map[policy.EndpointClass]policy.LimitPolicy {
	out := make(map[policy.EndpointClass]policy.LimitPolicy, len(c.Policies))
	for name, p := range c.Policies {
		out[policy.EndpointClass(name)] = p.ToPolicy()
	}
	return out
}

// StoreConfig selects the window store backend.
type StoreConfig struct {
	// Backend is the store type.
	// Options: "redis", "sqlite", "memory"
	// Default: "redis"
	Backend string `yaml:"backend"`

	// OperationTimeout bounds every store call made on the request path.
	// A call that exceeds it fails open.
	// Default: 50ms
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	// Redis contains Redis connection settings.
	Redis RedisConfig `yaml:"redis"`

	// SQLite contains SQLite settings.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// Host is the Redis host. Ignored when ClusterNodes is set.
	// Default: "127.0.0.1"
	Host string `yaml:"host"`

	// Port is the Redis port.
	// Default: 6379
	Port int `yaml:"port"`

	// Username is the ACL user name, if any.
	Username string `yaml:"username"`

	// Password is the Redis password.
	// This should typically be loaded from an environment variable.
	Password string `yaml:"password"`

	// DB is the database number. Ignored in cluster mode.
	// Default: 0
	DB int `yaml:"db"`

	// ClusterNodes switches to a cluster client when non-empty.
	// Example: ["redis-0:6379", "redis-1:6379"]
	ClusterNodes []string `yaml:"cluster_nodes"`

	// PoolSize is the connection pool size.
	// Default: 20
	PoolSize int `yaml:"pool_size"`

	// MaxRetries is the number of command retries.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// DialTimeout is the connection timeout.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ApproximateNonAtomic replaces the atomic Lua check with two separate
	// pipelines. Concurrent requests can then exceed the limit.
	// Default: false
	ApproximateNonAtomic bool `yaml:"approximate_non_atomic"`

	// TLS contains client TLS settings for the Redis connection.
	TLS RedisTLSConfig `yaml:"tls"`
}

// RedisTLSConfig contains client TLS settings.
type RedisTLSConfig struct {
	// Enabled controls whether TLS is used.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CAFile is a PEM bundle used to verify the server. Empty uses the
	// system roots.
	CAFile string `yaml:"ca_file"`

	// CertFile and KeyFile are the client certificate for mutual TLS.
	// Both or neither must be set. They are reloaded when changed on disk.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// ServerName overrides the name used for verification.
	ServerName string `yaml:"server_name"`

	// InsecureSkipVerify disables server verification. Testing only.
	// Default: false
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// MinVersion is the minimum TLS version.
	// Options: "1.2", "1.3"
	// Default: "1.2"
	MinVersion string `yaml:"min_version"`
}

// SQLiteConfig contains SQLite store settings.
type SQLiteConfig struct {
	// Path is the database file shared by processes on this host.
	// Default: "throttle.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for the database lock.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// DegradationConfig controls fail-open behaviour.
type DegradationConfig struct {
	// LogOutput is where degraded-mode warnings are written.
	// Options: "stderr", "stdout", or a file path
	// Default: "stderr"
	LogOutput string `yaml:"log_output"`

	// WarnInterval is the minimum spacing between degraded-mode warnings.
	// Default: 10s
	WarnInterval time.Duration `yaml:"warn_interval"`

	// Breaker configures the optional store circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the store circuit breaker.
type BreakerConfig struct {
	// Enabled turns the breaker on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// FailureThreshold is the number of consecutive failures that opens it.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long the breaker stays open before probing.
	// Default: 5s
	Cooldown time.Duration `yaml:"cooldown"`
}

// ReaperConfig controls the background sweep.
type ReaperConfig struct {
	// Enabled controls whether the sweep is scheduled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor.
	// Default: "@every 1m"
	Schedule string `yaml:"schedule"`

	// ScanCount is the SCAN COUNT hint for Redis.
	// Default: 500
	ScanCount int64 `yaml:"scan_count"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII masks client IPs, tokens and passwords in logs.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint on the
	// admin listener.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "throttle"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets defines histogram buckets for request duration (seconds).
	// Default: [0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0]
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1 (10%)
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "throttle"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// Enabled controls whether health check endpoints are enabled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// VersionPath is the path for the version information endpoint.
	// Default: "/version"
	VersionPath string `yaml:"version_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
