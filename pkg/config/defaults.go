package config

import (
	"time"

	"mercator-hq/throttle/pkg/limits/policy"
)

// Default values for configuration fields.
const (
	// Proxy defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultUpstreamTimeout = 30 * time.Second
	DefaultUserHeader      = "X-User-ID"

	// CORS defaults
	DefaultCORSEnabled          = false
	DefaultCORSMaxAge           = 3600 // 1 hour
	DefaultCORSAllowCredentials = false

	// Admin defaults
	DefaultAdminEnabled       = true
	DefaultAdminListenAddress = "127.0.0.1:9090"

	// Limits defaults
	DefaultLimitsEnabled            = true
	DefaultLimitsNamespace          = "throttle"
	DefaultStoreBackend             = "redis"
	DefaultStoreOperationTimeout    = 50 * time.Millisecond
	DefaultRedisHost                = "127.0.0.1"
	DefaultRedisPort                = 6379
	DefaultRedisPoolSize            = 20
	DefaultRedisMaxRetries          = 3
	DefaultRedisDialTimeout         = 5 * time.Second
	DefaultRedisTLSMinVersion       = "1.2"
	DefaultSQLitePath               = "throttle.db"
	DefaultSQLiteBusyTimeout        = 5 * time.Second
	DefaultDegradationLogOutput     = "stderr"
	DefaultDegradationWarnInterval  = 10 * time.Second
	DefaultBreakerEnabled           = false
	DefaultBreakerFailureThreshold  = 5
	DefaultBreakerCooldown          = 5 * time.Second
	DefaultReaperEnabled            = true
	DefaultReaperSchedule           = "@every 1m"
	DefaultReaperScanCount          = int64(500)

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultLoggingRedactPII   = true
	DefaultMetricsEnabled     = true
	DefaultPrometheusPath     = "/metrics"
	DefaultMetricsNamespace   = "throttle"
	DefaultTracingEnabled     = false
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingServiceName = "throttle"
	DefaultOTLPInsecure       = true
	DefaultOTLPTimeout        = 10 * time.Second
	DefaultHealthEnabled      = true
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultVersionPath        = "/version"
	DefaultHealthCheckTimeout = 5 * time.Second

	// Secrets defaults
	DefaultSecretsEnvPrefix = "THROTTLE_SECRET_"
)

// DefaultConfig returns a configuration with every default applied. LoadConfig
// decodes YAML on top of it, so boolean fields missing from the file keep
// their defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		Admin: AdminConfig{
			Enabled: DefaultAdminEnabled,
		},
		Limits: LimitsConfig{
			Enabled: DefaultLimitsEnabled,
			Degradation: DegradationConfig{
				Breaker: BreakerConfig{Enabled: DefaultBreakerEnabled},
			},
			Reaper: ReaperConfig{Enabled: DefaultReaperEnabled},
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{RedactPII: DefaultLoggingRedactPII},
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
			Tracing: TracingConfig{
				Enabled: DefaultTracingEnabled,
				OTLP:    OTLPConfig{Insecure: DefaultOTLPInsecure},
			},
			Health: HealthConfig{Enabled: DefaultHealthEnabled},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}

	// Proxy defaults
	if cfg.Proxy.ListenAddress == "" {
		cfg.Proxy.ListenAddress = DefaultListenAddress
	}
	if cfg.Proxy.ReadTimeout == 0 {
		cfg.Proxy.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Proxy.WriteTimeout == 0 {
		cfg.Proxy.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Proxy.IdleTimeout == 0 {
		cfg.Proxy.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Proxy.ShutdownTimeout == 0 {
		cfg.Proxy.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Proxy.MaxHeaderBytes == 0 {
		cfg.Proxy.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Proxy.UpstreamTimeout == 0 {
		cfg.Proxy.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if cfg.Proxy.Identity.UserHeader == "" {
		cfg.Proxy.Identity.UserHeader = DefaultUserHeader
	}
	applyCORSDefaults(cfg)

	// Admin defaults
	if cfg.Admin.ListenAddress == "" {
		cfg.Admin.ListenAddress = DefaultAdminListenAddress
	}

	applyLimitsDefaults(&cfg.Limits)
	applyTelemetryDefaults(&cfg.Telemetry)
}

// applyCORSDefaults applies default values to CORS configuration.
func applyCORSDefaults(cfg *Config) {
	cors := &cfg.Proxy.CORS

	if len(cors.AllowedOrigins) == 0 {
		cors.AllowedOrigins = []string{"*"}
	}
	if len(cors.AllowedMethods) == 0 {
		cors.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(cors.AllowedHeaders) == 0 {
		cors.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Request-ID", "X-User-ID"}
	}
	if len(cors.ExposedHeaders) == 0 {
		cors.ExposedHeaders = []string{"X-Request-ID"}
	}
	if cors.MaxAge == 0 {
		cors.MaxAge = DefaultCORSMaxAge
	}
}

// applyLimitsDefaults seeds the built-in classes and store settings.
func applyLimitsDefaults(cfg *LimitsConfig) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultLimitsNamespace
	}

	// Built-in classes are added unless the file overrides them.
	if cfg.Policies == nil {
		cfg.Policies = make(map[string]PolicyConfig)
	}
	for class, p := range policy.Defaults() {
		if _, ok := cfg.Policies[string(class)]; !ok {
			cfg.Policies[string(class)] = PolicyConfigFrom(p)
		}
	}

	store := &cfg.Store
	if store.Backend == "" {
		store.Backend = DefaultStoreBackend
	}
	if store.OperationTimeout == 0 {
		store.OperationTimeout = DefaultStoreOperationTimeout
	}
	if store.Redis.Host == "" {
		store.Redis.Host = DefaultRedisHost
	}
	if store.Redis.Port == 0 {
		store.Redis.Port = DefaultRedisPort
	}
	if store.Redis.PoolSize == 0 {
		store.Redis.PoolSize = DefaultRedisPoolSize
	}
	if store.Redis.MaxRetries == 0 {
		store.Redis.MaxRetries = DefaultRedisMaxRetries
	}
	if store.Redis.DialTimeout == 0 {
		store.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if store.Redis.TLS.MinVersion == "" {
		store.Redis.TLS.MinVersion = DefaultRedisTLSMinVersion
	}
	if store.SQLite.Path == "" {
		store.SQLite.Path = DefaultSQLitePath
	}
	if store.SQLite.BusyTimeout == 0 {
		store.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}

	deg := &cfg.Degradation
	if deg.LogOutput == "" {
		deg.LogOutput = DefaultDegradationLogOutput
	}
	if deg.WarnInterval == 0 {
		deg.WarnInterval = DefaultDegradationWarnInterval
	}
	if deg.Breaker.FailureThreshold == 0 {
		deg.Breaker.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if deg.Breaker.Cooldown == 0 {
		deg.Breaker.Cooldown = DefaultBreakerCooldown
	}

	if cfg.Reaper.Schedule == "" {
		cfg.Reaper.Schedule = DefaultReaperSchedule
	}
	if cfg.Reaper.ScanCount == 0 {
		cfg.Reaper.ScanCount = DefaultReaperScanCount
	}
}

// applyTelemetryDefaults applies default values to telemetry configuration.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Metrics.RequestDurationBuckets) == 0 {
		cfg.Metrics.RequestDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0}
	}

	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.OTLP.Timeout == 0 {
		cfg.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}

	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.VersionPath == "" {
		cfg.Health.VersionPath = DefaultVersionPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
