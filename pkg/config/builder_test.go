package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg *Config
}

// NewTestConfig creates a new ConfigBuilder with sensible defaults for testing.
// The resulting configuration is valid and can be used immediately.
func NewTestConfig() *ConfigBuilder {
	cfg := DefaultConfig()
	cfg.Proxy.UpstreamURL = "http://127.0.0.1:9000"
	cfg.Limits.Store.Backend = "memory"
	return &ConfigBuilder{cfg: cfg}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

// WithListenAddress sets the proxy listen address.
func (b *ConfigBuilder) WithListenAddress(addr string) *ConfigBuilder {
	b.cfg.Proxy.ListenAddress = addr
	return b
}

// WithRoute appends a route.
func (b *ConfigBuilder) WithRoute(prefix, class string) *ConfigBuilder {
	b.cfg.Proxy.Routes = append(b.cfg.Proxy.Routes, RouteConfig{PathPrefix: prefix, Class: class})
	return b
}

// WithPolicy adds or replaces a policy.
func (b *ConfigBuilder) WithPolicy(class string, p PolicyConfig) *ConfigBuilder {
	b.cfg.Limits.Policies[class] = p
	return b
}

// WithBackend sets the store backend.
func (b *ConfigBuilder) WithBackend(backend string) *ConfigBuilder {
	b.cfg.Limits.Store.Backend = backend
	return b
}

// WithOperationTimeout sets the store operation timeout.
func (b *ConfigBuilder) WithOperationTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.Limits.Store.OperationTimeout = d
	return b
}

// WithRedisTLS enables Redis TLS with a client certificate.
func (b *ConfigBuilder) WithRedisTLS(certFile, keyFile string) *ConfigBuilder {
	b.cfg.Limits.Store.Redis.TLS.Enabled = true
	b.cfg.Limits.Store.Redis.TLS.CertFile = certFile
	b.cfg.Limits.Store.Redis.TLS.KeyFile = keyFile
	return b
}

// WithTracingEnabled enables tracing with the given endpoint.
func (b *ConfigBuilder) WithTracingEnabled(enabled bool, endpoint string) *ConfigBuilder {
	b.cfg.Telemetry.Tracing.Enabled = enabled
	b.cfg.Telemetry.Tracing.Endpoint = endpoint
	return b
}
