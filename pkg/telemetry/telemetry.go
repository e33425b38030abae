package telemetry

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/telemetry/health"
	"mercator-hq/throttle/pkg/telemetry/logging"
	"mercator-hq/throttle/pkg/telemetry/metrics"
	"mercator-hq/throttle/pkg/telemetry/tracing"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry bundles the observability components built from one
// TelemetryConfig.
type Telemetry struct {
	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	health  *health.Checker
	version health.VersionInfo
}

// New builds the logger, metrics collector, tracer and health checker.
// Logs go to stderr unless logOutput names another destination.
func New(cfg *config.TelemetryConfig, version health.VersionInfo, logOutput string) (*Telemetry, error) {
	if cfg == nil {
		return nil, errors.New("telemetry config is nil")
	}

	logger, err := logging.NewWithOutput(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
		RedactPII: cfg.Logging.RedactPII,
	}, logOutput)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tracer, err := tracing.New(&cfg.Tracing, version.Version)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	return &Telemetry{
		logger:  logger,
		metrics: metrics.NewCollector(&cfg.Metrics, nil),
		tracer:  tracer,
		health:  health.New(cfg.Health.CheckTimeout),
		version: version,
	}, nil
}

// Logger returns the structured logger.
func (t *Telemetry) Logger() *logging.Logger { return t.logger }

// Metrics returns the HTTP metrics collector.
func (t *Telemetry) Metrics() *metrics.Collector { return t.metrics }

// Registry returns the Prometheus registry shared by all collectors,
// including the limiter's.
func (t *Telemetry) Registry() *prometheus.Registry { return t.metrics.Registry() }

// Tracer returns the tracer. It is a noop tracer when tracing is disabled.
func (t *Telemetry) Tracer() *tracing.Tracer { return t.tracer }

// Health returns the health checker.
func (t *Telemetry) Health() *health.Checker { return t.health }

// Version returns the build information served on the version endpoint.
func (t *Telemetry) Version() health.VersionInfo { return t.version }

// Shutdown flushes pending spans and closes the log output.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.tracer.Shutdown(ctx), t.logger.Close())
}
