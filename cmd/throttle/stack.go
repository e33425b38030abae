package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/limits"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/limits/storage"
	"mercator-hq/throttle/pkg/security/secrets"
	tlsutil "mercator-hq/throttle/pkg/security/tls"
	"mercator-hq/throttle/pkg/telemetry/logging"
)

// storeDialTimeout bounds the initial connection of one-shot commands.
const storeDialTimeout = 10 * time.Second

// resolveSecrets replaces ${secret:name} references in the Redis
// credentials. Environment variables are consulted first, then files under
// secrets.dir.
func resolveSecrets(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	providers := []secrets.SecretProvider{secrets.NewEnvProvider(cfg.Secrets.EnvPrefix)}
	if cfg.Secrets.Dir != "" {
		fp, err := secrets.NewFileProvider(cfg.Secrets.Dir)
		if err != nil {
			return fmt.Errorf("failed to open secrets dir: %w", err)
		}
		providers = append(providers, fp)
	}

	manager := secrets.NewManager(logger, providers...)
	redis := &cfg.Limits.Store.Redis
	return manager.ResolveAll(ctx, map[string]*string{
		"limits.store.redis.username": &redis.Username,
		"limits.store.redis.password": &redis.Password,
	})
}

// openStore opens the configured window store. The returned cleanup closes
// the certificate reloader, if any; the store itself is closed by the
// limiter. With tolerateOutage an unreachable Redis is not an error.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, tolerateOutage bool) (storage.Store, func(), error) {
	sc := cfg.Limits.Store
	noop := func() {}

	switch sc.Backend {
	case "memory":
		logger.Warn("using in-memory window store, limits are not shared between instances")
		return storage.NewMemoryStore(), noop, nil

	case "sqlite":
		store, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteStoreConfig{
			Path:        sc.SQLite.Path,
			BusyTimeout: sc.SQLite.BusyTimeout,
		}, storage.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, noop, nil

	case "redis":
		rc := sc.Redis
		tlsConfig, reloader, err := tlsutil.ClientConfig(&rc.TLS)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build redis TLS config: %w", err)
		}
		cleanup := noop
		if reloader != nil {
			reloader.Start(ctx)
			cleanup = func() { _ = reloader.Close() }
		}

		store, err := storage.NewRedisStore(ctx, &storage.RedisConfig{
			Host:                 rc.Host,
			Port:                 rc.Port,
			Cluster:              len(rc.ClusterNodes) > 0,
			ClusterNodes:         rc.ClusterNodes,
			Username:             rc.Username,
			Password:             rc.Password,
			DB:                   rc.DB,
			PoolSize:             rc.PoolSize,
			MaxRetries:           rc.MaxRetries,
			DialTimeout:          rc.DialTimeout,
			TLS:                  tlsConfig,
			ApproximateNonAtomic: rc.ApproximateNonAtomic,
			ScanCount:            cfg.Limits.Reaper.ScanCount,
			TolerateUnavailable:  tolerateOutage,
		}, storage.WithLogger(logger))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// limiterDeps are the optional collaborators of a serving limiter.
// One-shot commands leave them zero.
type limiterDeps struct {
	registerer prometheus.Registerer
	tracer     trace.Tracer
	degradeLog *logging.Logger

	// tolerateStoreOutage starts the limiter on an unreachable store, which
	// then fails open until the store answers.
	tolerateStoreOutage bool
}

// limiterStack is an open limiter with everything that must be closed
// alongside it.
type limiterStack struct {
	limiter  *limits.Limiter
	registry *policy.Registry
	metrics  *limits.Metrics
	cleanup  func()
}

// Close closes the limiter, and with it the store.
func (s *limiterStack) Close() error {
	err := s.limiter.Close()
	s.cleanup()
	return err
}

func openLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps limiterDeps) (*limiterStack, error) {
	registry, err := policy.NewRegistry(cfg.Limits.PolicyMap())
	if err != nil {
		return nil, fmt.Errorf("invalid policy table: %w", err)
	}

	if err := resolveSecrets(ctx, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, storeDialTimeout)
	defer cancel()
	// The reloader watches for the life of ctx, not the dial timeout.
	store, cleanup, err := openStore(ctx, cfg, logger, deps.tolerateStoreOutage)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(dialCtx); err != nil {
		if !deps.tolerateStoreOutage {
			_ = store.Close()
			cleanup()
			return nil, fmt.Errorf("store is not reachable: %w", err)
		}
		logger.Warn("rate limit store is not reachable, requests are allowed until it recovers", "error", err)
	}

	opts := []limits.Option{
		limits.WithNamespace(cfg.Limits.Namespace),
		limits.WithLogger(logger),
	}

	var metrics *limits.Metrics
	if deps.registerer != nil {
		metrics = limits.NewMetrics(deps.registerer, cfg.Telemetry.Metrics.Namespace)
		opts = append(opts, limits.WithMetrics(metrics))
	}
	if deps.tracer != nil {
		opts = append(opts, limits.WithTracer(deps.tracer))
	}

	dc := cfg.Limits.Degradation
	degradeLogger := logger.With("component", "limits.degrader")
	if deps.degradeLog != nil {
		degradeLogger = deps.degradeLog.Slog().With("component", "limits.degrader")
	}
	opts = append(opts, limits.WithDegrader(limits.NewDegrader(limits.DegraderConfig{
		OperationTimeout: cfg.Limits.Store.OperationTimeout,
		Logger:           degradeLogger,
		WarnInterval:     dc.WarnInterval,
		Breaker: limits.BreakerConfig{
			Enabled:          dc.Breaker.Enabled,
			FailureThreshold: dc.Breaker.FailureThreshold,
			Cooldown:         dc.Breaker.Cooldown,
		},
		Metrics: metrics,
	})))

	limiter, err := limits.New(store, registry, opts...)
	if err != nil {
		_ = store.Close()
		cleanup()
		return nil, err
	}

	return &limiterStack{
		limiter:  limiter,
		registry: registry,
		metrics:  metrics,
		cleanup:  cleanup,
	}, nil
}

// commandLogger is the logger of one-shot commands: warnings only, unless
// --verbose.
func commandLogger(cfg *config.Config) (*slog.Logger, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	l, err := logging.New(logging.Config{
		Level:     level,
		Format:    "text",
		RedactPII: cfg.Telemetry.Logging.RedactPII,
		Writer:    os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	return l.Slog(), nil
}
