package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/throttle/internal/clock"
	"mercator-hq/throttle/pkg/limits/keys"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/limits/storage"
)

// Stats summarises one sweep.
type Stats struct {
	// Scanned is the number of keys visited.
	Scanned int64

	// Deleted is the number of keys removed.
	Deleted int64

	// Errors is the number of keys whose reap failed.
	Errors int64

	Duration time.Duration
}

// Reaper sweeps a namespace for empty keys.
type Reaper struct {
	store    storage.Store
	registry *policy.Registry
	composer *keys.Composer
	clock    clock.Clock
	metrics  *Metrics
	logger   *slog.Logger
	tracer   trace.Tracer

	// sweepMu prevents overlapping sweeps.
	sweepMu sync.Mutex
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithClock sets the clock used to compute cutoffs.
func WithClock(c clock.Clock) Option {
	return func(r *Reaper) { r.clock = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(r *Reaper) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reaper) { r.logger = logger }
}

// WithTracer records each sweep as a "reaper.Sweep" span.
func WithTracer(t trace.Tracer) Option {
	return func(r *Reaper) { r.tracer = t }
}

// New creates a Reaper for the keys composer writes.
func New(store storage.Store, registry *policy.Registry, composer *keys.Composer, opts ...Option) *Reaper {
	r := &Reaper{
		store:    store,
		registry: registry,
		composer: composer,
		clock:    clock.New(),
		logger:   slog.Default().With("component", "limits.reaper"),
		tracer:   noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep visits every key of the namespace once. Per-key failures are counted
// in Stats and do not stop the sweep; a failed scan is returned.
func (r *Reaper) Sweep(ctx context.Context) (Stats, error) {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	ctx, span := r.tracer.Start(ctx, "reaper.Sweep",
		trace.WithAttributes(attribute.String("throttle.namespace", r.composer.Namespace())))
	defer span.End()

	begin := time.Now()
	now := r.clock.Now()
	fallback := r.registry.MaxWindow()

	var scanned, deleted, failed atomic.Int64
	var firstErr error
	var errOnce sync.Once

	err := r.store.Scan(ctx, r.composer.Namespace()+":", func(key string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		scanned.Add(1)

		ok, err := r.store.Reap(ctx, key, now.Add(-r.windowFor(key, fallback)))
		if err != nil {
			failed.Add(1)
			errOnce.Do(func() { firstErr = err })
			return nil
		}
		if ok {
			deleted.Add(1)
		}
		return nil
	})

	stats := Stats{
		Scanned:  scanned.Load(),
		Deleted:  deleted.Load(),
		Errors:   failed.Load(),
		Duration: time.Since(begin),
	}
	r.metrics.recordSweep(stats, err)
	span.SetAttributes(
		attribute.Int64("throttle.reaper.scanned", stats.Scanned),
		attribute.Int64("throttle.reaper.deleted", stats.Deleted),
		attribute.Int64("throttle.reaper.errors", stats.Errors),
	)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return stats, err
		}
		return stats, fmt.Errorf("failed to scan namespace %q: %w", r.composer.Namespace(), err)
	}

	if stats.Errors > 0 {
		r.logger.Warn("reaper sweep had failures",
			"failed_keys", stats.Errors,
			"first_error", firstErr,
		)
	}
	return stats, nil
}

// windowFor returns the window of the tier a key belongs to. Keys that do not
// parse, or name a class that no longer exists, use the largest window.
func (r *Reaper) windowFor(key string, fallback time.Duration) time.Duration {
	bucket, err := r.composer.Parse(key)
	if err != nil {
		return fallback
	}
	p, err := r.registry.Get(bucket.Class)
	if err != nil {
		return fallback
	}
	_, window := p.Window(bucket.Tier)
	return window
}
