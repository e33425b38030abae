package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/throttle/internal/clock"
	"mercator-hq/throttle/pkg/limits/keys"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/limits/storage"
)

const tracerName = "mercator-hq/throttle/pkg/limits"

// Limiter is the dual-tier rate limiter. It is constructed once per process
// and shared by every request handler.
type Limiter struct {
	store    storage.Store
	registry *policy.Registry
	composer *keys.Composer
	degrader *Degrader
	clock    clock.Clock
	metrics  *Metrics
	logger   *slog.Logger
	tracer   trace.Tracer

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock used for window arithmetic.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithNamespace sets the store key prefix.
func WithNamespace(namespace string) Option {
	return func(l *Limiter) { l.composer = keys.NewComposer(namespace) }
}

// WithLogger sets the limiter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithDegrader replaces the default Degrader.
func WithDegrader(d *Degrader) Option {
	return func(l *Limiter) { l.degrader = d }
}

// WithTracer sets the tracer used for check spans.
func WithTracer(t trace.Tracer) Option {
	return func(l *Limiter) { l.tracer = t }
}

// New creates a Limiter over store and registry. The Limiter owns store and
// closes it on Close.
func New(store storage.Store, registry *policy.Registry, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("policy registry is required")
	}

	l := &Limiter{
		store:    store,
		registry: registry,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.clock == nil {
		l.clock = clock.New()
	}
	if l.composer == nil {
		l.composer = keys.NewComposer(keys.DefaultNamespace)
	}
	if l.logger == nil {
		l.logger = slog.Default().With("component", "limits")
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer(tracerName)
	}
	if l.degrader == nil {
		l.degrader = NewDegrader(DegraderConfig{
			Logger:  l.logger,
			Clock:   l.clock,
			Metrics: l.metrics,
		})
	}

	return l, nil
}

// CheckRateLimit runs the burst check and, if it passes, the sustained check
// for one request. The error is non-nil for an unknown or empty endpoint
// class, an empty identifier, or a window the store rejects. Store failures
// produce an allowed, degraded Decision.
func (l *Limiter) CheckRateLimit(ctx context.Context, identifier string, class policy.EndpointClass, userID string) (*Decision, error) {
	start := time.Now()
	defer func() { l.metrics.RecordDuration("check", time.Since(start)) }()

	p, err := l.registry.Get(class)
	if err != nil {
		return nil, err
	}
	ks, err := l.composer.Compose(identifier, class, userID)
	if err != nil {
		return nil, err
	}

	ctx, span := l.tracer.Start(ctx, "limits.CheckRateLimit",
		trace.WithAttributes(attribute.String("throttle.class", string(class))),
	)
	defer span.End()

	now := l.clock.Now()
	decision := &Decision{Class: class, CheckedAt: now}

	burst, err := l.hit(ctx, ks.Burst, policy.TierBurst, p, now)
	if err != nil {
		return l.fail(span, decision, p, err)
	}
	decision.Burst = burst
	if !burst.Allowed {
		l.deny(decision, LimitTypeBurst, burst)
		return l.finish(span, decision), nil
	}

	// The burst entry stands even if sustained denies below.
	sustained, err := l.hit(ctx, ks.Sustained, policy.TierSustained, p, now)
	if err != nil {
		return l.fail(span, decision, p, err)
	}
	decision.Sustained = sustained
	if !sustained.Allowed {
		l.deny(decision, LimitTypeSustained, sustained)
		return l.finish(span, decision), nil
	}

	decision.Allowed = true
	decision.LimitType = LimitTypeNone
	decision.CurrentCount = sustained.CurrentCount
	decision.Limit = sustained.Limit
	decision.WindowSeconds = sustained.WindowSeconds()
	return l.finish(span, decision), nil
}

// hit runs one window check through the Degrader.
func (l *Limiter) hit(ctx context.Context, key string, tier policy.Tier, p policy.LimitPolicy, now time.Time) (*TierResult, error) {
	limit, window := p.Window(tier)

	var res storage.HitResult
	start := time.Now()
	err := l.degrader.Guard(ctx, "hit", func(ctx context.Context) error {
		var err error
		res, err = l.store.Hit(ctx, key, now, window, limit)
		return err
	})
	l.metrics.RecordDuration("hit_"+string(tier), time.Since(start))
	if err != nil {
		return nil, err
	}

	tr := &TierResult{
		Tier:         tier,
		Allowed:      res.Allowed,
		CurrentCount: res.Count,
		Limit:        limit,
		Window:       window,
		Oldest:       res.Oldest,
	}
	if !res.Allowed {
		tr.RetryAfterSeconds = retryAfter(now, window, res.Oldest, p.Cooldown)
	}
	return tr, nil
}

// fail fails open on an unavailable store and returns any other error.
func (l *Limiter) fail(span trace.Span, d *Decision, p policy.LimitPolicy, err error) (*Decision, error) {
	if errors.Is(err, ErrStoreUnavailable) {
		l.failOpen(d, p)
		return l.finish(span, d), nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, fmt.Errorf("rate limit check for class %q: %w", d.Class, err)
}

func (l *Limiter) deny(d *Decision, lt LimitType, tier *TierResult) {
	d.Allowed = false
	d.LimitType = lt
	d.CurrentCount = tier.CurrentCount
	d.Limit = tier.Limit
	d.WindowSeconds = tier.WindowSeconds()
	d.RetryAfterSeconds = tier.RetryAfterSeconds
}

// failOpen turns d into an allowed, degraded decision. Tier results already
// gathered are dropped so that callers do not advertise stale quota.
func (l *Limiter) failOpen(d *Decision, p policy.LimitPolicy) {
	d.Allowed = true
	d.LimitType = LimitTypeNone
	d.Degraded = true
	d.Burst = nil
	d.Sustained = nil
	d.CurrentCount = 0
	d.Limit = p.SustainedLimit
	d.WindowSeconds = ceilSeconds(p.SustainedWindow)
	d.RetryAfterSeconds = 0
}

func (l *Limiter) finish(span trace.Span, d *Decision) *Decision {
	span.SetAttributes(
		attribute.Bool("throttle.allowed", d.Allowed),
		attribute.String("throttle.limit_type", string(d.LimitType)),
		attribute.Bool("throttle.degraded", d.Degraded),
	)
	if d.Degraded {
		span.SetStatus(codes.Error, "store unavailable")
	}
	l.metrics.RecordDecision(d)

	if !d.Allowed {
		l.logger.Debug("request denied",
			"class", d.Class,
			"limit_type", d.LimitType,
			"count", d.CurrentCount,
			"limit", d.Limit,
			"retry_after", d.RetryAfterSeconds,
		)
	}
	return d
}

// retryAfter returns the whole seconds until the oldest live entry leaves the
// window, at least 1 and at least the policy cooldown.
func retryAfter(now time.Time, window time.Duration, oldest time.Time, cooldown time.Duration) int64 {
	wait := window
	if !oldest.IsZero() {
		wait = window - now.Sub(oldest)
	}
	secs := ceilSeconds(wait)
	if secs < 1 {
		secs = 1
	}
	if c := ceilSeconds(cooldown); c > secs {
		secs = c
	}
	return secs
}

// StatusOf reports the live counts of a bucket without recording anything.
// Store errors are returned.
func (l *Limiter) StatusOf(ctx context.Context, identifier string, class policy.EndpointClass, userID string) (*Status, error) {
	p, err := l.registry.Get(class)
	if err != nil {
		return nil, err
	}
	ks, err := l.composer.Compose(identifier, class, userID)
	if err != nil {
		return nil, err
	}

	ctx, span := l.tracer.Start(ctx, "limits.StatusOf")
	defer span.End()

	now := l.clock.Now()
	status := &Status{
		Identifier: identifier,
		Class:      class,
		UserID:     userID,
		Keys:       ks,
	}

	for _, tier := range []policy.Tier{policy.TierBurst, policy.TierSustained} {
		limit, window := p.Window(tier)
		state, err := l.store.Peek(ctx, ks.For(tier), now, window)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to read %s window: %w", tier, err)
		}

		ts := TierStatus{
			CurrentCount:  state.Count,
			Limit:         limit,
			WindowSeconds: ceilSeconds(window),
			Remaining:     remaining(limit, state.Count),
			Oldest:        state.Oldest,
		}
		if tier == policy.TierBurst {
			status.Burst = ts
		} else {
			status.Sustained = ts
		}
		if state.Count >= limit {
			status.Blocked = true
		}
	}

	return status, nil
}

// ResetKey deletes both windows of a bucket, restoring its full budget.
func (l *Limiter) ResetKey(ctx context.Context, identifier string, class policy.EndpointClass, userID string) error {
	if _, err := l.registry.Get(class); err != nil {
		return err
	}
	ks, err := l.composer.Compose(identifier, class, userID)
	if err != nil {
		return err
	}

	ctx, span := l.tracer.Start(ctx, "limits.ResetKey")
	defer span.End()

	if err := l.store.Delete(ctx, ks.Burst, ks.Sustained); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to reset bucket: %w", err)
	}

	l.logger.Info("rate limit bucket reset", "class", class, "sustained_key", ks.Sustained)
	return nil
}

// SetPolicy replaces the policy of a known class. Checks that already started
// keep the policy they read.
func (l *Limiter) SetPolicy(class policy.EndpointClass, p policy.LimitPolicy) error {
	if err := l.registry.Set(class, p); err != nil {
		return err
	}
	l.logger.Info("rate limit policy updated",
		"class", class,
		"sustained_limit", p.SustainedLimit,
		"sustained_window", p.SustainedWindow,
		"burst_limit", p.BurstLimit,
		"burst_window", p.BurstWindow,
		"cooldown", p.Cooldown,
	)
	return nil
}

// GetPolicy returns the current policy of class.
func (l *Limiter) GetPolicy(class policy.EndpointClass) (policy.LimitPolicy, error) {
	return l.registry.Get(class)
}

// Registry returns the policy registry.
func (l *Limiter) Registry() *policy.Registry {
	return l.registry
}

// Composer returns the key composer.
func (l *Limiter) Composer() *keys.Composer {
	return l.composer
}

// Store returns the window store.
func (l *Limiter) Store() storage.Store {
	return l.store
}

// Degrader returns the store guard.
func (l *Limiter) Degrader() *Degrader {
	return l.degrader
}

// Ping checks the store.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Close closes the store. It is idempotent.
func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.store.Close()
	})
	return l.closeErr
}
