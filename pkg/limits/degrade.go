package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mercator-hq/throttle/internal/clock"
	"mercator-hq/throttle/pkg/limits/storage"
)

// Default degradation settings.
const (
	DefaultOperationTimeout        = 50 * time.Millisecond
	DefaultWarnInterval            = 10 * time.Second
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerCooldown         = 5 * time.Second
)

// ErrStoreUnavailable is returned by Guard when the store failed or was
// skipped; the caller fails open.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// errBreakerOpen marks calls skipped by an open breaker.
var errBreakerOpen = errors.New("store breaker open")

// BreakerState is the state of the optional store circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig configures the store circuit breaker.
type BreakerConfig struct {
	// Enabled turns the breaker on. Default: false
	Enabled bool

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Default: 5
	FailureThreshold int

	// Cooldown is how long the breaker stays open before a probe.
	// Default: 5 seconds
	Cooldown time.Duration
}

// DegraderConfig configures a Degrader.
type DegraderConfig struct {
	// OperationTimeout bounds every store call. Default: 50ms
	OperationTimeout time.Duration

	// Logger receives degraded-mode warnings.
	Logger *slog.Logger

	// WarnInterval is the minimum spacing between warnings. Failures in
	// between are counted and reported with the next warning.
	// Default: 10 seconds
	WarnInterval time.Duration

	Breaker BreakerConfig

	Clock   clock.Clock
	Metrics *Metrics
}

// Degrader guards store calls. A failed or skipped call makes the caller
// fail open; the next successful call restores enforcement.
type Degrader struct {
	timeout time.Duration
	logger  *slog.Logger
	sampler *rate.Limiter
	clock   clock.Clock
	metrics *Metrics

	suppressed atomic.Int64
	failing    atomic.Bool

	breakerEnabled bool
	threshold      int
	cooldown       time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewDegrader creates a Degrader, applying defaults for zero fields.
func NewDegrader(cfg DegraderConfig) *Degrader {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "limits.degrader")
	}
	if cfg.WarnInterval <= 0 {
		cfg.WarnInterval = DefaultWarnInterval
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if cfg.Breaker.Cooldown <= 0 {
		cfg.Breaker.Cooldown = DefaultBreakerCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	d := &Degrader{
		timeout:        cfg.OperationTimeout,
		logger:         cfg.Logger,
		sampler:        rate.NewLimiter(rate.Every(cfg.WarnInterval), 1),
		clock:          cfg.Clock,
		metrics:        cfg.Metrics,
		breakerEnabled: cfg.Breaker.Enabled,
		threshold:      cfg.Breaker.FailureThreshold,
		cooldown:       cfg.Breaker.Cooldown,
	}
	d.metrics.RecordBreakerState(BreakerClosed)
	return d
}

// Guard runs fn with the operation timeout applied. When fn failed or the
// breaker skipped it the error wraps ErrStoreUnavailable and the caller must
// fail open. Arguments the store rejects are returned as they are: they say
// nothing about the store's health.
func (d *Degrader) Guard(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !d.allow() {
		d.degrade(ctx, op, errBreakerOpen)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, errBreakerOpen)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := fn(callCtx)
	cancel()

	switch {
	case err == nil:
		d.onSuccess()
		return nil
	case errors.Is(err, storage.ErrInvalidArgument):
		d.releaseProbe()
		return err
	default:
		d.onFailure()
		d.degrade(ctx, op, err)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

// State returns the breaker state. It is always BreakerClosed when the
// breaker is disabled.
func (d *Degrader) State() BreakerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Degraded reports whether the last guarded call failed.
func (d *Degrader) Degraded() bool {
	return d.failing.Load()
}

func (d *Degrader) degrade(ctx context.Context, op string, err error) {
	d.failing.Store(true)
	d.metrics.RecordDegraded(op)

	if !d.sampler.Allow() {
		d.suppressed.Add(1)
		return
	}
	d.logger.WarnContext(ctx, "rate limit store unavailable, failing open",
		"operation", op,
		"error", err,
		"breaker", d.State().String(),
		"suppressed", d.suppressed.Swap(0),
	)
}

func (d *Degrader) allow() bool {
	if !d.breakerEnabled {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case BreakerOpen:
		if d.clock.Since(d.openedAt) < d.cooldown {
			return false
		}
		d.setStateLocked(BreakerHalfOpen)
		d.probing = true
		return true
	case BreakerHalfOpen:
		// One probe at a time.
		if d.probing {
			return false
		}
		d.probing = true
		return true
	default:
		return true
	}
}

func (d *Degrader) onSuccess() {
	if d.failing.Swap(false) {
		d.logger.Info("rate limit store recovered, enforcement resumed")
	}
	if !d.breakerEnabled {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = 0
	d.probing = false
	if d.state != BreakerClosed {
		d.setStateLocked(BreakerClosed)
	}
}

// releaseProbe frees a half-open probe slot without judging the store.
func (d *Degrader) releaseProbe() {
	if !d.breakerEnabled {
		return
	}
	d.mu.Lock()
	d.probing = false
	d.mu.Unlock()
}

func (d *Degrader) onFailure() {
	if !d.breakerEnabled {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.probing = false
	d.failures++
	if d.state == BreakerHalfOpen || d.failures >= d.threshold {
		d.openedAt = d.clock.Now()
		if d.state != BreakerOpen {
			d.setStateLocked(BreakerOpen)
		}
	}
}

func (d *Degrader) setStateLocked(s BreakerState) {
	if d.state == s {
		return
	}
	d.logger.Info("rate limit store breaker state changed", "from", d.state.String(), "to", s.String())
	d.state = s
	d.metrics.RecordBreakerState(s)
}
