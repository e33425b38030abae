package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Store is a shared sliding-window log. Implementations must be safe for
// concurrent use, including from several processes where the backend allows it.
type Store interface {
	// Hit atomically purges entries at or before now-window, counts the
	// remaining ones and, when the count is below limit, records an entry at
	// now and sets the key to expire after twice the window. A limit of zero
	// always denies.
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (HitResult, error)

	// Peek reports the live entries of key inside (now-window, now] without
	// modifying anything.
	Peek(ctx context.Context, key string, now time.Time, window time.Duration) (WindowState, error)

	// Delete removes keys and all of their entries. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Reap purges entries at or before cutoff and deletes key if it is left
	// empty. It reports whether the key was deleted.
	Reap(ctx context.Context, key string, cutoff time.Time) (bool, error)

	// Scan calls fn for every key starting with prefix. fn may be called
	// concurrently when the backend is sharded.
	Scan(ctx context.Context, prefix string, fn func(key string) error) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend. It is idempotent.
	Close() error
}

// HitResult is the outcome of one Hit.
type HitResult struct {
	// Allowed is true when an entry was recorded.
	Allowed bool

	// Count is the number of live entries after the call, including the new
	// one when Allowed.
	Count int64

	// Oldest is the timestamp of the oldest live entry. It is zero when the
	// window is empty.
	Oldest time.Time
}

// WindowState is the read-only view returned by Peek.
type WindowState struct {
	// Count is the number of live entries.
	Count int64

	// Oldest is the oldest live entry, or zero when Count is zero.
	Oldest time.Time
}

var (
	// ErrUnavailable matches every backend failure.
	ErrUnavailable = errors.New("window store unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("window store closed")

	// ErrInvalidArgument is returned for empty keys, non-positive windows and
	// negative limits.
	ErrInvalidArgument = errors.New("invalid store argument")
)

// Error describes a failed store operation.
type Error struct {
	// Op is the store operation (hit, peek, delete, reap, scan, ping).
	Op string

	// Key is the key involved, if any.
	Key string

	// Err is the backend error.
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports backend failures as ErrUnavailable.
func (e *Error) Is(target error) bool {
	return target == ErrUnavailable
}

func wrapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err}
}

func validateHit(key string, window time.Duration, limit int64) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidArgument)
	}
	if window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidArgument, window)
	}
	if window.Microseconds() <= 0 {
		return fmt.Errorf("%w: window must be at least 1µs, got %s", ErrInvalidArgument, window)
	}
	if limit < 0 {
		return fmt.Errorf("%w: limit must not be negative, got %d", ErrInvalidArgument, limit)
	}
	return nil
}

// cutoffMicros returns the score at or below which entries are dead.
func cutoffMicros(now time.Time, window time.Duration) int64 {
	return now.UnixMicro() - window.Microseconds()
}

// ttl is the expiry applied to a key after each recorded entry.
func ttl(window time.Duration) time.Duration {
	return 2 * window
}

func fromMicros(us int64) time.Time {
	if us <= 0 {
		return time.Time{}
	}
	return time.UnixMicro(us)
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for background and startup messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{logger: slog.Default().With("component", component)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
