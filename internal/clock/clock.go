// Package clock abstracts wall-clock time so window arithmetic can be
// driven deterministically in tests.
package clock

import "time"

// Clock is the time source used by the limiter, the degradation breaker and
// the reaper.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the duration elapsed since t.
	Since(t time.Time) time.Duration
}

// Real delegates to the standard time package.
type Real struct{}

// New returns the real clock.
func New() Clock {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}
