package middleware

import (
	"context"
	"net/http"
	"time"

	"mercator-hq/throttle/pkg/limits"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// Context keys for storing values in request context.
const (
	// RequestIDKey stores the unique request ID.
	RequestIDKey contextKey = "request_id"

	// StartTimeKey stores the request start time for latency calculation.
	StartTimeKey contextKey = "start_time"

	// stateKey stores the per-request routing state.
	stateKey contextKey = "request_state"
)

// requestState is filled in by inner handlers and read by outer middleware
// after the request completes.
type requestState struct {
	class    string
	clientIP string
	decision *limits.Decision
}

// withState returns r carrying a requestState, reusing an existing one.
func withState(r *http.Request) (*http.Request, *requestState) {
	if s, ok := r.Context().Value(stateKey).(*requestState); ok {
		return r, s
	}
	s := &requestState{}
	return r.WithContext(context.WithValue(r.Context(), stateKey, s)), s
}

func stateFrom(ctx context.Context) *requestState {
	s, _ := ctx.Value(stateKey).(*requestState)
	return s
}

// GetClass returns the endpoint class the request was routed to, or "" when
// no admission middleware ran.
func GetClass(ctx context.Context) string {
	if s := stateFrom(ctx); s != nil {
		return s.class
	}
	return ""
}

// GetDecision returns the rate limit decision made for the request, or nil.
func GetDecision(ctx context.Context) *limits.Decision {
	if s := stateFrom(ctx); s != nil {
		return s.decision
	}
	return nil
}

// GetStartTime extracts the request start time from the context.
// Returns zero time if not found.
func GetStartTime(ctx context.Context) time.Time {
	if startTime, ok := ctx.Value(StartTimeKey).(time.Time); ok {
		return startTime
	}
	return time.Time{}
}
