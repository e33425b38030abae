package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"mercator-hq/throttle/pkg/limits"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/proxy"
	"mercator-hq/throttle/pkg/proxy/types"
	"mercator-hq/throttle/pkg/telemetry/logging"
)

// RateLimiter is the part of limits.Limiter the admission middleware uses.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, identifier string, class policy.EndpointClass, userID string) (*limits.Decision, error)
	GetPolicy(class policy.EndpointClass) (policy.LimitPolicy, error)
}

// Admission checks requests against the rate limiter before they reach the
// wrapped handler.
type Admission struct {
	limiter  RateLimiter
	identity *proxy.IdentityExtractor
	logger   *slog.Logger
	enabled  bool
	dryRun   bool
}

// AdmissionOption configures an Admission.
type AdmissionOption func(*Admission)

// WithAdmissionLogger sets the logger.
func WithAdmissionLogger(logger *slog.Logger) AdmissionOption {
	return func(a *Admission) { a.logger = logger }
}

// WithEnforcement turns checking on or off. When off, requests pass through
// without touching the store.
func WithEnforcement(enabled bool) AdmissionOption {
	return func(a *Admission) { a.enabled = enabled }
}

// WithDryRun makes denials advisory: requests are checked and annotated
// with headers, but a denied request is logged and forwarded.
func WithDryRun(dryRun bool) AdmissionOption {
	return func(a *Admission) { a.dryRun = dryRun }
}

// NewAdmission creates the admission middleware factory.
func NewAdmission(limiter RateLimiter, identity *proxy.IdentityExtractor, opts ...AdmissionOption) *Admission {
	a := &Admission{
		limiter:  limiter,
		identity: identity,
		logger:   slog.Default().With("component", "proxy.admission"),
		enabled:  true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// For returns middleware enforcing class. The class is resolved once, here:
// For panics when class is not registered, so a misconfigured route fails
// at startup instead of on the first request.
//
// Per request, the caller identity is extracted and checked. An allowed
// request gets the rate limit headers and is passed on. A denied request
// gets 429 with Retry-After and a JSON error body. A degraded decision is
// passed on with X-RateLimit-Degraded: true.
func (a *Admission) For(class policy.EndpointClass) func(http.Handler) http.Handler {
	if _, err := a.limiter.GetPolicy(class); err != nil {
		panic(fmt.Sprintf("middleware: cannot enforce endpoint class %q: %v", class, err))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, state := withState(r)
			state.class = string(class)

			id := a.identity.Extract(r)
			state.clientIP = id.IP

			ctx := logging.WithEndpointClass(r.Context(), string(class))
			ctx = logging.WithClientIP(ctx, id.IP)
			if id.UserID != "" {
				ctx = logging.WithUser(ctx, id.UserID)
			}
			r = r.WithContext(ctx)

			if !a.enabled {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := a.limiter.CheckRateLimit(ctx, id.IP, class, id.UserID)
			if err != nil {
				a.logger.ErrorContext(ctx, "rate limit check failed",
					"class", string(class),
					"error", err,
				)
				_ = proxy.WriteErrorResponse(w, types.NewServerError(
					"An internal error occurred. Please try again later.",
				))
				return
			}
			state.decision = decision

			if !decision.Allowed && a.dryRun {
				a.logger.InfoContext(ctx, "request would be rate limited",
					"class", string(class),
					"limit_type", string(decision.LimitType),
					"retry_after", decision.RetryAfterSeconds,
				)
				SetDecisionHeaders(w.Header(), decision)
				w.Header().Del(HeaderRetry)
				next.ServeHTTP(w, r)
				return
			}

			SetDecisionHeaders(w.Header(), decision)

			if !decision.Allowed {
				_ = proxy.WriteErrorResponse(w, types.NewRateLimitError(
					string(class),
					string(decision.LimitType),
					decision.RetryAfterSeconds,
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Handler wraps next with For(class).
func (a *Admission) Handler(class policy.EndpointClass, next http.Handler) http.Handler {
	return a.For(class)(next)
}
