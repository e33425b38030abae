// Package limits provides the distributed dual-tier rate limiter.
//
// # Overview
//
// Every endpoint class has a LimitPolicy with two sliding windows: a short
// burst window and a longer sustained window. A request is admitted only if
// both windows have room. The window state lives in a shared storage.Store,
// so the limit holds across every gateway process using the same store.
//
// # Check Flow
//
//	Received -> ComposeKeys -> CheckBurst -> {Deny(burst) | CheckSustained}
//	         -> {Deny(sustained) | Allow}
//
// The burst window is checked first and the sustained check is skipped when
// it denies. An entry recorded by the burst check is kept when the sustained
// window denies, so probing near the sustained limit still costs burst quota.
//
// # Degradation
//
// Store calls go through a Degrader. A failed, slow or skipped call makes
// the check fail open: the Decision is allowed, has LimitType none and is
// marked Degraded. An optional circuit breaker stops calling a failing store
// for a bounded cooldown.
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	limiter, err := limits.New(store, policy.NewDefaultRegistry())
//	if err != nil {
//	    return err
//	}
//	defer limiter.Close()
//
//	decision, err := limiter.CheckRateLimit(ctx, clientIP, policy.ClassAuth, userID)
//	if err != nil {
//	    return err // unknown class or missing identifier
//	}
//	if !decision.Allowed {
//	    // respond 429 with Retry-After: decision.RetryAfterSeconds
//	}
//
// # Thread Safety
//
// Limiter and Degrader are safe for concurrent use. Policy changes made with
// SetPolicy apply to checks that start afterwards.
package limits
