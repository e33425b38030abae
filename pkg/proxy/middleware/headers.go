package middleware

import (
	"net/http"
	"strconv"

	"mercator-hq/throttle/pkg/limits"
	"mercator-hq/throttle/pkg/limits/policy"
)

// Rate limit response headers.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderDegraded  = "X-RateLimit-Degraded"
	HeaderRetry     = "Retry-After"

	HeaderBurstLimit     = "X-RateLimit-Burst-Limit"
	HeaderBurstRemaining = "X-RateLimit-Burst-Remaining"
	HeaderBurstReset     = "X-RateLimit-Burst-Reset"

	HeaderSustainedLimit     = "X-RateLimit-Sustained-Limit"
	HeaderSustainedRemaining = "X-RateLimit-Sustained-Remaining"
	HeaderSustainedReset     = "X-RateLimit-Sustained-Reset"
)

// RateLimitHeaders lists every header the admission middleware may set.
var RateLimitHeaders = []string{
	HeaderLimit, HeaderRemaining, HeaderReset, HeaderDegraded, HeaderRetry,
	HeaderBurstLimit, HeaderBurstRemaining, HeaderBurstReset,
	HeaderSustainedLimit, HeaderSustainedRemaining, HeaderSustainedReset,
}

// SetDecisionHeaders writes the rate limit headers for d.
//
// The unqualified headers describe the deciding tier. Each evaluated tier is
// also reported under its own prefix, so a burst denial carries no
// X-RateLimit-Sustained-* headers. Reset values are epoch seconds of the
// check time plus the window. A degraded decision only sets
// X-RateLimit-Degraded.
func SetDecisionHeaders(h http.Header, d *limits.Decision) {
	if d.Degraded {
		h.Set(HeaderDegraded, "true")
		return
	}

	checked := d.CheckedAt.Unix()

	h.Set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(d.Remaining(), 10))
	h.Set(HeaderReset, strconv.FormatInt(checked+d.WindowSeconds, 10))

	for _, tier := range d.Tiers() {
		limitH, remainingH, resetH := tierHeaders(tier.Tier)
		h.Set(limitH, strconv.FormatInt(tier.Limit, 10))
		h.Set(remainingH, strconv.FormatInt(tier.Remaining(), 10))
		h.Set(resetH, strconv.FormatInt(checked+tier.WindowSeconds(), 10))
	}

	if !d.Allowed {
		h.Set(HeaderRetry, strconv.FormatInt(d.RetryAfterSeconds, 10))
	}
}

func tierHeaders(t policy.Tier) (limit, remaining, reset string) {
	if t == policy.TierBurst {
		return HeaderBurstLimit, HeaderBurstRemaining, HeaderBurstReset
	}
	return HeaderSustainedLimit, HeaderSustainedRemaining, HeaderSustainedReset
}
