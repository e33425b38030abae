package limits

import (
	"time"

	"mercator-hq/throttle/pkg/limits/keys"
	"mercator-hq/throttle/pkg/limits/policy"
)

// LimitType names the tier that decided a request.
type LimitType string

const (
	// LimitTypeNone is reported for every allowed request.
	LimitTypeNone LimitType = "none"

	// LimitTypeBurst is reported when the short window denied.
	LimitTypeBurst LimitType = "burst"

	// LimitTypeSustained is reported when the long window denied.
	LimitTypeSustained LimitType = "sustained"
)

// Decision is the outcome of one CheckRateLimit call. A denial is an ordinary
// Decision with Allowed=false, never an error.
type Decision struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// LimitType is LimitTypeNone exactly when Allowed is true.
	LimitType LimitType

	// CurrentCount, Limit and WindowSeconds describe the deciding tier: the
	// denying tier, or the sustained tier for an allowed request.
	CurrentCount  int64
	Limit         int64
	WindowSeconds int64

	// RetryAfterSeconds is at least 1 on denial and 0 otherwise.
	RetryAfterSeconds int64

	// Class is the endpoint class that was checked.
	Class policy.EndpointClass

	// Burst and Sustained hold the per-tier results. A tier that was not
	// evaluated is nil; Sustained is nil after a burst denial, which costs
	// no store round trip.
	Burst     *TierResult
	Sustained *TierResult

	// Degraded is true when the store could not be consulted and the request
	// was allowed without enforcement.
	Degraded bool

	// CheckedAt is the clock reading used for the check.
	CheckedAt time.Time
}

// Remaining returns max(0, Limit-CurrentCount) for the deciding tier.
func (d *Decision) Remaining() int64 {
	return remaining(d.Limit, d.CurrentCount)
}

// ResetAt returns CheckedAt plus the deciding window.
func (d *Decision) ResetAt() time.Time {
	return d.CheckedAt.Add(time.Duration(d.WindowSeconds) * time.Second)
}

// Tiers returns the evaluated tiers, burst first.
func (d *Decision) Tiers() []*TierResult {
	tiers := make([]*TierResult, 0, 2)
	if d.Burst != nil {
		tiers = append(tiers, d.Burst)
	}
	if d.Sustained != nil {
		tiers = append(tiers, d.Sustained)
	}
	return tiers
}

// TierResult is the outcome of a single window check.
type TierResult struct {
	Tier    policy.Tier
	Allowed bool

	// CurrentCount is the number of live entries after the check.
	CurrentCount int64
	Limit        int64
	Window       time.Duration

	// RetryAfterSeconds is set only when the tier denied.
	RetryAfterSeconds int64

	// Oldest is the oldest live entry, zero for an empty window.
	Oldest time.Time
}

// Remaining returns max(0, Limit-CurrentCount).
func (t *TierResult) Remaining() int64 {
	return remaining(t.Limit, t.CurrentCount)
}

// WindowSeconds returns the window rounded up to whole seconds.
func (t *TierResult) WindowSeconds() int64 {
	return ceilSeconds(t.Window)
}

// Status is the read-only view of a bucket returned by StatusOf.
type Status struct {
	Identifier string
	Class      policy.EndpointClass
	UserID     string

	// Keys are the store keys of the bucket.
	Keys keys.Keys

	Burst     TierStatus
	Sustained TierStatus

	// Blocked is true when either tier is at or over its limit.
	Blocked bool
}

// TierStatus describes one tier of a bucket.
type TierStatus struct {
	CurrentCount  int64
	Limit         int64
	WindowSeconds int64
	Remaining     int64

	// Oldest is the oldest live entry, zero for an empty window.
	Oldest time.Time
}

func remaining(limit, count int64) int64 {
	if count >= limit {
		return 0
	}
	return limit - count
}

// ceilSeconds rounds d up to whole seconds.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
