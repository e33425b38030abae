package server

import (
	"maps"
	"slices"
	"time"

	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/limits"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/limits/reaper"
)

// Admin API paths.
const (
	AdminPrefix       = "/admin/v1"
	AdminStatusPath   = AdminPrefix + "/status"
	AdminResetPath    = AdminPrefix + "/reset"
	AdminPoliciesPath = AdminPrefix + "/policies"
	AdminReapPath     = AdminPrefix + "/reap"
)

// BucketRequest names one counting bucket.
type BucketRequest struct {
	Identifier string `json:"identifier"`
	Class      string `json:"class"`
	UserID     string `json:"user_id,omitempty"`
}

// TierStatus is the JSON form of limits.TierStatus.
type TierStatus struct {
	CurrentCount  int64      `json:"current_count"`
	Limit         int64      `json:"limit"`
	Remaining     int64      `json:"remaining"`
	WindowSeconds int64      `json:"window_seconds"`
	Oldest        *time.Time `json:"oldest,omitempty"`
}

// StatusResponse is returned by GET /admin/v1/status.
type StatusResponse struct {
	Identifier   string     `json:"identifier"`
	Class        string     `json:"class"`
	UserID       string     `json:"user_id,omitempty"`
	Blocked      bool       `json:"blocked"`
	Burst        TierStatus `json:"burst"`
	Sustained    TierStatus `json:"sustained"`
	BurstKey     string     `json:"burst_key"`
	SustainedKey string     `json:"sustained_key"`
}

// NewStatusResponse converts a limiter status.
func NewStatusResponse(s *limits.Status) StatusResponse {
	return StatusResponse{
		Identifier:   s.Identifier,
		Class:        string(s.Class),
		UserID:       s.UserID,
		Blocked:      s.Blocked,
		Burst:        newTierStatus(s.Burst),
		Sustained:    newTierStatus(s.Sustained),
		BurstKey:     s.Keys.Burst,
		SustainedKey: s.Keys.Sustained,
	}
}

func newTierStatus(t limits.TierStatus) TierStatus {
	out := TierStatus{
		CurrentCount:  t.CurrentCount,
		Limit:         t.Limit,
		Remaining:     t.Remaining,
		WindowSeconds: t.WindowSeconds,
	}
	if !t.Oldest.IsZero() {
		oldest := t.Oldest.UTC()
		out.Oldest = &oldest
	}
	return out
}

// ResetResponse is returned by POST /admin/v1/reset.
type ResetResponse struct {
	BucketRequest
	Reset bool `json:"reset"`
}

// PolicyResponse is one entry of the policy table.
type PolicyResponse struct {
	Class string `json:"class"`
	config.PolicyConfig
}

// PoliciesResponse is returned by GET /admin/v1/policies.
type PoliciesResponse struct {
	Policies []PolicyResponse `json:"policies"`
}

// NewPoliciesResponse lists the registry in class order.
func NewPoliciesResponse(reg *policy.Registry) PoliciesResponse {
	snapshot := reg.Snapshot()
	out := PoliciesResponse{Policies: make([]PolicyResponse, 0, len(snapshot))}
	for _, class := range slices.Sorted(maps.Keys(snapshot)) {
		out.Policies = append(out.Policies, PolicyResponse{
			Class:        string(class),
			PolicyConfig: config.PolicyConfigFrom(snapshot[class]),
		})
	}
	return out
}

// ReapResponse is returned by POST /admin/v1/reap.
type ReapResponse struct {
	Scanned    int64   `json:"scanned"`
	Deleted    int64   `json:"deleted"`
	Errors     int64   `json:"errors"`
	DurationMS float64 `json:"duration_ms"`
}

// NewReapResponse converts sweep stats.
func NewReapResponse(s reaper.Stats) ReapResponse {
	return ReapResponse{
		Scanned:    s.Scanned,
		Deleted:    s.Deleted,
		Errors:     s.Errors,
		DurationMS: float64(s.Duration.Microseconds()) / 1000,
	}
}
