package middleware

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"mercator-hq/throttle/pkg/limits"
	"mercator-hq/throttle/pkg/limits/policy"
)

func TestSetDecisionHeaders(t *testing.T) {
	checked := testStart.Unix()

	burst := &limits.TierResult{
		Tier:         policy.TierBurst,
		Allowed:      true,
		CurrentCount: 2,
		Limit:        20,
		Window:       10 * time.Second,
	}
	sustained := &limits.TierResult{
		Tier:         policy.TierSustained,
		Allowed:      true,
		CurrentCount: 40,
		Limit:        100,
		Window:       time.Minute,
	}

	tests := []struct {
		name     string
		decision *limits.Decision
		want     map[string]string
		unset    []string
	}{
		{
			name: "allowed reports sustained tier",
			decision: &limits.Decision{
				Allowed:       true,
				LimitType:     limits.LimitTypeNone,
				CurrentCount:  40,
				Limit:         100,
				WindowSeconds: 60,
				Burst:         burst,
				Sustained:     sustained,
				CheckedAt:     testStart,
			},
			want: map[string]string{
				HeaderLimit:              "100",
				HeaderRemaining:          "60",
				HeaderReset:              strconv.FormatInt(checked+60, 10),
				HeaderBurstLimit:         "20",
				HeaderBurstRemaining:     "18",
				HeaderBurstReset:         strconv.FormatInt(checked+10, 10),
				HeaderSustainedLimit:     "100",
				HeaderSustainedRemaining: "60",
				HeaderSustainedReset:     strconv.FormatInt(checked+60, 10),
			},
			unset: []string{HeaderRetry, HeaderDegraded},
		},
		{
			name: "burst denial omits sustained tier",
			decision: &limits.Decision{
				Allowed:           false,
				LimitType:         limits.LimitTypeBurst,
				CurrentCount:      20,
				Limit:             20,
				WindowSeconds:     10,
				RetryAfterSeconds: 7,
				Burst: &limits.TierResult{
					Tier:              policy.TierBurst,
					CurrentCount:      20,
					Limit:             20,
					Window:            10 * time.Second,
					RetryAfterSeconds: 7,
				},
				CheckedAt: testStart,
			},
			want: map[string]string{
				HeaderLimit:          "20",
				HeaderRemaining:      "0",
				HeaderRetry:          "7",
				HeaderBurstRemaining: "0",
			},
			unset: []string{HeaderSustainedLimit, HeaderDegraded},
		},
		{
			name: "degraded sets only the flag",
			decision: &limits.Decision{
				Allowed:   true,
				Degraded:  true,
				Limit:     100,
				CheckedAt: testStart,
			},
			want:  map[string]string{HeaderDegraded: "true"},
			unset: []string{HeaderLimit, HeaderRemaining, HeaderReset, HeaderRetry},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			SetDecisionHeaders(h, tt.decision)

			for name, want := range tt.want {
				if got := h.Get(name); got != want {
					t.Errorf("%s = %q, want %q", name, got, want)
				}
			}
			for _, name := range tt.unset {
				if got := h.Get(name); got != "" {
					t.Errorf("%s = %q, want unset", name, got)
				}
			}
		})
	}
}
