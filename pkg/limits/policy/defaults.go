package policy

import "time"

// Defaults returns the built-in class table. Callers own the returned map.
func Defaults() map[EndpointClass]LimitPolicy {
	return map[EndpointClass]LimitPolicy{
		ClassAuth: {
			SustainedLimit:  10,
			SustainedWindow: time.Minute,
			BurstLimit:      3,
			BurstWindow:     10 * time.Second,
			Cooldown:        30 * time.Second,
		},
		ClassAPI: {
			SustainedLimit:  100,
			SustainedWindow: time.Minute,
			BurstLimit:      20,
			BurstWindow:     10 * time.Second,
			Cooldown:        5 * time.Second,
		},
		ClassSearch: {
			SustainedLimit:  60,
			SustainedWindow: time.Minute,
			BurstLimit:      10,
			BurstWindow:     10 * time.Second,
			Cooldown:        10 * time.Second,
		},
		ClassWrite: {
			SustainedLimit:  30,
			SustainedWindow: time.Minute,
			BurstLimit:      5,
			BurstWindow:     10 * time.Second,
			Cooldown:        15 * time.Second,
		},
		ClassAdmin: {
			SustainedLimit:  20,
			SustainedWindow: time.Minute,
			BurstLimit:      5,
			BurstWindow:     10 * time.Second,
			Cooldown:        10 * time.Second,
		},
	}
}
