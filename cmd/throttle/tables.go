package main

import (
	"fmt"
	"strconv"
	"time"

	"mercator-hq/throttle/pkg/server"
)

// The admin API response types double as command results. These wrappers
// give them a table form for text and CSV output; JSON output uses the
// same field names as the admin API.

type policyTable server.PoliciesResponse

func (p policyTable) Header() []string {
	return []string{"class", "burst", "sustained", "cooldown"}
}

func (p policyTable) Rows() [][]string {
	rows := make([][]string, 0, len(p.Policies))
	for _, pr := range p.Policies {
		rows = append(rows, []string{
			pr.Class,
			fmt.Sprintf("%d/%ds", pr.BurstLimit, pr.BurstWindowSeconds),
			fmt.Sprintf("%d/%ds", pr.SustainedLimit, pr.SustainedWindowSeconds),
			fmt.Sprintf("%ds", pr.CooldownSeconds),
		})
	}
	return rows
}

type statusTable server.StatusResponse

func (s statusTable) Header() []string {
	return []string{"tier", "count", "limit", "remaining", "window", "oldest", "key"}
}

func (s statusTable) Rows() [][]string {
	return [][]string{
		tierRow("burst", s.Burst, s.BurstKey),
		tierRow("sustained", s.Sustained, s.SustainedKey),
	}
}

func tierRow(name string, t server.TierStatus, key string) []string {
	oldest := "-"
	if t.Oldest != nil {
		oldest = t.Oldest.UTC().Format(time.RFC3339)
	}
	return []string{
		name,
		strconv.FormatInt(t.CurrentCount, 10),
		strconv.FormatInt(t.Limit, 10),
		strconv.FormatInt(t.Remaining, 10),
		fmt.Sprintf("%ds", t.WindowSeconds),
		oldest,
		key,
	}
}

type reapTable server.ReapResponse

func (r reapTable) Header() []string {
	return []string{"scanned", "deleted", "errors", "duration_ms"}
}

func (r reapTable) Rows() [][]string {
	return [][]string{{
		strconv.FormatInt(r.Scanned, 10),
		strconv.FormatInt(r.Deleted, 10),
		strconv.FormatInt(r.Errors, 10),
		strconv.FormatFloat(r.DurationMS, 'f', 1, 64),
	}}
}
