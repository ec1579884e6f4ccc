// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package health holds the serializable health snapshot shared by model
// providers and the server's health endpoint.
package health

import "time"

// Metrics is a point-in-time view of one provider's health.
type Metrics struct {
	FailureCount  int64      `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Available     bool       `json:"available"`
}

// Report aggregates provider snapshots keyed by provider name.
type Report struct {
	Status    string             `json:"status"`
	Providers map[string]Metrics `json:"providers"`
}

// Summarize derives an overall status: "ok" when every provider is
// available, "degraded" when some are, "unavailable" when none are.
func Summarize(providers map[string]Metrics) Report {
	up := 0
	for _, m := range providers {
		if m.Available {
			up++
		}
	}
	status := "ok"
	switch {
	case len(providers) == 0 || up == 0:
		status = "unavailable"
	case up < len(providers):
		status = "degraded"
	}
	return Report{Status: status, Providers: providers}
}
