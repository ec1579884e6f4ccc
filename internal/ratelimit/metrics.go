// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealdesk_ratelimit_checks_total",
		Help: "Rate limit checks by limit type and decision.",
	}, []string{"type", "decision"})

	trackedKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealdesk_ratelimit_tracked_keys",
		Help: "Keys held by the in-memory rate limit store after the last sweep.",
	})
)
