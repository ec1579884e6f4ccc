// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package tool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unconfiguredSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "tool",
		Name:      "unconfigured_skips_total",
		Help:      "Allowed tools left out of a turn because their integration is not configured.",
	}, []string{"tool"})

	bookkeepingFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "tool",
		Name:      "bookkeeping_failures_total",
		Help:      "Secondary writes that failed after a tool's primary action.",
	}, []string{"task"})
)
