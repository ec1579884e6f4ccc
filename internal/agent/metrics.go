// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "agent",
		Name:      "turns_total",
		Help:      "Agent turns by terminal status.",
	}, []string{"status"})

	roundsPerTurn = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dealdesk",
		Subsystem: "agent",
		Name:      "rounds_per_turn",
		Help:      "Model rounds used by turns that ended without error.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 20},
	})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "agent",
		Name:      "tool_calls_total",
		Help:      "Tool calls requested by the model, by outcome.",
	}, []string{"tool", "status"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dealdesk",
		Subsystem: "agent",
		Name:      "tool_duration_seconds",
		Help:      "Wall time of ungated tool executions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})
)
