// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writtenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "telemetry",
		Name:      "steps_written_total",
		Help:      "Agent step records persisted.",
	})

	writeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "telemetry",
		Name:      "step_write_failures_total",
		Help:      "Agent step records that failed to persist.",
	})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "telemetry",
		Name:      "steps_dropped_total",
		Help:      "Agent step records dropped before persistence, by reason.",
	}, []string{"reason"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dealdesk",
		Subsystem: "telemetry",
		Name:      "queue_depth",
		Help:      "Step records waiting to be written.",
	})
)
