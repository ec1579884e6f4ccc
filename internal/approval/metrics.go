// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package approval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var approvalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dealdesk",
	Subsystem: "approval",
	Name:      "transitions_total",
	Help:      "Approval requests entering each status, by tool.",
}, []string{"tool", "status"})
