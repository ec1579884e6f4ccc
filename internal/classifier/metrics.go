// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "classifier",
		Name:      "messages_total",
		Help:      "User messages inspected, by disposition.",
	}, []string{"disposition"})

	injectionSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "classifier",
		Name:      "injection_signals_total",
		Help:      "Injection signals matched, by signal and enforced action.",
	}, []string{"signal", "action"})

	piiFindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "classifier",
		Name:      "pii_findings_total",
		Help:      "PII spans detected, by category and policy action.",
	}, []string{"category", "action"})
)
