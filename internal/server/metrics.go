// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealdesk_http_requests_total",
		Help: "API requests by route and result.",
	}, []string{"route", "result"})

	streamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealdesk_chat_stream_events_total",
		Help: "Server-sent events written to chat streams by event type.",
	}, []string{"event"})
)

func routeLabel(r *http.Request) string {
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/v1/chat"):
		return "chat"
	case strings.HasPrefix(r.URL.Path, "/api/v1/approvals"):
		return "approvals"
	default:
		return "other"
	}
}
