// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package audit records security and pipeline events to the append-only
// audit store. Recording is best-effort: a failed write is logged and never
// fails the request that produced the event.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dealdesk-dev/dealdesk/internal/store"
)

// Severity grades an event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event types written by the pipeline.
const (
	EventAuthFailed        = "auth.failed"
	EventRateLimitExceeded = "ratelimit.exceeded"
	EventInputSanitized    = "classifier.sanitized"
	EventInjectionDetected = "classifier.injection"
	EventPIIDetected       = "classifier.pii"
	EventInputRejected     = "chat.input_rejected"
	EventToolExecuted      = "tool.executed"
	EventApprovalRequested = "approval.requested"
	EventApprovalResolved  = "approval.resolved"
	EventTurnFailed        = "agent.turn_failed"
	EventRoundLimitReached = "agent.round_limit"
)

// EscalationThreshold is the number of consecutive write failures after
// which failures are logged at Error instead of Warn.
const EscalationThreshold = 3

// Event is what callers hand to a Sink. ID and timestamp are assigned on
// write.
type Event struct {
	Type     string
	Severity Severity
	Actor    string
	Refs     map[string]string
	Details  map[string]any
}

// Sink accepts audit events.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// Log writes events to a store.AuditStore.
type Log struct {
	store   store.AuditStore
	nowFunc func() time.Time

	// consecutive resets on every successful write; total never does, so an
	// alternating fail/succeed pattern stays visible.
	consecutive atomic.Int64
	total       atomic.Int64
}

var _ Sink = (*Log)(nil)

// NewLog returns a Log writing to s.
func NewLog(s store.AuditStore) *Log {
	return &Log{store: s, nowFunc: time.Now}
}

// Record appends ev. The write uses a context detached from the caller's
// cancellation so a client disconnect does not lose the event.
func (l *Log) Record(ctx context.Context, ev Event) {
	entry := &store.AuditEvent{
		ID:          uuid.NewString(),
		EventType:   ev.Type,
		Severity:    string(ev.Severity),
		ActorRef:    ev.Actor,
		ContextRefs: ev.Refs,
		Details:     ev.Details,
		Timestamp:   l.nowFunc(),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := l.store.Append(writeCtx, entry); err != nil {
		n := l.consecutive.Add(1)
		total := l.total.Add(1)
		attrs := []slog.Attr{
			slog.Any("error", err),
			slog.String("event_type", ev.Type),
			slog.String("actor", ev.Actor),
			slog.Int64("consecutive_failures", n),
		}
		level := slog.LevelWarn
		if n >= EscalationThreshold {
			level = slog.LevelError
			attrs = append(attrs, slog.Int64("total_failures", total))
		}
		slog.LogAttrs(ctx, level, "audit store append failed", attrs...)
		return
	}
	l.consecutive.Store(0)
}

// ConsecutiveFailures reports the current run of failed writes.
func (l *Log) ConsecutiveFailures() int64 {
	return l.consecutive.Load()
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event) {}
