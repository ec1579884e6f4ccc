// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package telemetry records one step per agent round. Recording is
// observability only: it never blocks the loop and its failures never
// reach the caller.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dealdesk-dev/dealdesk/internal/store"
)

const (
	DefaultQueueSize       = 256
	DefaultMaxSummaryBytes = 256
	writeTimeout           = 5 * time.Second
)

// StepRecorder accepts per-round step records.
type StepRecorder interface {
	Record(step store.StepRecord)
}

// Config sizes a Recorder.
type Config struct {
	QueueSize       int
	MaxSummaryBytes int
}

// Recorder queues step records and writes them from one background worker.
// When the queue is full new records are dropped and counted.
type Recorder struct {
	store    store.StepStore
	queue    chan store.StepRecord
	maxBytes int

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ StepRecorder = (*Recorder)(nil)

// NewRecorder starts the worker. Call Close to drain and stop it.
func NewRecorder(s store.StepStore, cfg Config) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxSummaryBytes <= 0 {
		cfg.MaxSummaryBytes = DefaultMaxSummaryBytes
	}
	r := &Recorder{
		store:    s,
		queue:    make(chan store.StepRecord, cfg.QueueSize),
		maxBytes: cfg.MaxSummaryBytes,
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

// Record truncates step's argument snapshots and enqueues it without
// blocking.
func (r *Recorder) Record(step store.StepRecord) {
	step.ToolCalls = r.summarize(step.ToolCalls)
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		droppedTotal.WithLabelValues("closed").Inc()
		return
	}
	select {
	case r.queue <- step:
		queueDepth.Set(float64(len(r.queue)))
	default:
		droppedTotal.WithLabelValues("queue_full").Inc()
		slog.Debug("step telemetry queue full, dropping record",
			"turn_id", step.TurnID,
			"index", step.Index,
		)
	}
}

// Close stops accepting records, writes everything already queued and
// waits for the worker to exit.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for step := range r.queue {
		queueDepth.Set(float64(len(r.queue)))
		r.write(step)
	}
}

func (r *Recorder) write(step store.StepRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.AppendStep(ctx, &step); err != nil {
		writeFailuresTotal.Inc()
		slog.Warn("writing step telemetry failed",
			"turn_id", step.TurnID,
			"index", step.Index,
			"error", err,
		)
		return
	}
	writtenTotal.Inc()
}

func (r *Recorder) summarize(calls []store.ToolCallSummary) []store.ToolCallSummary {
	if len(calls) == 0 {
		return calls
	}
	out := make([]store.ToolCallSummary, len(calls))
	for i, c := range calls {
		c.Args = Truncate(c.Args, r.maxBytes)
		out[i] = c
	}
	return out
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence,
// marking the cut with an ellipsis that counts toward n.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	const marker = "…"
	limit := n - len(marker)
	if limit <= 0 {
		limit = n
	}
	i := limit
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	if limit == n {
		return s[:i]
	}
	return s[:i] + marker
}

// Discard drops every record.
type Discard struct{}

func (Discard) Record(store.StepRecord) {}
