// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package tool

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultBookkeepingTimeout = 10 * time.Second

// Bookkeeping runs secondary writes that must never affect a tool's primary
// result, such as advancing a workflow position after an email was sent.
// Failures are logged and counted, never returned.
type Bookkeeping struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewBookkeeping returns a runner bounding each write by timeout.
func NewBookkeeping(timeout time.Duration) *Bookkeeping {
	if timeout <= 0 {
		timeout = defaultBookkeepingTimeout
	}
	return &Bookkeeping{timeout: timeout}
}

// Go runs fn in the background on a context detached from ctx's
// cancellation.
func (b *Bookkeeping) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				bookkeepingFailuresTotal.WithLabelValues(name).Inc()
				slog.Error("bookkeeping write panicked", "task", name, "panic", r)
			}
		}()

		if err := fn(runCtx); err != nil {
			bookkeepingFailuresTotal.WithLabelValues(name).Inc()
			slog.Warn("bookkeeping write failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until every started write has finished. Used at shutdown and
// in tests.
func (b *Bookkeeping) Wait() {
	b.wg.Wait()
}
