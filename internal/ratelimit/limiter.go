// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package ratelimit implements a fixed-window request counter keyed by
// (identifier, type). The counter lives behind Store so a shared backend can
// replace the in-process map without touching callers.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// Result is the outcome of one Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, rounded up to a
// whole second and never below one.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}

// Entry is the counter state for one (identifier, type) pair. While
// now < ResetAt, Count never exceeds the max it was checked against.
type Entry struct {
	Identifier string
	Type       string
	Count      int
	ResetAt    time.Time
}

// Expired reports whether the entry's window has elapsed.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ResetAt)
}

// Store performs the read-check-increment for one key as a single atomic
// step. Implementations must not admit two concurrent callers on the last
// slot of a window.
type Store interface {
	Take(ctx context.Context, identifier, typ string, max int, window time.Duration) (Result, error)
}

// Limiter validates arguments, delegates to a Store and records metrics.
type Limiter struct {
	store Store
}

// New returns a Limiter backed by store.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Check admits or denies one request for identifier under the given limit.
func (l *Limiter) Check(ctx context.Context, identifier, typ string, max int, window time.Duration) (Result, error) {
	if identifier == "" || typ == "" {
		return Result{}, dderr.New(dderr.CodeRateLimitInvalidInput, "rate limit identifier and type must not be empty")
	}
	if max <= 0 || window <= 0 {
		return Result{}, dderr.Errorf(dderr.CodeRateLimitInvalidInput,
			"rate limit max and window must be positive (max=%d, window=%s)", max, window)
	}

	res, err := l.store.Take(ctx, identifier, typ, max, window)
	if err != nil {
		checksTotal.WithLabelValues(typ, "error").Inc()
		return Result{}, dderr.Wrapf(err, dderr.CodeRateLimitStoreFailure, "rate limit check for %s", typ)
	}

	if res.Allowed {
		checksTotal.WithLabelValues(typ, "allowed").Inc()
	} else {
		checksTotal.WithLabelValues(typ, "denied").Inc()
		slog.Debug("rate limit exceeded",
			"type", typ,
			"identifier_hash", HashIdentifier(identifier),
			"reset_at", res.ResetAt,
		)
	}
	return res, nil
}

// HashIdentifier returns a short, log-safe digest of an identifier.
func HashIdentifier(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return fmt.Sprintf("%x", sum[:4])
}
