// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package ratelimit

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

type entryKey struct {
	identifier string
	typ        string
}

// MemoryStore keeps counters in process memory. A single mutex makes Take
// atomic; Run evicts expired entries so memory stays bounded.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[entryKey]*Entry
	maxKeys int
	nowFunc func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxKeys caps the number of tracked keys after each sweep. Zero
// disables the cap.
func WithMaxKeys(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxKeys = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.nowFunc = now }
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[entryKey]*Entry),
		maxKeys: 10000,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Take(_ context.Context, identifier, typ string, max int, window time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	key := entryKey{identifier: identifier, typ: typ}

	e, ok := s.entries[key]
	if !ok || e.Expired(now) {
		e = &Entry{Identifier: identifier, Type: typ, Count: 1, ResetAt: now.Add(window)}
		s.entries[key] = e
		return Result{Allowed: true, Limit: max, Remaining: max - 1, ResetAt: e.ResetAt}, nil
	}

	if e.Count >= max {
		return Result{Allowed: false, Limit: max, Remaining: 0, ResetAt: e.ResetAt}, nil
	}

	e.Count++
	return Result{Allowed: true, Limit: max, Remaining: max - e.Count, ResetAt: e.ResetAt}, nil
}

// Len reports the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep evicts expired entries, then enforces the key cap by evicting the
// entries closest to reset. It returns the number of evicted keys.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	evicted := 0
	live := make([]entryKey, 0, len(s.entries))
	for key, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, key)
			evicted++
			continue
		}
		live = append(live, key)
	}

	if s.maxKeys > 0 && len(live) > s.maxKeys {
		slices.SortFunc(live, func(a, b entryKey) int {
			return s.entries[a].ResetAt.Compare(s.entries[b].ResetAt)
		})
		over := len(live) - s.maxKeys
		for _, key := range live[:over] {
			delete(s.entries, key)
		}
		evicted += over
		slog.Warn("rate limiter key cap enforced", "evicted", over, "max_keys", s.maxKeys)
	}

	trackedKeys.Set(float64(len(s.entries)))
	return evicted
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("rate limiter sweep", "evicted", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
