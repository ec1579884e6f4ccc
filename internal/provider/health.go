// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package provider

import (
	"sync"
	"time"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
	"github.com/dealdesk-dev/dealdesk/pkg/health"
)

// HealthTracker marks a provider unhealthy after a failed stream and lets
// it back in once the cooldown has passed.
type HealthTracker struct {
	mu           sync.RWMutex
	healthy      bool
	failedAt     time.Time
	cooldown     time.Duration
	failureCount int64
	nowFunc      func() time.Time
}

// DefaultHealthCooldown is how long a failed provider sits out of routing.
const DefaultHealthCooldown = 30 * time.Second

// NewHealthTracker creates a HealthTracker that starts healthy.
func NewHealthTracker(cooldown time.Duration) (*HealthTracker, error) {
	if cooldown <= 0 {
		return nil, dderr.Errorf(dderr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", cooldown)
	}
	return &HealthTracker{
		healthy:  true,
		cooldown: cooldown,
		nowFunc:  time.Now,
	}, nil
}

// caller holds h.mu
func (h *HealthTracker) isHealthyLocked() bool {
	if h.healthy {
		return true
	}
	return h.nowFunc().Sub(h.failedAt) >= h.cooldown
}

func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isHealthyLocked()
}

func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	h.healthy = true
	h.mu.Unlock()
}

func (h *HealthTracker) RecordFailure() {
	h.mu.Lock()
	h.healthy = false
	h.failedAt = h.nowFunc()
	h.failureCount++
	h.mu.Unlock()
}

// SetNowFunc overrides the time source.
func (h *HealthTracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.nowFunc = fn
	h.mu.Unlock()
}

// Snapshot returns the tracker state for the health endpoint.
func (h *HealthTracker) Snapshot() health.Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := health.Metrics{FailureCount: h.failureCount, Available: h.isHealthyLocked()}
	if h.failureCount > 0 {
		t := h.failedAt
		m.LastFailureAt = &t
	}
	if !h.healthy {
		end := h.failedAt.Add(h.cooldown)
		m.CooldownUntil = &end
	}
	return m
}

// HealthReporter is implemented by providers that track their own health.
type HealthReporter interface {
	Health() health.Metrics
}
