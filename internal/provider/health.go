// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package provider

import (
	"sync"
	"time"
)

// HealthMetrics is what GET /health reports for one provider.
type HealthMetrics struct {
	FailureCount  int64      `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Available     bool       `json:"available"`
}

// DefaultHealthCooldown is how long a provider stays out of rotation after an
// upstream failure.
const DefaultHealthCooldown = 30 * time.Second

// HealthTracker takes a provider out of failover rotation for a cooldown
// after each failed stream. The next successful stream puts it back at once.
type HealthTracker struct {
	mu       sync.RWMutex
	cooldown time.Duration
	clock    func() time.Time

	failures    int64
	lastFailure time.Time
	downUntil   time.Time // zero while in rotation
}

// NewHealthTracker returns a tracker for a provider that is in rotation.
// cooldown <= 0 means DefaultHealthCooldown.
func NewHealthTracker(cooldown time.Duration) *HealthTracker {
	if cooldown <= 0 {
		cooldown = DefaultHealthCooldown
	}
	return &HealthTracker{cooldown: cooldown, clock: time.Now}
}

// SetClock replaces time.Now. Tests only.
func (h *HealthTracker) SetClock(fn func() time.Time) {
	h.mu.Lock()
	h.clock = fn
	h.mu.Unlock()
}

func (h *HealthTracker) availableAt(now time.Time) bool {
	return h.downUntil.IsZero() || !now.Before(h.downUntil)
}

// IsHealthy reports whether the registry may route to the provider.
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.availableAt(h.clock())
}

func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	h.downUntil = time.Time{}
	h.mu.Unlock()
}

func (h *HealthTracker) RecordFailure() {
	h.mu.Lock()
	now := h.clock()
	h.failures++
	h.lastFailure = now
	h.downUntil = now.Add(h.cooldown)
	h.mu.Unlock()
}

// HealthMetrics copies the tracker state. CooldownUntil stays set after the
// cooldown passes until a success clears it.
func (h *HealthTracker) HealthMetrics() HealthMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := HealthMetrics{
		FailureCount: h.failures,
		Available:    h.availableAt(h.clock()),
	}
	if h.failures > 0 {
		last := h.lastFailure
		m.LastFailureAt = &last
	}
	if !h.downUntil.IsZero() {
		until := h.downUntil
		m.CooldownUntil = &until
	}
	return m
}
