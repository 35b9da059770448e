// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package server

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

const (
	rateLimitRetryAfter = "1"
	staleThreshold      = 10 * time.Minute
	cleanupInterval     = 5 * time.Minute
)

// RateLimitConfig limits chat requests per caller. The limiter is enabled
// when either RequestsPerMinute or MaxConcurrentStreams is positive.
type RateLimitConfig struct {
	RequestsPerMinute    int
	Burst                int
	MaxConcurrentStreams int
	// MaxKeys caps the number of tracked callers. Zero means 10000.
	MaxKeys int
}

func (c *RateLimitConfig) enabled() bool {
	return c.RequestsPerMinute > 0 || c.MaxConcurrentStreams > 0
}

func (c *RateLimitConfig) applyDefaults() {
	if c.MaxKeys == 0 {
		c.MaxKeys = 10000
	}
}

func (c *RateLimitConfig) validate() error {
	if c.RequestsPerMinute < 0 || c.MaxConcurrentStreams < 0 || c.MaxKeys < 0 {
		return sgerr.Errorf(sgerr.CodeServerConfigInvalid,
			"rate limit values must not be negative (rpm=%d, streams=%d, keys=%d)",
			c.RequestsPerMinute, c.MaxConcurrentStreams, c.MaxKeys)
	}
	if c.RequestsPerMinute > 0 && c.Burst <= 0 {
		return sgerr.Errorf(sgerr.CodeServerConfigInvalid,
			"rate limit burst must be positive when requests per minute is set (got burst=%d, rpm=%d)",
			c.Burst, c.RequestsPerMinute)
	}
	return nil
}

type visitor struct {
	tokens        float64
	lastSeen      time.Time
	lastRefill    time.Time
	activeStreams int
}

// rateLimiter is a per-key token bucket plus a concurrent stream counter.
// A nil *rateLimiter allows everything.
type rateLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

func newRateLimiter(cfg RateLimitConfig, done <-chan struct{}) (*rateLimiter, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !cfg.enabled() {
		return nil, nil
	}

	l := &rateLimiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
	go l.cleanupLoop(done)
	return l, nil
}

func (l *rateLimiter) cleanupLoop(done <-chan struct{}) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-done:
			return
		}
	}
}

// sweep drops idle visitors and enforces MaxKeys, oldest first. Visitors
// with open streams are never evicted.
func (l *rateLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	type entry struct {
		key      string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(l.visitors))
	for key, v := range l.visitors {
		if v.activeStreams == 0 && now.Sub(v.lastSeen) > staleThreshold {
			delete(l.visitors, key)
		} else {
			entries = append(entries, entry{key: key, lastSeen: v.lastSeen})
		}
	}

	if l.cfg.MaxKeys <= 0 || len(entries) <= l.cfg.MaxKeys {
		return
	}
	slices.SortFunc(entries, func(a, b entry) int { return a.lastSeen.Compare(b.lastSeen) })

	toEvict := len(entries) - l.cfg.MaxKeys
	evicted := 0
	for _, e := range entries[:toEvict] {
		if v := l.visitors[e.key]; v != nil && v.activeStreams == 0 {
			delete(l.visitors, e.key)
			evicted++
		}
	}
	slog.Warn("rate limiter key cap enforced",
		"intended", toEvict, "evicted", evicted, "max_keys", l.cfg.MaxKeys, "remaining", len(l.visitors))
}

func (l *rateLimiter) allowRequest(key string) bool {
	if l == nil || l.cfg.RequestsPerMinute <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.visitorLocked(key)
	now := l.now()
	v.lastSeen = now

	ratePerSecond := float64(l.cfg.RequestsPerMinute) / 60.0
	v.tokens += now.Sub(v.lastRefill).Seconds() * ratePerSecond
	if v.tokens > float64(l.cfg.Burst) {
		v.tokens = float64(l.cfg.Burst)
	}
	v.lastRefill = now

	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

func (l *rateLimiter) acquireStream(key string) bool {
	if l == nil || l.cfg.MaxConcurrentStreams <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.visitorLocked(key)
	v.lastSeen = l.now()
	if v.activeStreams >= l.cfg.MaxConcurrentStreams {
		return false
	}
	v.activeStreams++
	return true
}

func (l *rateLimiter) releaseStream(key string) {
	if l == nil || l.cfg.MaxConcurrentStreams <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.visitors[key]
	if v == nil {
		return
	}
	if v.activeStreams == 0 {
		slog.Error("rate limiter: stream slot underflow", "key_hash", hashKey(key))
		return
	}
	v.activeStreams--
	v.lastSeen = l.now()
}

func (l *rateLimiter) visitorLocked(key string) *visitor {
	if v, ok := l.visitors[key]; ok {
		return v
	}
	now := l.now()
	v := &visitor{
		tokens:     float64(l.cfg.Burst),
		lastSeen:   now,
		lastRefill: now,
	}
	l.visitors[key] = v
	return v
}

type clientIPKey struct{}

func clientIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey{}, clientIPFromRemoteAddr(r.RemoteAddr))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// limiterKey prefers the authenticated user id and falls back to the
// client IP for anonymous callers.
func limiterKey(ctx context.Context) (key, keyType string) {
	if id, ok := IdentityFromContext(ctx); ok && !id.Anonymous && id.UserID != "" {
		return "user:" + id.UserID, "user"
	}
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok && ip != "" {
		return "ip:" + ip, "ip"
	}
	return "ip:unknown", "ip"
}

// hashKey returns the first 8 hex chars of SHA-256(key) for log privacy.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h[:4])
}

func writeTooManyRequests(w http.ResponseWriter, msg string) {
	w.Header().Set("Retry-After", rateLimitRetryAfter)
	writeError(w, http.StatusTooManyRequests, msg)
}
