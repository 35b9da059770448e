// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

// Package audit persists finalized interactions off the request path.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sgreports-dev/sgreports/internal/store"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// EscalationThreshold is the number of consecutive write failures after
// which failures are logged at Error instead of Warn.
const EscalationThreshold = 3

// DefaultWriteTimeout bounds a single interaction write.
const DefaultWriteTimeout = 10 * time.Second

// Logger writes interaction records in the background. Record never
// blocks the caller and never reports an error back to it.
type Logger struct {
	store   store.InteractionStore
	timeout time.Duration
	log     *slog.Logger

	// mu orders wg.Add in Record before the wg.Wait in Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	// failCount tracks consecutive failures and resets on success.
	// failTotal never resets.
	failCount atomic.Int64
	failTotal atomic.Int64
}

// New creates a Logger. A zero timeout uses DefaultWriteTimeout.
func New(s store.InteractionStore, timeout time.Duration, log *slog.Logger) *Logger {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Logger{store: s, timeout: timeout, log: log}
}

// Record schedules rec for persistence. The record is copied, so the caller
// may reuse its value.
func (l *Logger) Record(rec store.InteractionRecord) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Warn("audit logger closed; dropping interaction",
			"session_id", rec.SessionID, "interaction_index", rec.InteractionIndex)
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		l.write(rec)
	}()
}

func (l *Logger) write(rec store.InteractionRecord) {
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = sgerr.Errorf(sgerr.CodeAuditWriteFailure, "panic writing interaction: %v", p)
		}
		l.observe(rec, err)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	err = l.store.SaveInteraction(ctx, &rec)
}

func (l *Logger) observe(rec store.InteractionRecord, err error) {
	if err == nil {
		l.failCount.Store(0)
		return
	}

	consecutive := l.failCount.Add(1)
	cumulative := l.failTotal.Add(1)
	attrs := []slog.Attr{
		slog.Any("error", err),
		slog.String("session_id", rec.SessionID),
		slog.Int("interaction_index", rec.InteractionIndex),
		slog.Int64("consecutive_failures", consecutive),
	}
	if consecutive >= EscalationThreshold {
		attrs = append(attrs, slog.Int64("total_failures", cumulative))
	}
	logFailure(l.log, consecutive, "interaction write failed", attrs...)
}

// logFailure logs at Warn for the first EscalationThreshold-1 consecutive
// failures and at Error thereafter.
func logFailure(log *slog.Logger, consecutive int64, msg string, attrs ...slog.Attr) {
	level := slog.LevelWarn
	if consecutive >= EscalationThreshold {
		level = slog.LevelError
	}
	log.LogAttrs(context.Background(), level, msg, attrs...)
}

// Failures returns the cumulative number of failed writes.
func (l *Logger) Failures() int64 {
	return l.failTotal.Load()
}

// Close stops accepting records and waits for in-flight writes until ctx
// is done.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return sgerr.Wrap(ctx.Err(), sgerr.CodeAuditWriteFailure,
			fmt.Sprintf("audit drain interrupted after %d failures", l.failTotal.Load()))
	}
}
