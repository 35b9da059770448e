// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package agent

import (
	"context"
	"sync"
	"sync/atomic"

	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// Emitter delivers events to one client in order. Close must be safe to
// call more than once.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
	Close()
}

// ChannelEmitter is an Emitter backed by a buffered channel. The consumer
// ranges over Events until it is closed.
type ChannelEmitter struct {
	mu       sync.RWMutex
	ch       chan Event
	closed   bool
	terminal atomic.Bool
	once     sync.Once
}

var _ Emitter = (*ChannelEmitter)(nil)

// NewChannelEmitter creates a ChannelEmitter with the given buffer size.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelEmitter{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the stream.
func (e *ChannelEmitter) Events() <-chan Event {
	return e.ch
}

// Emit sends ev, blocking until the consumer accepts it or ctx is done.
// Emitting after Close, or after a terminal event, is an error.
func (e *ChannelEmitter) Emit(ctx context.Context, ev Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return sgerr.New(sgerr.CodeAgentEmitterClosed, "emit after close",
			sgerr.Field("event", string(ev.Kind())))
	}
	if ev.Kind().Terminal() {
		if !e.terminal.CompareAndSwap(false, true) {
			return sgerr.New(sgerr.CodeAgentEmitterClosed, "second terminal event",
				sgerr.Field("event", string(ev.Kind())))
		}
	} else if e.terminal.Load() {
		return sgerr.New(sgerr.CodeAgentEmitterClosed, "emit after terminal event",
			sgerr.Field("event", string(ev.Kind())))
	}

	select {
	case e.ch <- ev:
		return nil
	default:
	}
	select {
	case e.ch <- ev:
		return nil
	case <-ctx.Done():
		return sgerr.Wrap(ctx.Err(), sgerr.CodeAgentLoopCancelled, "emit abandoned",
			sgerr.Field("event", string(ev.Kind())))
	}
}

// Close closes the channel. Subsequent calls are no-ops. Close waits for an
// in-flight Emit to finish.
func (e *ChannelEmitter) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.closed = true
		close(e.ch)
	})
}
