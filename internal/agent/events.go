// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package agent

import (
	"encoding/json"
	"fmt"
)

// EventKind names an event on the outgoing stream.
type EventKind string

const (
	KindToolStart  EventKind = "tool_start"
	KindToolResult EventKind = "tool_result"
	KindTextDelta  EventKind = "text_delta"
	KindDone       EventKind = "done"
	KindError      EventKind = "error"
)

// Terminal reports whether the kind ends a stream.
func (k EventKind) Terminal() bool {
	return k == KindDone || k == KindError
}

// Failure codes carried by error events.
const (
	FailureIterationLimit = "iteration_limit"
	FailureUpstream       = "upstream_failure"
	FailureCancelled      = "cancelled"
	FailureInvalidInput   = "invalid_input"
	FailureInternal       = "internal"
)

// Event is one item on the outgoing stream. The set of implementations is
// closed: ToolStart, ToolResultEvent, TextDelta, Done and Failure.
type Event interface {
	Kind() EventKind
	event()
}

// ToolStart announces a tool call before it executes.
type ToolStart struct {
	Name string `json:"name"`
	Args any    `json:"args"`
}

// ToolResultEvent reports a finished tool call. Result is the payload on
// success and the error message on failure.
type ToolResultEvent struct {
	Name    string `json:"name"`
	Result  any    `json:"result"`
	Success bool   `json:"success"`
}

// TextDelta carries one increment of assistant text.
type TextDelta struct {
	Content string `json:"content"`
}

// Done ends a successful stream.
type Done struct{}

// Failure ends a failed stream.
type Failure struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (ToolStart) Kind() EventKind       { return KindToolStart }
func (ToolResultEvent) Kind() EventKind { return KindToolResult }
func (TextDelta) Kind() EventKind       { return KindTextDelta }
func (Done) Kind() EventKind            { return KindDone }
func (Failure) Kind() EventKind         { return KindError }

func (ToolStart) event()       {}
func (ToolResultEvent) event() {}
func (TextDelta) event()       {}
func (Done) event()            {}
func (Failure) event()         {}

// MarshalEvent encodes ev as a self-describing JSON object with a "type"
// field naming its kind.
func MarshalEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case ToolStart:
		return json.Marshal(struct {
			Type EventKind `json:"type"`
			ToolStart
		}{e.Kind(), e})
	case ToolResultEvent:
		return json.Marshal(struct {
			Type EventKind `json:"type"`
			ToolResultEvent
		}{e.Kind(), e})
	case TextDelta:
		return json.Marshal(struct {
			Type EventKind `json:"type"`
			TextDelta
		}{e.Kind(), e})
	case Done:
		return json.Marshal(struct {
			Type EventKind `json:"type"`
		}{e.Kind()})
	case Failure:
		return json.Marshal(struct {
			Type EventKind `json:"type"`
			Failure
		}{e.Kind(), e})
	default:
		return nil, fmt.Errorf("unknown event type %T", ev)
	}
}

// DecodeEvent parses a payload produced by MarshalEvent. kind is taken from
// the SSE event name; when empty, the payload's "type" field is used.
func DecodeEvent(kind string, data []byte) (Event, error) {
	if kind == "" {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return nil, err
		}
		kind = head.Type
	}

	switch EventKind(kind) {
	case KindToolStart:
		var e ToolStart
		err := json.Unmarshal(data, &e)
		return e, err
	case KindToolResult:
		var e ToolResultEvent
		err := json.Unmarshal(data, &e)
		return e, err
	case KindTextDelta:
		var e TextDelta
		err := json.Unmarshal(data, &e)
		return e, err
	case KindDone:
		return Done{}, nil
	case KindError:
		var e Failure
		err := json.Unmarshal(data, &e)
		return e, err
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
