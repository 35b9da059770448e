// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package tools

import (
	"encoding/json"
	"fmt"
)

// Result is the outcome of one tool invocation. Exactly one of Payload and
// Error is meaningful, selected by Success.
type Result struct {
	Success bool
	Payload any
	Error   string
}

// Succeeded builds a successful result.
func Succeeded(payload any) Result {
	return Result{Success: true, Payload: payload}
}

// Failed builds a failed result carrying a message for the model.
func Failed(msg string) Result {
	return Result{Error: msg}
}

// Failedf is Failed with formatting.
func Failedf(format string, args ...any) Result {
	return Failed(fmt.Sprintf(format, args...))
}

// Value is what clients see as the tool_result payload: the payload on
// success, the error string on failure.
func (r Result) Value() any {
	if r.Success {
		return r.Payload
	}
	return r.Error
}

// JSON renders the content of the tool-role message handed back to the
// model.
func (r Result) JSON() string {
	var v any = map[string]string{"error": r.Error}
	if r.Success {
		v = r.Payload
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": "encoding tool result: " + err.Error()})
	}
	return string(b)
}
