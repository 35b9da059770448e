// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package provider

import (
	"context"
)

// Provider streams chat completions from a remote model.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	// Chat opens one streaming completion. The returned channel yields
	// fragments in arrival order and is closed when the stream ends. A
	// transport failure is delivered as a final ErrorFragment before close.
	Chat(ctx context.Context, req ChatRequest) (<-chan Fragment, error)
	Status(ctx context.Context) (ProviderStatus, error)
	Close() error
}

// ChatRequest represents a request to the LLM.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolDefinition
	Options  ChatOptions
}

// ChatOptions contains model configuration.
type ChatOptions struct {
	Temperature *float64
	MaxTokens   int
}

// Message represents a conversation message. Order within a conversation is
// significant and is replayed to the model verbatim.
type Message struct {
	Role    MessageRole
	Content string
	// ToolCalls is set only on assistant messages.
	ToolCalls []ToolCall
	// ToolCallID is set only on tool messages.
	ToolCallID string
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is one fully reconstructed tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Fragment is one incremental unit of a streaming completion. The set of
// implementations is closed: TextFragment, ToolCallFragment, UsageFragment
// and ErrorFragment.
type Fragment interface {
	fragment()
}

// TextFragment carries an increment of assistant text.
type TextFragment struct {
	Text string
}

// ToolCallFragment carries part of the tool call at Index. ID and Name are
// usually present only on the first fragment for an index; Arguments is a
// slice of the JSON argument text to be appended in arrival order.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// UsageFragment reports token consumption for the turn.
type UsageFragment struct {
	Usage Usage
}

// ErrorFragment terminates a stream that failed upstream.
type ErrorFragment struct {
	Err error
}

func (TextFragment) fragment()     {}
func (ToolCallFragment) fragment() {}
func (UsageFragment) fragment()    {}
func (ErrorFragment) fragment()    {}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ProviderStatus indicates provider health.
type ProviderStatus struct {
	Available bool
	Provider  string
	Message   string
	Health    *HealthMetrics
}
