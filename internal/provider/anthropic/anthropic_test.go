// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package anthropic_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sgreports-dev/sgreports/internal/provider"
	"github.com/sgreports-dev/sgreports/internal/provider/anthropic"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*anthropic.Provider)(nil)

func TestAnthropicProvider_MissingAPIKey(t *testing.T) {
	_, err := anthropic.New(anthropic.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
	assert.True(t, sgerr.HasCode(err, sgerr.CodeProviderRequestInvalid))
}

func TestAnthropicProvider_Status(t *testing.T) {
	p := mustNewProvider(t, "")

	status, err := p.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "anthropic", status.Provider)
	assert.True(t, status.Available)
	assert.NoError(t, p.Close())
}

func TestAnthropicProvider_StreamsToolUseFragments(t *testing.T) {
	events := []struct{ name, data string }{
		{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-5","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":25,"output_tokens":1}}}`},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"read_document","input":{}}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"symbol\":"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"A/79/1\"}"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":1}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":15}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	}))
	t.Cleanup(srv.Close)

	p := mustNewProvider(t, srv.URL)
	ch, err := p.Chat(context.Background(), provider.ChatRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: "read A/79/1"}},
	})
	require.NoError(t, err)

	var frags []provider.Fragment
	for f := range ch {
		frags = append(frags, f)
	}

	require.Len(t, frags, 6)
	assert.Equal(t, provider.UsageFragment{Usage: provider.Usage{InputTokens: 25}}, frags[0])
	assert.Equal(t, provider.TextFragment{Text: "Checking"}, frags[1])
	assert.Equal(t, provider.ToolCallFragment{Index: 1, ID: "toolu_1", Name: "read_document"}, frags[2])
	assert.Equal(t, provider.ToolCallFragment{Index: 1, Arguments: `{"symbol":`}, frags[3])
	assert.Equal(t, provider.ToolCallFragment{Index: 1, Arguments: `"A/79/1"}`}, frags[4])
	assert.Equal(t, provider.UsageFragment{Usage: provider.Usage{OutputTokens: 15}}, frags[5])
}

func TestBuildParams_SystemAndDefaults(t *testing.T) {
	params, err := anthropic.BuildParams(provider.ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []provider.Message{
			{Role: provider.MessageRoleSystem, Content: "You answer questions about SG reports."},
			{Role: provider.MessageRoleUser, Content: "hi"},
		},
		Tools: []provider.ToolDefinition{{
			Name: "read_document",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"symbol": map[string]any{"type": "string"}},
				"required":   []string{"symbol"},
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4096), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "You answer questions about SG reports.", params.System[0].Text)
	require.Len(t, params.Messages, 1)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, []string{"symbol"}, params.Tools[0].OfTool.InputSchema.Required)
}

func TestConvertMessages_GroupsToolResults(t *testing.T) {
	msgs, system, err := anthropic.ConvertMessages([]provider.Message{
		{Role: provider.MessageRoleSystem, Content: "sys"},
		{Role: provider.MessageRoleUser, Content: "compare two reports"},
		{Role: provider.MessageRoleAssistant, ToolCalls: []provider.ToolCall{
			{ID: "t1", Name: "read_document", Arguments: `{"symbol":"A/79/1"}`},
			{ID: "t2", Name: "read_document", Arguments: `not json`},
		}},
		{Role: provider.MessageRoleTool, ToolCallID: "t1", Content: `{"symbol":"A/79/1"}`},
		{Role: provider.MessageRoleTool, ToolCallID: "t2", Content: `{"error":"bad"}`},
		{Role: provider.MessageRoleAssistant, Content: "Here is the comparison."},
	})
	require.NoError(t, err)
	assert.Equal(t, "sys", system)
	require.Len(t, msgs, 4)

	assert.Len(t, msgs[1].Content, 2, "assistant turn carries both tool_use blocks")
	assert.Len(t, msgs[2].Content, 2, "tool results are grouped into one user message")
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "t1", msgs[2].Content[0].OfToolResult.ToolUseID)
	assert.Equal(t, "t2", msgs[2].Content[1].OfToolResult.ToolUseID)
}

func TestConvertMessages_Errors(t *testing.T) {
	_, _, err := anthropic.ConvertMessages([]provider.Message{{Role: provider.MessageRoleTool, Content: "x"}})
	assert.True(t, sgerr.HasCode(err, sgerr.CodeProviderRequestInvalid))

	_, _, err = anthropic.ConvertMessages([]provider.Message{{Role: "robot"}})
	assert.True(t, sgerr.HasCode(err, sgerr.CodeProviderRequestInvalid))
}

// mustNewProvider creates a provider with a dummy API key for unit tests.
func mustNewProvider(t *testing.T, baseURL string) *anthropic.Provider {
	t.Helper()
	retries := 0
	p, err := anthropic.New(anthropic.Config{
		APIKey:     "test-key-not-real",
		BaseURL:    baseURL,
		MaxRetries: &retries,
	})
	require.NoError(t, err)
	return p
}
