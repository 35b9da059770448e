// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sgreports-dev/sgreports/internal/provider"
	"github.com/sgreports-dev/sgreports/internal/provider/openai"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ provider.Provider = (*openai.Provider)(nil)

func noRetries() *int {
	n := 0
	return &n
}

func chunk(delta string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-5","choices":[{"index":0,"delta":%s,"finish_reason":null}]}`, delta)
}

// sseServer replays the given data payloads as an OpenAI streaming response
// and records the last request body.
func sseServer(t *testing.T, payloads []string, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if gotBody != nil {
			require.NoError(t, json.Unmarshal(body, gotBody))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", p)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, ch <-chan provider.Fragment) []provider.Fragment {
	t.Helper()
	var out []provider.Fragment
	for f := range ch {
		out = append(out, f)
	}
	return out
}

func TestNew_MissingAPIKey(t *testing.T) {
	_, err := openai.New(openai.Config{})
	require.Error(t, err)
	assert.True(t, sgerr.IsInvalidInput(err))
}

func TestNew_Names(t *testing.T) {
	p, err := openai.New(openai.Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	az, err := openai.New(openai.Config{APIKey: "k", AzureEndpoint: "https://example.openai.azure.com"})
	require.NoError(t, err)
	assert.Equal(t, "azure", az.Name())

	named, err := openai.New(openai.Config{APIKey: "k", Name: "primary"})
	require.NoError(t, err)
	assert.Equal(t, "primary", named.Name())
}

func TestChat_StreamsRawFragments(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []string{
		chunk(`{"role":"assistant","content":"Let me "}`),
		chunk(`{"content":"check."}`),
		chunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"query_database","arguments":""}}]}`),
		chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}`),
		chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\"select 1\"}"}}]}`),
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-5","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":7,"total_tokens":19}}`,
	}, &body)

	p, err := openai.New(openai.Config{APIKey: "sk-test", BaseURL: srv.URL, MaxRetries: noRetries()})
	require.NoError(t, err)

	ch, err := p.Chat(context.Background(), provider.ChatRequest{
		Model:    "gpt-5",
		Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: "hi"}},
		Tools: []provider.ToolDefinition{{
			Name:        "query_database",
			Description: "run sql",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)

	frags := collect(t, ch)
	require.Len(t, frags, 6)
	assert.Equal(t, provider.TextFragment{Text: "Let me "}, frags[0])
	assert.Equal(t, provider.TextFragment{Text: "check."}, frags[1])
	assert.Equal(t, provider.ToolCallFragment{Index: 0, ID: "call_1", Name: "query_database"}, frags[2])
	assert.Equal(t, provider.ToolCallFragment{Index: 0, Arguments: `{"query":`}, frags[3])
	assert.Equal(t, provider.ToolCallFragment{Index: 0, Arguments: `"select 1"}`}, frags[4])
	assert.Equal(t, provider.UsageFragment{Usage: provider.Usage{InputTokens: 12, OutputTokens: 7}}, frags[5])

	assert.Equal(t, "gpt-5", body["model"])
	assert.Equal(t, true, body["stream"])
	tools, ok := body["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
	assert.True(t, p.Available(context.Background()))
}

func TestChat_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	t.Cleanup(srv.Close)

	p, err := openai.New(openai.Config{APIKey: "sk-test", BaseURL: srv.URL, MaxRetries: noRetries()})
	require.NoError(t, err)

	ch, err := p.Chat(context.Background(), provider.ChatRequest{
		Model:    "gpt-5",
		Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	frags := collect(t, ch)
	require.Len(t, frags, 1)
	errFrag, ok := frags[0].(provider.ErrorFragment)
	require.True(t, ok, "expected ErrorFragment, got %T", frags[0])
	assert.True(t, sgerr.IsUpstreamFailure(errFrag.Err))
	assert.False(t, p.Available(context.Background()))

	status, err := p.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Available)
	require.NotNil(t, status.Health)
	assert.Equal(t, int64(1), status.Health.FailureCount)
}

func TestBuildParams(t *testing.T) {
	temp := 0.2
	params, err := openai.BuildParams(provider.ChatRequest{
		Model:    "gpt-5",
		Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: "hi"}},
		Options:  provider.ChatOptions{MaxTokens: 512, Temperature: &temp},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-5", string(params.Model))
	assert.Equal(t, int64(512), params.MaxCompletionTokens.Value)
	assert.Equal(t, 0.2, params.Temperature.Value)
	assert.True(t, params.StreamOptions.IncludeUsage.Value)

	_, err = openai.BuildParams(provider.ChatRequest{})
	assert.True(t, sgerr.HasCode(err, sgerr.CodeProviderRequestInvalid))
}

func TestConvertMessages_ReplaysToolCalls(t *testing.T) {
	msgs, err := openai.ConvertMessages([]provider.Message{
		{Role: provider.MessageRoleSystem, Content: "sys"},
		{Role: provider.MessageRoleUser, Content: "q"},
		{Role: provider.MessageRoleAssistant, ToolCalls: []provider.ToolCall{
			{ID: "call_1", Name: "read_document", Arguments: `{"symbol":"A/79/1"}`},
		}},
		{Role: provider.MessageRoleTool, ToolCallID: "call_1", Content: `{"symbol":"A/79/1"}`},
		{Role: provider.MessageRoleAssistant, Content: "done"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	require.NotNil(t, msgs[0].OfSystem)
	require.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[2].OfAssistant.ToolCalls[0].ID)
	assert.Equal(t, "read_document", msgs[2].OfAssistant.ToolCalls[0].Function.Name)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "call_1", msgs[3].OfTool.ToolCallID)
	require.NotNil(t, msgs[4].OfAssistant)

	raw, err := json.Marshal(msgs[2])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `"tool_calls"`))
}

func TestConvertMessages_Errors(t *testing.T) {
	_, err := openai.ConvertMessages([]provider.Message{{Role: "robot", Content: "x"}})
	assert.True(t, sgerr.HasCode(err, sgerr.CodeProviderRequestInvalid))

	_, err = openai.ConvertMessages([]provider.Message{{Role: provider.MessageRoleTool, Content: "x"}})
	assert.True(t, sgerr.HasCode(err, sgerr.CodeProviderRequestInvalid))
}
