// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sgreports-dev/sgreports/internal/provider"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey     string
	BaseURL    string // optional, useful for testing against a mock server
	MaxRetries *int
}

// Provider implements provider.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	health *provider.HealthTracker
}

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, sgerr.New(sgerr.CodeProviderRequestInvalid, "anthropic: missing api_key in config")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*cfg.MaxRetries))
	}

	return &Provider{
		client: anthropicsdk.NewClient(opts...),
		health: provider.NewHealthTracker(provider.DefaultHealthCooldown),
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.Fragment, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan provider.Fragment, 100)
	go func() {
		defer close(ch)
		p.streamChat(ctx, params, ch)
	}()
	return ch, nil
}

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	metrics := p.health.HealthMetrics()
	return provider.ProviderStatus{
		Available: p.Available(ctx),
		Provider:  "anthropic",
		Message:   "ok",
		Health:    &metrics,
	}, nil
}

func (p *Provider) Close() error { return nil }

// buildParams converts a provider.ChatRequest into MessageNewParams. System
// messages are lifted into the top-level system param.
func buildParams(req provider.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	if req.Model == "" {
		return anthropicsdk.MessageNewParams{}, sgerr.New(sgerr.CodeProviderRequestInvalid, "anthropic: model is required")
	}

	msgs, system, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}
	if req.Options.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*req.Options.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

// convertMessages transforms provider messages into MessageParams. Tool
// results that follow one assistant turn are grouped into a single user
// message, which the Messages API requires.
func convertMessages(msgs []provider.Message) ([]anthropicsdk.MessageParam, string, error) {
	var (
		result      []anthropicsdk.MessageParam
		system      []string
		pendingTool bool
	)

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleSystem:
			system = append(system, msg.Content)
			continue
		case provider.MessageRoleUser:
			result = append(result, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		case provider.MessageRoleAssistant:
			blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropicsdk.NewTextBlock(""))
			}
			result = append(result, anthropicsdk.NewAssistantMessage(blocks...))
		case provider.MessageRoleTool:
			if msg.ToolCallID == "" {
				return nil, "", sgerr.New(sgerr.CodeProviderRequestInvalid, "anthropic: tool message without tool_call_id")
			}
			block := anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false)
			if pendingTool {
				last := &result[len(result)-1]
				last.Content = append(last.Content, block)
			} else {
				result = append(result, anthropicsdk.NewUserMessage(block))
			}
			pendingTool = true
			continue
		default:
			return nil, "", sgerr.Errorf(sgerr.CodeProviderRequestInvalid, "anthropic: unsupported message role %q", msg.Role)
		}
		pendingTool = false
	}

	return result, strings.Join(system, "\n\n"), nil
}

// toolInput replays the model's argument text as the tool_use input. Text
// that is not a JSON object is replaced by an empty object.
func toolInput(args string) any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(args), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return json.RawMessage(args)
}

// convertTools transforms tool definitions into SDK tool params.
func convertTools(tools []provider.ToolDefinition) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.Opt(t.Description),
				InputSchema: extractSchema(t.InputSchema),
			},
		})
	}
	return result
}

// extractSchema maps a full JSON Schema object onto ToolInputSchemaParam,
// which carries Properties and Required as separate fields.
func extractSchema(raw map[string]any) anthropicsdk.ToolInputSchemaParam {
	schema := anthropicsdk.ToolInputSchemaParam{}
	if props, ok := raw["properties"]; ok {
		schema.Properties = props
	}
	switch req := raw["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		strs := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				strs = append(strs, s)
			}
		}
		schema.Required = strs
	}
	return schema
}

// streamChat forwards text and tool-use deltas as raw fragments keyed by
// content block index.
func (p *Provider) streamChat(ctx context.Context, params anthropicsdk.MessageNewParams, ch chan<- provider.Fragment) {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		event := stream.Current()

		var frag provider.Fragment
		switch event.Type {
		case "content_block_start":
			if cb := event.ContentBlock; cb.Type == "tool_use" {
				frag = provider.ToolCallFragment{Index: int(event.Index), ID: cb.ID, Name: cb.Name}
			}
		case "content_block_delta":
			switch delta := event.Delta; delta.Type {
			case "text_delta":
				frag = provider.TextFragment{Text: delta.Text}
			case "input_json_delta":
				frag = provider.ToolCallFragment{Index: int(event.Index), Arguments: delta.PartialJSON}
			}
		case "message_start":
			if u := event.Message.Usage; u.InputTokens > 0 {
				frag = provider.UsageFragment{Usage: provider.Usage{InputTokens: int(u.InputTokens)}}
			}
		case "message_delta":
			frag = provider.UsageFragment{Usage: provider.Usage{OutputTokens: int(event.Usage.OutputTokens)}}
		case "message_stop":
			p.health.RecordSuccess()
			return
		}

		if frag == nil {
			continue
		}
		select {
		case ch <- frag:
		case <-ctx.Done():
			return
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() == nil {
			p.health.RecordFailure()
		}
		select {
		case ch <- provider.ErrorFragment{Err: sgerr.Wrap(err, sgerr.CodeProviderUpstreamFailure,
			"anthropic: streaming completion", sgerr.FieldProvider("anthropic"))}:
		case <-ctx.Done():
		}
		return
	}
	p.health.RecordSuccess()
}
