// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package openai

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/sgreports-dev/sgreports/internal/provider"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// DefaultAzureAPIVersion is the Chat Completions API version used for Azure
// deployments when none is configured.
const DefaultAzureAPIVersion = "2024-08-01-preview"

// Config holds OpenAI provider configuration. Setting AzureEndpoint switches
// the client to an Azure OpenAI resource, where the model name is the
// deployment name.
type Config struct {
	Name            string // registry name, defaults to "openai" or "azure"
	APIKey          string
	BaseURL         string // optional, useful for testing against a mock server
	AzureEndpoint   string
	AzureAPIVersion string
	MaxRetries      *int
}

// Provider implements provider.Provider using the Chat Completions API.
type Provider struct {
	name   string
	client openaisdk.Client
	health *provider.HealthTracker
}

// New creates a new provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, sgerr.New(sgerr.CodeProviderRequestInvalid, "openai: missing api_key in config")
	}

	name := cfg.Name
	var opts []option.RequestOption
	if cfg.AzureEndpoint != "" {
		version := cfg.AzureAPIVersion
		if version == "" {
			version = DefaultAzureAPIVersion
		}
		opts = append(opts,
			azure.WithEndpoint(cfg.AzureEndpoint, version),
			azure.WithAPIKey(cfg.APIKey),
		)
		if name == "" {
			name = "azure"
		}
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		if name == "" {
			name = "openai"
		}
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*cfg.MaxRetries))
	}

	return &Provider{
		name:   name,
		client: openaisdk.NewClient(opts...),
		health: provider.NewHealthTracker(provider.DefaultHealthCooldown),
	}, nil
}

func (p *Provider) Name() string { return p.name }

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
	msg := "ok"
	if !metrics.Available {
		msg = "cooling down after upstream failure"
	}
	return provider.ProviderStatus{
		Available: p.Available(ctx),
		Provider:  p.name,
		Message:   msg,
		Health:    &metrics,
	}, nil
}

func (p *Provider) Close() error { return nil }

// buildParams converts a provider.ChatRequest into ChatCompletionNewParams.
func buildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	if req.Model == "" {
		return openaisdk.ChatCompletionNewParams{}, sgerr.New(sgerr.CodeProviderRequestInvalid, "openai: model is required")
	}

	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Options.MaxTokens))
	}
	if req.Options.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Options.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

// convertMessages maps provider messages onto SDK params, carrying assistant
// tool calls and tool-result correlation ids so the transcript replays intact.
func convertMessages(msgs []provider.Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleSystem:
			result = append(result, openaisdk.SystemMessage(msg.Content))
		case provider.MessageRoleUser:
			result = append(result, openaisdk.UserMessage(msg.Content))
		case provider.MessageRoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, openaisdk.AssistantMessage(msg.Content))
				continue
			}
			asst := openaisdk.ChatCompletionAssistantMessageParam{
				ToolCalls: make([]openaisdk.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls)),
			}
			if msg.Content != "" {
				asst.Content.OfString = param.NewOpt(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			result = append(result, openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case provider.MessageRoleTool:
			if msg.ToolCallID == "" {
				return nil, sgerr.New(sgerr.CodeProviderRequestInvalid, "openai: tool message without tool_call_id")
			}
			result = append(result, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return nil, sgerr.Errorf(sgerr.CodeProviderRequestInvalid, "openai: unsupported message role %q", msg.Role)
		}
	}
	return result, nil
}

// convertTools transforms tool definitions into SDK tool params.
func convertTools(tools []provider.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema),
			},
		})
	}
	return result
}

// streamChat forwards every chunk delta as raw fragments. Tool call
// arguments are not assembled here; the agent's accumulator owns that.
func (p *Provider) streamChat(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- provider.Fragment) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			delta := choice.Delta
			if delta.Content != "" {
				if !send(ctx, ch, provider.TextFragment{Text: delta.Content}) {
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				frag := provider.ToolCallFragment{
					Index:     int(tc.Index),
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}
				if !send(ctx, ch, frag) {
					return
				}
			}
		}

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage := provider.UsageFragment{Usage: provider.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}}
			if !send(ctx, ch, usage) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() == nil {
			p.health.RecordFailure()
		}
		send(ctx, ch, provider.ErrorFragment{
			Err: sgerr.Wrap(err, sgerr.CodeProviderUpstreamFailure, fmt.Sprintf("%s: streaming completion", p.name),
				sgerr.FieldProvider(p.name)),
		})
		return
	}
	p.health.RecordSuccess()
}

func send(ctx context.Context, ch chan<- provider.Fragment, f provider.Fragment) bool {
	select {
	case ch <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
