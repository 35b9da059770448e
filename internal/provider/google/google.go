// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

// Package google streams Gemini completions through the genai SDK.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/sgreports-dev/sgreports/internal/provider"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// syntheticIDPrefix marks call ids minted locally for function calls the
// Gemini API returned without one. They are never sent back upstream.
const syntheticIDPrefix = "gemini-call-"

// Config holds Gemini provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Provider implements provider.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	health *provider.HealthTracker
}

// New creates a Gemini provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, sgerr.New(sgerr.CodeProviderRequestInvalid, "google: missing api_key in config")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeProviderRequestInvalid, "google: creating client")
	}

	return &Provider{
		client: client,
		health: provider.NewHealthTracker(provider.DefaultHealthCooldown),
	}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.Fragment, error) {
	if req.Model == "" {
		return nil, sgerr.New(sgerr.CodeProviderRequestInvalid, "google: model is required")
	}
	contents, system, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	config := buildConfig(req, system)

	ch := make(chan provider.Fragment, 100)
	go func() {
		defer close(ch)
		p.streamChat(ctx, req.Model, contents, config, ch)
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
		Provider:  "google",
		Message:   msg,
		Health:    &metrics,
	}, nil
}

func (p *Provider) Close() error { return nil }

func buildConfig(req provider.ChatRequest, system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.Options.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Options.Temperature))
	}
	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(req.Tools) > 0 {
		cfg.Tools = convertTools(req.Tools)
	}
	return cfg
}

// convertMessages maps the transcript onto Gemini contents. System messages
// become the system instruction. Consecutive tool results share one user
// turn, and each carries the function name recovered from the assistant
// call it answers.
func convertMessages(msgs []provider.Message) ([]*genai.Content, string, error) {
	var (
		result      []*genai.Content
		system      []string
		pendingTool bool
	)
	callNames := map[string]string{}

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleSystem:
			system = append(system, msg.Content)
			continue
		case provider.MessageRoleUser:
			result = append(result, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		case provider.MessageRoleAssistant:
			content := &genai.Content{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   upstreamID(tc.ID),
					Name: tc.Name,
					Args: callArgs(tc.Arguments),
				}})
			}
			if len(content.Parts) == 0 {
				content.Parts = append(content.Parts, &genai.Part{Text: ""})
			}
			result = append(result, content)
		case provider.MessageRoleTool:
			name, ok := callNames[msg.ToolCallID]
			if !ok {
				return nil, "", sgerr.Errorf(sgerr.CodeProviderRequestInvalid,
					"google: tool result %q does not answer an earlier call", msg.ToolCallID)
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       upstreamID(msg.ToolCallID),
				Name:     name,
				Response: toolResponse(msg.Content),
			}}
			if pendingTool {
				last := result[len(result)-1]
				last.Parts = append(last.Parts, part)
			} else {
				result = append(result, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
			}
			pendingTool = true
			continue
		default:
			return nil, "", sgerr.Errorf(sgerr.CodeProviderRequestInvalid, "google: unsupported message role %q", msg.Role)
		}
		pendingTool = false
	}

	return result, strings.Join(system, "\n\n"), nil
}

func upstreamID(id string) string {
	if strings.HasPrefix(id, syntheticIDPrefix) {
		return ""
	}
	return id
}

// callArgs decodes the model's argument text. Text that is not a JSON object
// is replayed as an empty object.
func callArgs(args string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(args), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

// toolResponse passes a JSON object result through and wraps anything else
// under "result".
func toolResponse(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"result": content}
}

func convertTools(tools []provider.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.InputSchema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// streamChat forwards text parts and function calls as fragments. Gemini
// delivers each function call whole, so every call gets its own index and a
// single fragment carrying id, name and the full argument text.
func (p *Provider) streamChat(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	ch chan<- provider.Fragment,
) {
	next := 0
	var usage *genai.GenerateContentResponseUsageMetadata

	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			if ctx.Err() == nil {
				p.health.RecordFailure()
			}
			send(ctx, ch, provider.ErrorFragment{
				Err: sgerr.Wrap(err, sgerr.CodeProviderUpstreamFailure, "google: streaming completion",
					sgerr.FieldProvider("google")),
			})
			return
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Thought {
					continue
				}
				if part.Text != "" {
					if !send(ctx, ch, provider.TextFragment{Text: part.Text}) {
						return
					}
				}
				if fc := part.FunctionCall; fc != nil {
					args, err := json.Marshal(fc.Args)
					if err != nil || fc.Args == nil {
						args = []byte("{}")
					}
					id := fc.ID
					if id == "" {
						id = fmt.Sprintf("%s%d", syntheticIDPrefix, next)
					}
					frag := provider.ToolCallFragment{Index: next, ID: id, Name: fc.Name, Arguments: string(args)}
					next++
					if !send(ctx, ch, frag) {
						return
					}
				}
			}
		}
		if resp.UsageMetadata != nil {
			usage = resp.UsageMetadata
		}
	}

	// Usage metadata is cumulative, so only the last report counts.
	if usage != nil {
		send(ctx, ch, provider.UsageFragment{Usage: provider.Usage{
			InputTokens:  int(usage.PromptTokenCount),
			OutputTokens: int(usage.CandidatesTokenCount),
		}})
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
