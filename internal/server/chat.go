// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sgreports-dev/sgreports/internal/agent"
	"github.com/sgreports-dev/sgreports/internal/provider"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

const (
	chatStreamPath  = "/api/v1/chat/stream"
	maxChatBodySize = 1 << 20
)

// ChatMessage is one prior turn supplied by the client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatStreamRequest is the request body for the streaming chat endpoint.
// The caller's user id never comes from the body.
type ChatStreamRequest struct {
	Messages         []ChatMessage `json:"messages"`
	Prompt           string        `json:"prompt,omitempty"`
	SessionID        string        `json:"session_id,omitempty"`
	InteractionIndex *int          `json:"interaction_index,omitempty"`
}

// toAgentRequest validates the body and converts it for the loop. Only the
// user and assistant roles are accepted from clients.
func (c ChatStreamRequest) toAgentRequest(id Identity) (agent.Request, error) {
	msgs := make([]provider.Message, 0, len(c.Messages))
	for i, m := range c.Messages {
		var role provider.MessageRole
		switch m.Role {
		case "user":
			role = provider.MessageRoleUser
		case "assistant":
			role = provider.MessageRoleAssistant
		default:
			return agent.Request{}, sgerr.Errorf(sgerr.CodeServerRequestInvalid,
				"messages[%d].role must be user or assistant, got %q", i, m.Role)
		}
		msgs = append(msgs, provider.Message{Role: role, Content: m.Content})
	}
	if len(msgs) == 0 && strings.TrimSpace(c.Prompt) == "" {
		return agent.Request{}, sgerr.New(sgerr.CodeServerRequestInvalid, "messages or prompt is required")
	}
	if c.InteractionIndex != nil && *c.InteractionIndex < 0 {
		return agent.Request{}, sgerr.New(sgerr.CodeServerRequestInvalid, "interaction_index must not be negative")
	}

	return agent.Request{
		Messages:         msgs,
		Prompt:           c.Prompt,
		SessionID:        c.SessionID,
		InteractionIndex: c.InteractionIndex,
		UserID:           id.UserID,
	}, nil
}

func (s *Server) registerChatRoute() {
	s.router.Post(chatStreamPath, s.handleChatStream)

	// The handler needs the raw ResponseWriter to flush SSE frames, so the
	// operation is added to the OpenAPI document by hand.
	minIndex := 0.0
	messageSchema := &huma.Schema{
		Type:     "object",
		Required: []string{"role", "content"},
		Properties: map[string]*huma.Schema{
			"role":    {Type: "string", Enum: []any{"user", "assistant"}},
			"content": {Type: "string"},
		},
	}
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat-stream",
		Method:      http.MethodPost,
		Path:        chatStreamPath,
		Summary:     "Ask the research assistant",
		Description: "Runs the tool-calling agent over the message history. Set Accept: text/event-stream for SSE " +
			"(events tool_start, tool_result, text_delta, then exactly one of done or error); otherwise the " +
			"collected events are returned as JSON.",
		Tags: []string{"chat"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type: "object",
						Properties: map[string]*huma.Schema{
							"messages":          {Type: "array", Items: messageSchema, Description: "Ordered history"},
							"prompt":            {Type: "string", Description: "Seed prompt, used only when messages is empty"},
							"session_id":        {Type: "string", Description: "Session identifier for interaction logging"},
							"interaction_index": {Type: "integer", Minimum: &minIndex, Description: "Ordinal of this interaction in the session"},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Event stream (SSE or JSON depending on Accept header)",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {Schema: &huma.Schema{Type: "string"}},
					"application/json": {
						Schema: &huma.Schema{
							Type: "object",
							Properties: map[string]*huma.Schema{
								"events": {Type: "array", Items: &huma.Schema{Type: "object"}},
							},
						},
					},
				},
			},
			"400": {Description: "Malformed body or disallowed role"},
			"401": {Description: "Missing or invalid credentials"},
			"429": {Description: "Rate limit exceeded"},
			"503": {Description: "Agent not configured"},
		},
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}

	var body ChatStreamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodySize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, _ := IdentityFromContext(r.Context())
	req, err := body.toAgentRequest(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, keyType := limiterKey(r.Context())
	if !s.limiter.allowRequest(key) {
		slog.Warn("chat rate limit exceeded", "key_type", keyType, "key_hash", hashKey(key))
		writeTooManyRequests(w, "rate limit exceeded")
		return
	}
	if !s.limiter.acquireStream(key) {
		slog.Warn("chat stream concurrency limit exceeded", "key_type", keyType, "key_hash", hashKey(key))
		writeTooManyRequests(w, "too many active chat streams")
		return
	}
	defer s.limiter.releaseStream(key)

	em := agent.NewChannelEmitter(s.cfg.EventBuffer)
	go func() {
		if _, err := s.cfg.Chat.Run(r.Context(), req, em); err != nil {
			slog.Debug("chat run ended with error", "session_id", req.SessionID, "error", err)
		}
	}()

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeSSE(w, em.Events())
		return
	}
	writeEventsJSON(w, em.Events())
}

// writeSSE writes one frame per event and flushes after each. Once a write
// fails the remaining events are drained so the loop is never blocked on a
// gone client.
func writeSSE(w http.ResponseWriter, events <-chan agent.Event) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	broken := false
	for ev := range events {
		if broken {
			continue
		}
		data, err := agent.MarshalEvent(ev)
		if err != nil {
			slog.Error("encoding event", "kind", ev.Kind(), "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind(), data); err != nil {
			broken = true
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeEventsJSON(w http.ResponseWriter, events <-chan agent.Event) {
	collected := make([]json.RawMessage, 0, 16)
	for ev := range events {
		data, err := agent.MarshalEvent(ev)
		if err != nil {
			slog.Error("encoding event", "kind", ev.Kind(), "error", err)
			continue
		}
		collected = append(collected, data)
	}

	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Events []json.RawMessage `json:"events"`
	}{Events: collected}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Debug("writing chat response", "error", err)
	}
}
