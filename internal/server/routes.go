// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

const healthCheckTimeout = 3 * time.Second

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status    string                    `json:"status" example:"ok" doc:"ok, or degraded when the database is unreachable"`
	Database  string                    `json:"database" example:"ok" doc:"Database status"`
	Providers map[string]ProviderHealth `json:"providers" doc:"Status per registered LLM provider"`
}

// ProviderHealth reports whether a provider is taking requests. A provider
// that failed upstream stays unavailable until its cooldown ends.
type ProviderHealth struct {
	Available     bool       `json:"available"`
	Message       string     `json:"message,omitempty"`
	FailureCount  int64      `json:"failure_count,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

// ToolInfo describes one tool offered to the model.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type listToolsOutput struct {
	Body struct {
		Tools []ToolInfo `json:"tools"`
	}
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, s.handleHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/api/v1/tools",
		Summary:     "List the tools available to the assistant",
		Tags:        []string{"chat"},
	}, s.handleListTools)
}

func (s *Server) handleHealth(ctx context.Context, _ *struct{}) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	body := HealthBody{Status: "ok", Database: "ok", Providers: map[string]ProviderHealth{}}
	if s.cfg.Database != nil {
		if err := s.cfg.Database.Ping(ctx); err != nil {
			body.Status = "degraded"
			body.Database = "unreachable"
		}
	}
	if s.cfg.Providers != nil {
		for _, name := range s.cfg.Providers.Names() {
			body.Providers[name] = s.providerHealth(ctx, name)
		}
	}
	return &HealthResponse{Body: body}, nil
}

func (s *Server) providerHealth(ctx context.Context, name string) ProviderHealth {
	p, err := s.cfg.Providers.Get(name)
	if err != nil {
		return ProviderHealth{Message: err.Error()}
	}
	st, err := p.Status(ctx)
	if err != nil {
		return ProviderHealth{Message: err.Error()}
	}
	h := ProviderHealth{Available: st.Available, Message: st.Message}
	if st.Health != nil {
		h.FailureCount = st.Health.FailureCount
		h.CooldownUntil = st.Health.CooldownUntil
	}
	return h
}

func (s *Server) handleListTools(_ context.Context, _ *struct{}) (*listToolsOutput, error) {
	out := &listToolsOutput{}
	out.Body.Tools = make([]ToolInfo, 0, len(s.cfg.Tools))
	for _, t := range s.cfg.Tools {
		out.Body.Tools = append(out.Body.Tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return out, nil
}
