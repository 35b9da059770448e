// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/sgreports-dev/sgreports/internal/agent"
	"github.com/sgreports-dev/sgreports/internal/audit"
	"github.com/sgreports-dev/sgreports/internal/config"
	"github.com/sgreports-dev/sgreports/internal/provider"
	anthropicprov "github.com/sgreports-dev/sgreports/internal/provider/anthropic"
	googleprov "github.com/sgreports-dev/sgreports/internal/provider/google"
	openaiprov "github.com/sgreports-dev/sgreports/internal/provider/openai"
	"github.com/sgreports-dev/sgreports/internal/server"
	"github.com/sgreports-dev/sgreports/internal/sqlguard"
	"github.com/sgreports-dev/sgreports/internal/store"
	"github.com/sgreports-dev/sgreports/internal/store/postgres"
	_ "github.com/sgreports-dev/sgreports/internal/store/sqlite" // register sqlite backend
	"github.com/sgreports-dev/sgreports/internal/tools"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Server    *server.Server
	Stores    *store.Stores
	Providers *provider.Registry
	Audit     *audit.Logger
	Loop      *agent.Loop
	Tools     *tools.Executor
}

// Wire creates all subsystems from cfg and wires them together. On error
// everything opened so far is closed.
func Wire(ctx context.Context, cfg *config.Config) (app *App, err error) {
	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	// 1. Stores. The privileged and restricted handles share one lifecycle.
	stores, err := store.Open(cfg.Database.StoreConfig())
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeCLISetupFailure, "opening stores")
	}
	cleanup = append(cleanup, func() { _ = stores.Close() })

	validator := sqlguard.New(cfg.SQL.Policy())
	if err := checkGrants(ctx, cfg, stores, validator); err != nil {
		return nil, err
	}

	// 2. Provider registry with default model and failover chain.
	reg := provider.NewRegistry()
	cleanup = append(cleanup, func() { _ = reg.Close() })
	registerBuiltinProviders(cfg, reg)

	if err := reg.SetDefault(cfg.LLM.Default); err != nil {
		name, _ := provider.ParseRef(cfg.LLM.Default)
		return nil, sgerr.Wrapf(err, sgerr.CodeCLISetupFailure,
			"default model %q: set llm.providers.%s.api_key", cfg.LLM.Default, name)
	}
	if len(cfg.LLM.Failover) > 0 {
		if err := reg.SetFailover(cfg.LLM.Failover); err != nil {
			return nil, sgerr.Wrap(err, sgerr.CodeCLISetupFailure, "configuring failover chain")
		}
	}

	// 3. Tools.
	exec, err := tools.New(tools.Config{
		Documents:        stores.Documents,
		Queries:          stores.Queries,
		Validator:        validator,
		RowLimit:         cfg.Agent.RowLimit,
		MaxDocumentChars: cfg.Agent.MaxDocumentChars,
	})
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeCLISetupFailure, "creating tool executor")
	}

	// 4. Interaction logger and agent loop.
	auditLog := audit.New(stores.Interactions, cfg.Agent.AuditTimeout, slog.Default())
	cleanup = append(cleanup, func() { _ = auditLog.Close(context.Background()) })

	prompt, err := cfg.Agent.LoadSystemPrompt()
	if err != nil {
		return nil, err
	}

	loop, err := agent.NewLoop(agent.LoopConfig{
		Router:        reg,
		Tools:         exec,
		Recorder:      auditLog,
		SystemPrompt:  prompt,
		Model:         cfg.LLM.Default,
		MaxIterations: cfg.Agent.MaxIterations,
		Options: provider.ChatOptions{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
	})
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeCLISetupFailure, "creating agent loop")
	}

	// 5. HTTP server.
	srv, err := server.New(server.Config{
		ListenAddr:      cfg.Server.Listen,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Identity:        newIdentityResolver(cfg.Auth.Tokens),
		CookieName:      cfg.Auth.CookieName,
		RateLimit: server.RateLimitConfig{
			RequestsPerMinute:    cfg.Server.RateLimit.RequestsPerMinute,
			Burst:                cfg.Server.RateLimit.Burst,
			MaxConcurrentStreams: cfg.Server.RateLimit.MaxConcurrentStreams,
		},
		Chat:      loop,
		Tools:     exec.Definitions(),
		Database:  stores,
		Providers: reg,
		Version:   version,
	})
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeCLISetupFailure, "creating server")
	}

	return &App{
		Server:    srv,
		Stores:    stores,
		Providers: reg,
		Audit:     auditLog,
		Loop:      loop,
		Tools:     exec,
	}, nil
}

// Close releases subsystems in reverse dependency order. Pending interaction
// records are flushed before the stores close.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Server != nil {
		a.Server.Close()
	}
	if a.Audit != nil {
		if err := a.Audit.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Stores != nil {
		if err := a.Stores.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Providers != nil {
		if err := a.Providers.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkGrants compares the restricted role's privileges with the validator
// allowlist. A mismatch is fatal only when enforce_grants is set.
func checkGrants(ctx context.Context, cfg *config.Config, stores *store.Stores, v *sqlguard.Validator) error {
	if stores.Grants == nil {
		return nil
	}
	report, err := postgres.CheckGrants(ctx, stores.Grants, v.AllowedTables())
	if err == nil {
		slog.Info("restricted role grants match allowlist")
		return nil
	}
	if cfg.Database.EnforceGrants {
		return err
	}
	slog.Warn("restricted role grants do not match allowlist", "report", report.String(), "error", err)
	return nil
}

func newIdentityResolver(tokens []config.TokenConfig) server.IdentityResolver {
	if len(tokens) == 0 {
		return nil
	}
	m := make(map[string]string, len(tokens))
	for _, t := range tokens {
		m[t.Token] = t.UserID
	}
	return server.NewTokenResolver(m)
}

type providerFactory func(pc config.ProviderConfig) (provider.Provider, error)

// builtinProviderFactories maps provider names to their constructors.
// Declared as a variable so tests can inject failing factories.
var builtinProviderFactories = map[string]providerFactory{
	"anthropic": func(pc config.ProviderConfig) (provider.Provider, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, MaxRetries: pc.MaxRetries})
	},
	"openai": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, MaxRetries: pc.MaxRetries})
	},
	"azure": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{
			Name:            "azure",
			APIKey:          pc.APIKey,
			BaseURL:         pc.BaseURL,
			AzureEndpoint:   pc.Endpoint,
			AzureAPIVersion: pc.APIVersion,
			MaxRetries:      pc.MaxRetries,
		})
	},
	"google": func(pc config.ProviderConfig) (provider.Provider, error) {
		return googleprov.New(googleprov.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL})
	},
}

func providerConfigs(cfg *config.Config) map[string]config.ProviderConfig {
	return map[string]config.ProviderConfig{
		"openai":    cfg.LLM.Providers.OpenAI,
		"anthropic": cfg.LLM.Providers.Anthropic,
		"azure":     cfg.LLM.Providers.Azure,
		"google":    cfg.LLM.Providers.Google,
	}
}

// registerBuiltinProviders registers every provider that has credentials.
// Empty API keys and construction failures are logged and skipped; a
// missing default surfaces later from SetDefault.
func registerBuiltinProviders(cfg *config.Config, reg *provider.Registry) {
	pcs := providerConfigs(cfg)
	names := make([]string, 0, len(pcs))
	for name := range pcs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := pcs[name]
		if !pc.Configured() {
			slog.Debug("skipping provider with empty API key", "provider", name)
			continue
		}
		factory, ok := builtinProviderFactories[name]
		if !ok {
			slog.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		p, err := factory(pc)
		if err != nil {
			slog.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		reg.Register(name, p)
		slog.Info("registered provider", "provider", name)
	}
}
