// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package config

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sgreports-dev/sgreports/internal/provider"
	"github.com/sgreports-dev/sgreports/internal/secrets"
	"github.com/sgreports-dev/sgreports/internal/sqlguard"
	"github.com/sgreports-dev/sgreports/internal/store"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// EnvPrefix is prepended to environment overrides, e.g.
// SGREPORTS_DATABASE_QUERY_DSN.
const EnvPrefix = "SGREPORTS"

// Config is the top-level sgreports configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Database DatabaseConfig `mapstructure:"database"`
	SQL      SQLConfig      `mapstructure:"sql"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen          string          `mapstructure:"listen"`
	CORSOrigins     []string        `mapstructure:"cors_origins"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits chat requests per caller identity. Zero values
// disable the corresponding limit.
type RateLimitConfig struct {
	RequestsPerMinute    int `mapstructure:"requests_per_minute"`
	Burst                int `mapstructure:"burst"`
	MaxConcurrentStreams int `mapstructure:"max_concurrent_streams"`
}

// AuthConfig lists the bearer tokens accepted by the server. With no
// tokens configured every request is served as an anonymous caller.
type AuthConfig struct {
	Tokens     []TokenConfig `mapstructure:"tokens"`
	CookieName string        `mapstructure:"cookie_name"`
}

// TokenConfig maps a bearer or session token to a user id.
type TokenConfig struct {
	Token  string `mapstructure:"token"`
	UserID string `mapstructure:"user_id"`
}

// LLMConfig selects the model and holds provider credentials.
type LLMConfig struct {
	Default     string          `mapstructure:"default"`
	Failover    []string        `mapstructure:"failover"`
	MaxTokens   int             `mapstructure:"max_tokens"`
	Temperature *float64        `mapstructure:"temperature"`
	Providers   ProvidersConfig `mapstructure:"providers"`
}

// ProvidersConfig holds one section per supported provider.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `mapstructure:"openai"`
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	Azure     ProviderConfig `mapstructure:"azure"`
	Google    ProviderConfig `mapstructure:"google"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
// Endpoint and APIVersion apply to Azure only.
type ProviderConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Endpoint   string `mapstructure:"endpoint"`
	APIVersion string `mapstructure:"api_version"`
	MaxRetries *int   `mapstructure:"max_retries"`
}

// Configured reports whether the provider has credentials.
func (p ProviderConfig) Configured() bool {
	return p.APIKey != ""
}

// AgentConfig bounds the tool-calling loop.
type AgentConfig struct {
	MaxIterations    int           `mapstructure:"max_iterations"`
	RowLimit         int           `mapstructure:"row_limit"`
	MaxDocumentChars int           `mapstructure:"max_document_chars"`
	SystemPrompt     string        `mapstructure:"system_prompt"`
	SystemPromptFile string        `mapstructure:"system_prompt_file"`
	AuditTimeout     time.Duration `mapstructure:"audit_timeout"`
}

// LoadSystemPrompt returns the prompt file's contents when one is set,
// otherwise the inline prompt.
func (a AgentConfig) LoadSystemPrompt() (string, error) {
	if a.SystemPromptFile == "" {
		return a.SystemPrompt, nil
	}
	data, err := os.ReadFile(a.SystemPromptFile)
	if err != nil {
		return "", sgerr.Wrapf(err, sgerr.CodeConfigLoadReadFailure, "reading system prompt %s", a.SystemPromptFile)
	}
	return strings.TrimSpace(string(data)), nil
}

// DatabaseConfig selects the store backend. DocumentsDSN is the privileged
// application credential; QueryDSN is the restricted credential used for
// model-authored SQL.
type DatabaseConfig struct {
	Backend          string        `mapstructure:"backend"`
	DocumentsDSN     string        `mapstructure:"documents_dsn"`
	QueryDSN         string        `mapstructure:"query_dsn"`
	Schema           string        `mapstructure:"schema"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	EnforceGrants    bool          `mapstructure:"enforce_grants"`
}

// StoreConfig converts the section into the store package's config.
func (d DatabaseConfig) StoreConfig() store.Config {
	return store.Config{
		Backend:          d.Backend,
		DocumentsDSN:     d.DocumentsDSN,
		QueryDSN:         d.QueryDSN,
		Schema:           d.Schema,
		StatementTimeout: d.StatementTimeout,
		MaxOpenConns:     d.MaxOpenConns,
	}
}

// SQLConfig sets the table lists enforced on model-authored SQL.
type SQLConfig struct {
	AllowedTables   []string `mapstructure:"allowed_tables"`
	SensitiveTables []string `mapstructure:"sensitive_tables"`
}

// Policy converts the section into a validator policy.
func (s SQLConfig) Policy() sqlguard.Policy {
	return sqlguard.Policy{AllowedTables: s.AllowedTables, SensitiveTables: s.SensitiveTables}
}

// LoggingConfig controls the default slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var knownProviders = map[string]bool{"openai": true, "anthropic": true, "azure": true, "google": true}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.rate_limit.requests_per_minute", 30)
	v.SetDefault("server.rate_limit.burst", 10)
	v.SetDefault("server.rate_limit.max_concurrent_streams", 3)

	v.SetDefault("auth.cookie_name", "sgr_session")

	v.SetDefault("llm.default", "azure/gpt-5")
	v.SetDefault("llm.failover", []string{})
	v.SetDefault("llm.max_tokens", 4096)
	for name := range knownProviders {
		v.SetDefault("llm.providers."+name+".api_key", "")
		v.SetDefault("llm.providers."+name+".base_url", "")
	}
	v.SetDefault("llm.providers.azure.endpoint", "")
	v.SetDefault("llm.providers.azure.api_version", "2024-08-01-preview")

	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.row_limit", 100)
	v.SetDefault("agent.max_document_chars", 60000)
	v.SetDefault("agent.system_prompt", "")
	v.SetDefault("agent.system_prompt_file", "")
	v.SetDefault("agent.audit_timeout", "10s")

	v.SetDefault("database.backend", "sqlite")
	v.SetDefault("database.documents_dsn", "sgreports.db")
	v.SetDefault("database.query_dsn", "")
	v.SetDefault("database.schema", "public")
	v.SetDefault("database.statement_timeout", "15s")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.enforce_grants", false)

	v.SetDefault("sql.allowed_tables", sqlguard.DefaultAllowedTables)
	v.SetDefault("sql.sensitive_tables", sqlguard.DefaultSensitiveTables)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, sgerr.Errorf(sgerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads configuration from path (or defaults only when path is empty)
// with SGREPORTS_ environment overrides. When s is non-nil, every
// keyring://service/key value is resolved through it before validation.
func Load(path string, s secrets.Store) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	var errs []error
	if s != nil {
		errs = append(errs, secrets.ResolveViper(v, s)...)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, sgerr.Errorf(sgerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	// Token lists are not leaf keys, so viper-level resolution skips them.
	if s != nil {
		for i, t := range cfg.Auth.Tokens {
			val, err := secrets.Resolve(s, t.Token)
			if err != nil {
				errs = append(errs, sgerr.Wrapf(err, sgerr.CodeSecretResolveFailure, "config: auth.tokens[%d].token", i))
				continue
			}
			cfg.Auth.Tokens[i].Token = val
		}
	}

	errs = append(errs, cfg.Validate()...)
	if len(errs) > 0 {
		return nil, sgerr.Errorf(sgerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validateLLM()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func invalid(format string, args ...any) error {
	return sgerr.Errorf(sgerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, invalid("server.listen must not be empty"))
	} else if _, portStr, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, invalid("server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
	} else if port, err := strconv.Atoi(portStr); err != nil {
		errs = append(errs, invalid("server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, invalid("server.listen port must be between 1 and 65535, got %d", port))
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		errs = append(errs, invalid("server timeouts must not be negative"))
	}

	rl := c.Server.RateLimit
	if rl.RequestsPerMinute < 0 || rl.Burst < 0 || rl.MaxConcurrentStreams < 0 {
		errs = append(errs, invalid("server.rate_limit values must not be negative"))
	}
	if rl.RequestsPerMinute > 0 && rl.Burst == 0 {
		errs = append(errs, invalid("server.rate_limit.burst must be positive when requests_per_minute is set"))
	}

	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error

	seen := make(map[string]bool, len(c.Auth.Tokens))
	for i, t := range c.Auth.Tokens {
		if t.Token == "" || t.UserID == "" {
			errs = append(errs, invalid("auth.tokens[%d] must set both token and user_id", i))
			continue
		}
		if seen[t.Token] {
			errs = append(errs, invalid("auth.tokens[%d] duplicates an earlier token", i))
		}
		seen[t.Token] = true
	}
	if c.Auth.CookieName == "" {
		errs = append(errs, invalid("auth.cookie_name must not be empty"))
	}

	return errs
}

func validateRef(field, ref string) error {
	name, model := provider.ParseRef(ref)
	if name == "" || model == "" {
		return invalid("%s must be in \"provider/model\" format, got %q", field, ref)
	}
	if !knownProviders[name] {
		return invalid("%s references unknown provider %q (want openai, anthropic, azure or google)", field, name)
	}
	return nil
}

func (c *Config) validateLLM() []error {
	var errs []error

	if c.LLM.Default == "" {
		errs = append(errs, invalid("llm.default must not be empty"))
	} else if err := validateRef("llm.default", c.LLM.Default); err != nil {
		errs = append(errs, err)
	}
	for i, ref := range c.LLM.Failover {
		if err := validateRef("llm.failover["+strconv.Itoa(i)+"]", ref); err != nil {
			errs = append(errs, err)
		}
	}

	if c.LLM.MaxTokens < 0 {
		errs = append(errs, invalid("llm.max_tokens must not be negative, got %d", c.LLM.MaxTokens))
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, invalid("llm.temperature must be between 0 and 2, got %g", *t))
	}

	az := c.LLM.Providers.Azure
	if az.Configured() && az.Endpoint == "" {
		errs = append(errs, invalid("llm.providers.azure.endpoint is required when an azure api_key is set"))
	}

	return errs
}

func (c *Config) validateAgent() []error {
	var errs []error

	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, invalid("agent.max_iterations must be greater than 0, got %d", c.Agent.MaxIterations))
	}
	if c.Agent.RowLimit <= 0 {
		errs = append(errs, invalid("agent.row_limit must be greater than 0, got %d", c.Agent.RowLimit))
	}
	if c.Agent.MaxDocumentChars <= 0 {
		errs = append(errs, invalid("agent.max_document_chars must be greater than 0, got %d", c.Agent.MaxDocumentChars))
	}
	if c.Agent.SystemPrompt != "" && c.Agent.SystemPromptFile != "" {
		errs = append(errs, invalid("agent.system_prompt and agent.system_prompt_file are mutually exclusive"))
	}
	if c.Agent.AuditTimeout < 0 {
		errs = append(errs, invalid("agent.audit_timeout must not be negative"))
	}

	return errs
}

func (c *Config) validateDatabase() []error {
	var errs []error

	switch c.Database.Backend {
	case "sqlite":
		if c.Database.DocumentsDSN == "" {
			errs = append(errs, invalid("database.documents_dsn must not be empty"))
		}
		if c.Database.EnforceGrants {
			errs = append(errs, invalid("database.enforce_grants requires the postgres backend"))
		}
	case "postgres":
		if c.Database.DocumentsDSN == "" || c.Database.QueryDSN == "" {
			errs = append(errs, invalid("database.documents_dsn and database.query_dsn are both required for postgres"))
		}
	default:
		errs = append(errs, invalid("database.backend must be one of [sqlite, postgres], got %q", c.Database.Backend))
	}

	if c.Database.StatementTimeout <= 0 {
		errs = append(errs, invalid("database.statement_timeout must be greater than 0, got %s", c.Database.StatementTimeout))
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, invalid("database.max_open_conns must not be negative, got %d", c.Database.MaxOpenConns))
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, invalid("logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, invalid("logging.format must be one of [text, json], got %q", c.Logging.Format))
	}

	return errs
}
