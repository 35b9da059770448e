// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

// Package tools implements the model-callable tools. Every outcome,
// including bad arguments and database errors, is returned as a Result the
// model can read and react to.
package tools

import (
	"context"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sgreports-dev/sgreports/internal/provider"
	"github.com/sgreports-dev/sgreports/internal/sqlguard"
	"github.com/sgreports-dev/sgreports/internal/store"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// Defaults applied when Config leaves a limit unset.
const (
	DefaultRowLimit         = 100
	DefaultMaxDocumentChars = 60000
)

// Config holds dependencies for Executor.
type Config struct {
	Documents store.DocumentReader
	Queries   store.QueryRunner
	Validator *sqlguard.Validator

	RowLimit         int
	MaxDocumentChars int
	Logger           *slog.Logger
}

type handler func(ctx context.Context, args map[string]any) Result

type tool struct {
	def    provider.ToolDefinition
	schema *gojsonschema.Schema
	run    handler
}

// Executor dispatches tool calls by name.
type Executor struct {
	documents store.DocumentReader
	queries   store.QueryRunner
	validator *sqlguard.Validator
	rowLimit  int
	maxChars  int
	logger    *slog.Logger

	order []string
	tools map[string]*tool
}

// New creates an Executor with read_document and query_database registered.
func New(cfg Config) (*Executor, error) {
	if cfg.Documents == nil {
		return nil, sgerr.New(sgerr.CodeToolSchemaInvalid, "tools: document reader is required")
	}
	if cfg.Queries == nil {
		return nil, sgerr.New(sgerr.CodeToolSchemaInvalid, "tools: query runner is required")
	}

	e := &Executor{
		documents: cfg.Documents,
		queries:   cfg.Queries,
		validator: cfg.Validator,
		rowLimit:  cfg.RowLimit,
		maxChars:  cfg.MaxDocumentChars,
		logger:    cfg.Logger,
		tools:     make(map[string]*tool),
	}
	if e.validator == nil {
		e.validator = sqlguard.Default()
	}
	if e.rowLimit <= 0 {
		e.rowLimit = DefaultRowLimit
	}
	if e.maxChars <= 0 {
		e.maxChars = DefaultMaxDocumentChars
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	if err := e.register(provider.ToolDefinition{
		Name:        ReadDocument,
		Description: readDocumentDescription,
		InputSchema: readDocumentSchema(),
	}, e.readDocument); err != nil {
		return nil, err
	}
	if err := e.register(provider.ToolDefinition{
		Name:        QueryDatabase,
		Description: queryDatabaseDescription(e.validator.AllowedTables(), e.rowLimit),
		InputSchema: queryDatabaseSchema(),
	}, e.queryDatabase); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Executor) register(def provider.ToolDefinition, run handler) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
	if err != nil {
		return sgerr.Wrap(err, sgerr.CodeToolSchemaInvalid, "compiling schema", sgerr.FieldTool(def.Name))
	}
	e.order = append(e.order, def.Name)
	e.tools[def.Name] = &tool{def: def, schema: schema, run: run}
	return nil
}

// Definitions returns the tool definitions handed to the model, in
// registration order.
func (e *Executor) Definitions() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(e.order))
	for _, name := range e.order {
		defs = append(defs, e.tools[name].def)
	}
	return defs
}

// Execute runs the named tool. It never returns a Go error; failures are
// reported in the Result so the model can correct itself.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) Result {
	t, ok := e.tools[name]
	if !ok {
		e.logger.Warn("unknown tool requested", "tool", name)
		return Failedf("Unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}

	if msg := validate(t.schema, args); msg != "" {
		e.logger.Warn("tool arguments rejected by schema", "tool", name, "reason", msg)
		return Failedf("Invalid arguments for %s: %s", name, msg)
	}

	res := t.run(ctx, args)
	if !res.Success {
		e.logger.Warn("tool execution failed", "tool", name, "error", res.Error)
	}
	return res
}

func validate(schema *gojsonschema.Schema, args map[string]any) string {
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err.Error()
	}
	if result.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return strings.Join(msgs, "; ")
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
