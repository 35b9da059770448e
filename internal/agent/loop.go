// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

// Package agent runs the bounded tool-calling loop: stream a model turn,
// execute the tools it asks for, feed the results back, and repeat until
// the model answers or the iteration cap is hit.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sgreports-dev/sgreports/internal/provider"
	"github.com/sgreports-dev/sgreports/internal/store"
	"github.com/sgreports-dev/sgreports/internal/tools"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// DefaultMaxIterations caps model calls per interaction.
const DefaultMaxIterations = 10

// terminalEmitTimeout bounds delivery of the final event once the request
// context is gone.
const terminalEmitTimeout = 5 * time.Second

// Router resolves a "provider/model" reference to a provider.
type Router interface {
	Route(ctx context.Context, ref string) (provider.Provider, string, error)
}

// ToolExecutor runs tools on behalf of the model.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) tools.Result
	Definitions() []provider.ToolDefinition
}

// Recorder accepts a finalized interaction. It must not block.
type Recorder interface {
	Record(rec store.InteractionRecord)
}

// LoopHooks provides optional test hooks.
type LoopHooks struct {
	OnStateChange func(from, to State)
	OnModelCall   func(iteration int)
	OnToolResult  func(call provider.ToolCall, res tools.Result)
}

// LoopConfig holds dependencies for the Loop.
type LoopConfig struct {
	Router        Router
	Tools         ToolExecutor
	Recorder      Recorder
	SystemPrompt  string
	Model         string // provider/model ref; empty uses the router default
	MaxIterations int
	Options       provider.ChatOptions
	Hooks         *LoopHooks
	Logger        *slog.Logger
}

// Loop is stateless between requests; each Run owns its own state.
type Loop struct {
	router        Router
	tools         ToolExecutor
	recorder      Recorder
	systemPrompt  string
	model         string
	maxIterations int
	options       provider.ChatOptions
	hooks         *LoopHooks
	logger        *slog.Logger
}

// NewLoop creates a Loop with the given dependencies.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Router == nil {
		return nil, sgerr.New(sgerr.CodeAgentLoopInvalidInput, "Router is required")
	}
	if cfg.Tools == nil {
		return nil, sgerr.New(sgerr.CodeAgentLoopInvalidInput, "Tools is required")
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		router:        cfg.Router,
		tools:         cfg.Tools,
		recorder:      cfg.Recorder,
		systemPrompt:  cfg.SystemPrompt,
		model:         cfg.Model,
		maxIterations: maxIter,
		options:       cfg.Options,
		hooks:         cfg.Hooks,
		logger:        logger,
	}, nil
}

// Request is one inbound chat turn.
type Request struct {
	Messages         []provider.Message
	Prompt           string // used only when Messages is empty
	SessionID        string
	InteractionIndex *int
	UserID           string // resolved by the server, never from the body
	Model            string // overrides LoopConfig.Model when set
}

// Outcome summarizes a finished Run.
type Outcome struct {
	State      State
	Text       string
	ModelCalls int
	ToolCalls  []store.ToolCallLog
	Usage      provider.Usage
	Err        error
}

// Run drives one interaction to a terminal state, emitting events on em.
// em is closed exactly once before Run returns, on every path. The
// returned error is the terminal failure, or nil when the state is Done.
func (l *Loop) Run(ctx context.Context, req Request, em Emitter) (out *Outcome, err error) {
	r := &run{
		loop:     l,
		em:       em,
		req:      req,
		started:  time.Now(),
		modelRef: req.Model,
	}
	if r.modelRef == "" {
		r.modelRef = l.model
	}

	defer em.Close()
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("agent loop panic",
				"panic", p,
				"session_id", req.SessionID,
				"stack", string(debug.Stack()))
			r.terminate(ctx, StateError,
				sgerr.Errorf(sgerr.CodeAgentLoopFailure, "internal error: %v", p), FailureInternal)
			r.finish()
			out, err = r.outcome(), r.err
		}
	}()

	if err := r.prepare(); err != nil {
		r.terminate(ctx, StateError, err, FailureInvalidInput)
	} else {
		r.transition(StateAwaitingModel)
	}

	for !r.state.Terminal() {
		switch r.state {
		case StateAwaitingModel:
			r.awaitModel(ctx)
		case StateExecutingTools:
			r.executeTools(ctx)
		}
	}

	r.finish()
	return r.outcome(), r.err
}

// run is the mutable state of a single Run.
type run struct {
	loop *Loop
	em   Emitter
	req  Request

	state    State
	started  time.Time
	modelRef string
	messages []provider.Message
	pending  []provider.ToolCall
	userText string

	modelCalls int
	text       strings.Builder
	toolLogs   []store.ToolCallLog
	usage      provider.Usage
	err        error
	finished   bool
}

func (r *run) prepare() error {
	var msgs []provider.Message
	if r.loop.systemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: provider.MessageRoleSystem, Content: r.loop.systemPrompt})
	}

	if len(r.req.Messages) == 0 {
		prompt := strings.TrimSpace(r.req.Prompt)
		if prompt == "" {
			return sgerr.New(sgerr.CodeAgentLoopInvalidInput, "either messages or prompt is required")
		}
		r.userText = prompt
		r.messages = append(msgs, provider.Message{Role: provider.MessageRoleUser, Content: prompt})
		return nil
	}

	for _, m := range r.req.Messages {
		if m.Role == provider.MessageRoleUser {
			r.userText = m.Content
		}
	}
	r.messages = append(msgs, r.req.Messages...)
	return nil
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	if h := r.loop.hooks; h != nil && h.OnStateChange != nil {
		h.OnStateChange(from, to)
	}
}

// awaitModel opens one streaming completion and reduces it to a turn.
func (r *run) awaitModel(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		r.terminate(ctx, StateError,
			sgerr.Wrap(err, sgerr.CodeAgentLoopCancelled, "client disconnected"), FailureCancelled)
		return
	}
	if r.modelCalls >= r.loop.maxIterations {
		r.terminate(ctx, StateIterationLimit,
			sgerr.Errorf(sgerr.CodeAgentLoopIterationExceeded,
				"stopped after %d model calls without a final answer", r.loop.maxIterations),
			FailureIterationLimit)
		return
	}

	r.modelCalls++
	if h := r.loop.hooks; h != nil && h.OnModelCall != nil {
		h.OnModelCall(r.modelCalls)
	}

	prov, model, err := r.loop.router.Route(ctx, r.modelRef)
	if err != nil {
		r.terminate(ctx, StateError, err, FailureUpstream)
		return
	}

	stream, err := prov.Chat(ctx, provider.ChatRequest{
		Model:    model,
		Messages: append([]provider.Message(nil), r.messages...),
		Tools:    r.loop.tools.Definitions(),
		Options:  r.loop.options,
	})
	if err != nil {
		r.terminate(ctx, StateError,
			sgerr.Wrapf(err, sgerr.CodeProviderUpstreamFailure, "opening completion on %s", prov.Name()),
			FailureUpstream)
		return
	}

	b := NewTurnBuilder()
	for f := range stream {
		b.Apply(f)
		if _, ok := f.(provider.ErrorFragment); ok {
			break
		}
		tf, ok := f.(provider.TextFragment)
		if !ok || tf.Text == "" {
			continue
		}
		r.text.WriteString(tf.Text)
		if err := r.em.Emit(ctx, TextDelta{Content: tf.Text}); err != nil {
			go drain(stream)
			r.disconnected(ctx, err)
			return
		}
	}
	go drain(stream)

	if err := b.Err(); err != nil {
		r.terminate(ctx, StateError, err, FailureUpstream)
		return
	}
	if err := ctx.Err(); err != nil {
		r.disconnected(ctx, err)
		return
	}

	turn := b.Turn()
	r.usage.InputTokens += turn.Usage.InputTokens
	r.usage.OutputTokens += turn.Usage.OutputTokens
	r.messages = append(r.messages, provider.Message{
		Role:      provider.MessageRoleAssistant,
		Content:   turn.Text,
		ToolCalls: turn.ToolCalls,
	})

	if len(turn.ToolCalls) == 0 {
		r.terminate(ctx, StateDone, nil, "")
		return
	}
	r.pending = turn.ToolCalls
	r.transition(StateExecutingTools)
}

// executeTools runs the pending calls one at a time in emitted order.
// Tools run detached from ctx so an in-flight query completes even if the
// client goes away.
func (r *run) executeTools(ctx context.Context) {
	toolCtx := context.WithoutCancel(ctx)

	for _, call := range r.pending {
		args, parseErr := parseArguments(call.Arguments)

		var shown any = args
		if parseErr != nil {
			shown = call.Arguments
		}
		if err := r.em.Emit(ctx, ToolStart{Name: call.Name, Args: shown}); err != nil {
			r.disconnected(ctx, err)
			return
		}

		started := time.Now()
		var res tools.Result
		if parseErr != nil {
			r.loop.logger.Warn("tool arguments did not parse",
				"tool", call.Name, "call_id", call.ID, "error", parseErr)
			res = tools.Failedf("Invalid arguments for %s: %v", call.Name, parseErr)
		} else {
			res = r.loop.tools.Execute(toolCtx, call.Name, args)
		}

		r.toolLogs = append(r.toolLogs, store.ToolCallLog{
			ID:         call.ID,
			Name:       call.Name,
			Arguments:  call.Arguments,
			Result:     res.Payload,
			Error:      res.Error,
			Success:    res.Success,
			StartedAt:  started,
			FinishedAt: time.Now(),
		})
		r.messages = append(r.messages, provider.Message{
			Role:       provider.MessageRoleTool,
			Content:    res.JSON(),
			ToolCallID: call.ID,
		})
		if h := r.loop.hooks; h != nil && h.OnToolResult != nil {
			h.OnToolResult(call, res)
		}

		if err := r.em.Emit(ctx, ToolResultEvent{Name: call.Name, Result: res.Value(), Success: res.Success}); err != nil {
			r.disconnected(ctx, err)
			return
		}
	}

	r.pending = nil
	r.transition(StateAwaitingModel)
}

func (r *run) disconnected(ctx context.Context, cause error) {
	r.terminate(ctx, StateError,
		sgerr.Wrap(cause, sgerr.CodeAgentLoopCancelled, "client disconnected"), FailureCancelled)
}

// terminate moves to a terminal state and emits the single done or error
// event. Later calls are ignored.
func (r *run) terminate(ctx context.Context, to State, err error, code string) {
	if r.state.Terminal() {
		return
	}
	r.err = err
	r.transition(to)

	var ev Event = Done{}
	if to != StateDone {
		msg := "internal error"
		if err != nil {
			msg = err.Error()
		}
		ev = Failure{Message: msg, Code: code}
		r.loop.logger.Warn("agent loop ended without an answer",
			"state", to.String(),
			"session_id", r.req.SessionID,
			"model_calls", r.modelCalls,
			"error", err)
	}

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalEmitTimeout)
	defer cancel()
	if emitErr := r.em.Emit(emitCtx, ev); emitErr != nil {
		r.loop.logger.Debug("terminal event not delivered",
			"session_id", r.req.SessionID, "error", emitErr)
	}
}

// finish hands the record to the recorder when the interaction is
// addressable.
func (r *run) finish() {
	if r.finished {
		return
	}
	r.finished = true

	if r.loop.recorder == nil || r.req.SessionID == "" || r.req.InteractionIndex == nil {
		return
	}

	now := time.Now()
	rec := store.InteractionRecord{
		ID:               uuid.NewString(),
		SessionID:        r.req.SessionID,
		UserID:           r.req.UserID,
		InteractionIndex: *r.req.InteractionIndex,
		Model:            r.modelRef,
		UserMessage:      r.userText,
		UserMessageAt:    r.started,
		AssistantMessage: r.text.String(),
		ToolCalls:        r.toolLogs,
		ElapsedMS:        now.Sub(r.started).Milliseconds(),
		ModelCalls:       r.modelCalls,
		InputTokens:      r.usage.InputTokens,
		OutputTokens:     r.usage.OutputTokens,
		Completed:        r.state == StateDone,
	}
	if rec.AssistantMessage != "" {
		rec.AssistantMessageAt = &now
	}
	if r.err != nil {
		rec.Error = r.err.Error()
	}
	r.loop.recorder.Record(rec)
}

func (r *run) outcome() *Outcome {
	return &Outcome{
		State:      r.state,
		Text:       r.text.String(),
		ModelCalls: r.modelCalls,
		ToolCalls:  r.toolLogs,
		Usage:      r.usage,
		Err:        r.err,
	}
}

// parseArguments decodes the model's argument text. Empty text means no
// arguments; anything other than a JSON object is an error.
func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if args == nil {
		return nil, fmt.Errorf("arguments are not a JSON object: got null")
	}
	return args, nil
}

// drain consumes the rest of an abandoned stream so the provider goroutine
// can exit.
func drain(ch <-chan provider.Fragment) {
	for range ch {
	}
}
