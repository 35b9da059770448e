// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package agent_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sgreports-dev/sgreports/internal/agent"
	"github.com/sgreports-dev/sgreports/internal/provider"
	"github.com/sgreports-dev/sgreports/internal/store"
	"github.com/sgreports-dev/sgreports/internal/tools"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays one fragment script per Chat call. When the
// script runs out, the last entry repeats.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    [][]provider.Fragment
	requests []provider.ChatRequest
	chatErr  error
	onChat   func(call int)
}

func (p *scriptedProvider) Name() string                   { return "scripted" }
func (p *scriptedProvider) Available(context.Context) bool { return true }
func (p *scriptedProvider) Close() error                   { return nil }

func (p *scriptedProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: true, Provider: "scripted"}, nil
}

func (p *scriptedProvider) Chat(_ context.Context, req provider.ChatRequest) (<-chan provider.Fragment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.onChat != nil {
		p.onChat(len(p.requests))
	}
	if p.chatErr != nil {
		return nil, p.chatErr
	}
	i := len(p.requests) - 1
	if i >= len(p.turns) {
		i = len(p.turns) - 1
	}
	script := p.turns[i]
	ch := make(chan provider.Fragment, len(script))
	for _, f := range script {
		ch <- f
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

type staticRouter struct {
	p   provider.Provider
	err error
}

func (r staticRouter) Route(context.Context, string) (provider.Provider, string, error) {
	if r.err != nil {
		return nil, "", r.err
	}
	return r.p, "test-model", nil
}

// textTurn is a model turn that only answers.
func textTurn(parts ...string) []provider.Fragment {
	var fs []provider.Fragment
	for _, p := range parts {
		fs = append(fs, provider.TextFragment{Text: p})
	}
	return fs
}

// toolTurn is a model turn that requests one tool call.
func toolTurn(id, name, args string) []provider.Fragment {
	return []provider.Fragment{
		provider.ToolCallFragment{Index: 0, ID: id, Name: name},
		provider.ToolCallFragment{Index: 0, Arguments: args},
		provider.UsageFragment{Usage: provider.Usage{InputTokens: 10, OutputTokens: 3}},
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []store.InteractionRecord
}

func (r *fakeRecorder) Record(rec store.InteractionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *fakeRecorder) all() []store.InteractionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.InteractionRecord(nil), r.records...)
}

type fakeDocuments struct {
	docs map[string]*store.Document
}

func (f fakeDocuments) GetDocument(_ context.Context, symbol string) (*store.Document, error) {
	if d, ok := f.docs[symbol]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("document %q: %w", symbol, store.ErrNotFound)
}

type fakeQueries struct {
	mu      sync.Mutex
	rows    []map[string]any
	queries []string
}

func (f *fakeQueries) Query(_ context.Context, q string) (*store.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return &store.QueryResult{Columns: []string{"symbol"}, Rows: f.rows}, nil
}

func (f *fakeQueries) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func newExecutor(t *testing.T, docs map[string]*store.Document, queries *fakeQueries) *tools.Executor {
	t.Helper()
	e, err := tools.New(tools.Config{Documents: fakeDocuments{docs: docs}, Queries: queries})
	require.NoError(t, err)
	return e
}

type panickingTools struct{ *tools.Executor }

func (panickingTools) Execute(context.Context, string, map[string]any) tools.Result {
	panic("tool exploded")
}

// runLoop runs the loop and collects every emitted event until the
// emitter closes.
func runLoop(t *testing.T, ctx context.Context, l *agent.Loop, req agent.Request) (*agent.Outcome, error, []agent.Event) {
	t.Helper()
	em := agent.NewChannelEmitter(4)

	var events []agent.Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range em.Events() {
			events = append(events, ev)
		}
	}()

	out, err := l.Run(ctx, req, em)
	<-done
	return out, err, events
}

func kinds(events []agent.Event) []agent.EventKind {
	out := make([]agent.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

func terminalCount(events []agent.Event) int {
	n := 0
	for _, ev := range events {
		if ev.Kind().Terminal() {
			n++
		}
	}
	return n
}

func intPtr(i int) *int { return &i }

var errUpstream = errors.New("upstream returned 500")
