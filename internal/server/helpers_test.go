// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package server_test

import (
	"bufio"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sgreports-dev/sgreports/internal/agent"
	"github.com/sgreports-dev/sgreports/internal/provider"
	"github.com/sgreports-dev/sgreports/internal/server"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	srv, err := server.New(cfg)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

// fakeRunner emits a fixed event sequence and records the request.
type fakeRunner struct {
	mu     sync.Mutex
	events []agent.Event
	got    []agent.Request
}

func (f *fakeRunner) Run(ctx context.Context, req agent.Request, em agent.Emitter) (*agent.Outcome, error) {
	defer em.Close()
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()
	for _, ev := range f.events {
		if err := em.Emit(ctx, ev); err != nil {
			return nil, err
		}
	}
	return &agent.Outcome{State: agent.StateDone}, nil
}

func (f *fakeRunner) requests() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.got...)
}

// scriptedProvider replays one fragment script per Chat call.
type scriptedProvider struct {
	mu    sync.Mutex
	turns [][]provider.Fragment
	calls int
}

func (p *scriptedProvider) Name() string                   { return "scripted" }
func (p *scriptedProvider) Available(context.Context) bool { return true }
func (p *scriptedProvider) Close() error                   { return nil }

func (p *scriptedProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: true, Provider: "scripted"}, nil
}

func (p *scriptedProvider) Chat(context.Context, provider.ChatRequest) (<-chan provider.Fragment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := min(p.calls, len(p.turns)-1)
	p.calls++
	ch := make(chan provider.Fragment, len(p.turns[i]))
	for _, f := range p.turns[i] {
		ch <- f
	}
	close(ch)
	return ch, nil
}

type sseFrame struct {
	event string
	data  string
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.event != "" || cur.data != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		}
	}
	require.NoError(t, scanner.Err())
	return frames
}

// coolingProvider reports a recent upstream failure.
type coolingProvider struct{ scriptedProvider }

func (p *coolingProvider) Available(context.Context) bool { return false }

func (p *coolingProvider) Status(context.Context) (provider.ProviderStatus, error) {
	h := provider.NewHealthTracker(time.Minute)
	h.RecordFailure()
	h.RecordFailure()
	m := h.HealthMetrics()
	return provider.ProviderStatus{Provider: "scripted", Message: "cooling down after upstream failure", Health: &m}, nil
}
