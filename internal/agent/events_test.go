// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package agent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sgreports-dev/sgreports/internal/agent"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   agent.Event
		want string
	}{
		{"tool_start", agent.ToolStart{Name: "read_document", Args: map[string]any{"symbol": "S/1"}},
			`{"type":"tool_start","name":"read_document","args":{"symbol":"S/1"}}`},
		{"tool_result", agent.ToolResultEvent{Name: "query_database", Result: "bad", Success: false},
			`{"type":"tool_result","name":"query_database","result":"bad","success":false}`},
		{"text_delta", agent.TextDelta{Content: "Hi"}, `{"type":"text_delta","content":"Hi"}`},
		{"done", agent.Done{}, `{"type":"done"}`},
		{"error", agent.Failure{Message: "limit", Code: agent.FailureIterationLimit},
			`{"type":"error","message":"limit","code":"iteration_limit"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := agent.MarshalEvent(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))

			back, err := agent.DecodeEvent(string(tt.ev.Kind()), b)
			require.NoError(t, err)
			assert.Equal(t, tt.ev.Kind(), back.Kind())

			byType, err := agent.DecodeEvent("", b)
			require.NoError(t, err)
			assert.Equal(t, tt.ev.Kind(), byType.Kind())
		})
	}
}

func TestDecodeEvent_Unknown(t *testing.T) {
	_, err := agent.DecodeEvent("heartbeat", []byte(`{}`))
	assert.Error(t, err)
}

func TestChannelEmitter_CloseIsIdempotent(t *testing.T) {
	em := agent.NewChannelEmitter(1)
	em.Close()
	assert.NotPanics(t, em.Close)

	_, open := <-em.Events()
	assert.False(t, open)

	err := em.Emit(context.Background(), agent.TextDelta{Content: "late"})
	require.Error(t, err)
	assert.True(t, sgerr.HasCode(err, sgerr.CodeAgentEmitterClosed))
}

func TestChannelEmitter_RejectsAfterTerminal(t *testing.T) {
	em := agent.NewChannelEmitter(4)
	ctx := context.Background()

	require.NoError(t, em.Emit(ctx, agent.TextDelta{Content: "a"}))
	require.NoError(t, em.Emit(ctx, agent.Done{}))
	assert.Error(t, em.Emit(ctx, agent.TextDelta{Content: "b"}))
	assert.Error(t, em.Emit(ctx, agent.Failure{Message: "x"}))
	em.Close()

	var got []agent.EventKind
	for ev := range em.Events() {
		got = append(got, ev.Kind())
	}
	assert.Equal(t, []agent.EventKind{agent.KindTextDelta, agent.KindDone}, got)
}

func TestChannelEmitter_EmitGivesUpOnContext(t *testing.T) {
	em := agent.NewChannelEmitter(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := em.Emit(ctx, agent.TextDelta{Content: "nobody listening"})
	require.Error(t, err)
	assert.True(t, sgerr.IsCancelled(err))
}

func TestChannelEmitter_ConcurrentCloseAndEmit(t *testing.T) {
	em := agent.NewChannelEmitter(0)
	go func() {
		for range em.Events() {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = em.Emit(context.Background(), agent.TextDelta{Content: "x"})
		}()
		go func() {
			defer wg.Done()
			em.Close()
		}()
	}
	wg.Wait()
}
