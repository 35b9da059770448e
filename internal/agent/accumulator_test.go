// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package agent_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/sgreports-dev/sgreports/internal/agent"
	"github.com/sgreports-dev/sgreports/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// split cuts s into n roughly equal byte chunks (some may be empty when n
// exceeds len(s)).
func split(s string, n int) []string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		lo := i * len(s) / n
		hi := (i + 1) * len(s) / n
		parts[i] = s[lo:hi]
	}
	return parts
}

func TestTurnBuilder_ReconstructsArgumentsAcrossFragmentCounts(t *testing.T) {
	args := `{"query":"SELECT symbol, proper_title FROM documents WHERE un_body ILIKE '%council%' AND date_year = 2024 ORDER BY symbol","explanation":"Council reports from 2024, ünïcødé ok"}`

	for _, n := range []int{1, 2, 3, 7, 16, 64, 128, 257, 500} {
		t.Run(fmt.Sprintf("%d_fragments", n), func(t *testing.T) {
			b := agent.NewTurnBuilder()
			b.Apply(provider.ToolCallFragment{Index: 0, ID: "call_1", Name: "query_database"})
			for _, part := range split(args, n) {
				b.Apply(provider.ToolCallFragment{Index: 0, Arguments: part})
			}

			turn := b.Turn()
			require.Len(t, turn.ToolCalls, 1)
			assert.Equal(t, args, turn.ToolCalls[0].Arguments)

			var decoded map[string]any
			require.NoError(t, json.Unmarshal([]byte(turn.ToolCalls[0].Arguments), &decoded))
			assert.Equal(t, "query_database", turn.ToolCalls[0].Name)
		})
	}
}

func TestTurnBuilder_InterleavedIndexes(t *testing.T) {
	b := agent.NewTurnBuilder()
	b.Apply(provider.ToolCallFragment{Index: 1, ID: "b", Name: "read_document", Arguments: `{"sym`}).
		Apply(provider.ToolCallFragment{Index: 0, ID: "a", Name: "query_database", Arguments: `{"query":`}).
		Apply(provider.ToolCallFragment{Index: 1, Arguments: `bol":"S/1"}`}).
		Apply(provider.ToolCallFragment{Index: 0, Arguments: `"select 1"}`})

	turn := b.Turn()
	require.Len(t, turn.ToolCalls, 2)
	assert.Equal(t, provider.ToolCall{ID: "a", Name: "query_database", Arguments: `{"query":"select 1"}`}, turn.ToolCalls[0])
	assert.Equal(t, provider.ToolCall{ID: "b", Name: "read_document", Arguments: `{"symbol":"S/1"}`}, turn.ToolCalls[1])
}

func TestTurnBuilder_NeverClobbersIDOrName(t *testing.T) {
	b := agent.NewTurnBuilder()
	b.Apply(provider.ToolCallFragment{Index: 0, ID: "first", Name: "read_document"})
	b.Apply(provider.ToolCallFragment{Index: 0, ID: "second", Name: "query_database", Arguments: "{}"})

	turn := b.Turn()
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "first", turn.ToolCalls[0].ID)
	assert.Equal(t, "read_document", turn.ToolCalls[0].Name)
}

func TestTurnBuilder_LateIDFillsBlank(t *testing.T) {
	b := agent.NewTurnBuilder()
	b.Apply(provider.ToolCallFragment{Index: 0, Name: "read_document"})
	b.Apply(provider.ToolCallFragment{Index: 0, ID: "late", Arguments: "{}"})

	turn := b.Turn()
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "late", turn.ToolCalls[0].ID)
}

func TestTurnBuilder_DropsIncompleteSlots(t *testing.T) {
	b := agent.NewTurnBuilder()
	b.Apply(provider.ToolCallFragment{Index: 0, ID: "no-name", Arguments: "{}"})
	b.Apply(provider.ToolCallFragment{Index: 1, Name: "no-id", Arguments: "{}"})
	b.Apply(provider.ToolCallFragment{Index: 2, ID: "ok", Name: "read_document"})

	turn := b.Turn()
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "ok", turn.ToolCalls[0].ID)
}

func TestTurnBuilder_TextUsageAndError(t *testing.T) {
	boom := errors.New("boom")
	b := agent.NewTurnBuilder()
	b.Apply(provider.TextFragment{Text: "Hello"}).
		Apply(provider.UsageFragment{Usage: provider.Usage{InputTokens: 12}}).
		Apply(provider.TextFragment{Text: ", world"}).
		Apply(provider.UsageFragment{Usage: provider.Usage{OutputTokens: 4}}).
		Apply(provider.ErrorFragment{Err: boom}).
		Apply(provider.ErrorFragment{Err: errors.New("second")})

	turn := b.Turn()
	assert.Equal(t, "Hello, world", turn.Text)
	assert.Empty(t, turn.ToolCalls)
	assert.Equal(t, provider.Usage{InputTokens: 12, OutputTokens: 4}, turn.Usage)
	assert.Same(t, boom, b.Err())
}
