// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package agent

import (
	"sort"
	"strings"

	"github.com/sgreports-dev/sgreports/internal/provider"
)

// Turn is one finalized model response.
type Turn struct {
	Text      string
	ToolCalls []provider.ToolCall
	Usage     provider.Usage
}

type toolSlot struct {
	id   string
	name string
	args strings.Builder
}

// TurnBuilder reassembles a streamed model response. Tool-call fragments
// are keyed by index: the first fragment for an index fixes its ID and
// name, later ones only fill blanks and append argument text.
type TurnBuilder struct {
	text  strings.Builder
	slots map[int]*toolSlot
	usage provider.Usage
	err   error
}

// NewTurnBuilder returns an empty builder.
func NewTurnBuilder() *TurnBuilder {
	return &TurnBuilder{slots: make(map[int]*toolSlot)}
}

// Apply folds one fragment into the builder and returns it.
func (b *TurnBuilder) Apply(f provider.Fragment) *TurnBuilder {
	switch f := f.(type) {
	case provider.TextFragment:
		b.text.WriteString(f.Text)
	case provider.ToolCallFragment:
		slot, ok := b.slots[f.Index]
		if !ok {
			slot = &toolSlot{}
			b.slots[f.Index] = slot
		}
		if slot.id == "" {
			slot.id = f.ID
		}
		if slot.name == "" {
			slot.name = f.Name
		}
		slot.args.WriteString(f.Arguments)
	case provider.UsageFragment:
		if f.Usage.InputTokens > 0 {
			b.usage.InputTokens = f.Usage.InputTokens
		}
		if f.Usage.OutputTokens > 0 {
			b.usage.OutputTokens = f.Usage.OutputTokens
		}
	case provider.ErrorFragment:
		if b.err == nil {
			b.err = f.Err
		}
	}
	return b
}

// Err returns the first stream error seen, if any.
func (b *TurnBuilder) Err() error {
	return b.err
}

// Turn finalizes the accumulated state. Tool calls come out in ascending
// index order; slots that never received both an ID and a name are dropped.
func (b *TurnBuilder) Turn() Turn {
	indexes := make([]int, 0, len(b.slots))
	for i := range b.slots {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	turn := Turn{Text: b.text.String(), Usage: b.usage}
	for _, i := range indexes {
		slot := b.slots[i]
		if slot.id == "" || slot.name == "" {
			continue
		}
		turn.ToolCalls = append(turn.ToolCalls, provider.ToolCall{
			ID:        slot.id,
			Name:      slot.name,
			Arguments: slot.args.String(),
		})
	}
	return turn
}
