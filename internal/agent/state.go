// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package agent

// State is a position in the loop's state machine.
type State int

const (
	stateInit State = iota
	StateAwaitingModel
	StateExecutingTools
	StateDone
	StateError
	StateIterationLimit
)

func (s State) String() string {
	switch s {
	case stateInit:
		return "init"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateIterationLimit:
		return "iteration_limit"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError || s == StateIterationLimit
}
