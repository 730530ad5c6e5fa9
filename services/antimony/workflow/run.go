// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a workflow run's position in its state machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingGate
	StateAwaitingInput
	StateRequestInFlight
	StateSucceeded
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingGate:
		return "awaiting-gate"
	case StateAwaitingInput:
		return "awaiting-input"
	case StateRequestInFlight:
		return "request-in-flight"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ErrInvalidTransition indicates a transition the state machine forbids.
var ErrInvalidTransition = errors.New("invalid workflow transition")

// transitions lists the allowed successors of each state. A request may
// hand control back to the user, as the annotation picker does between
// its query and entity steps, and such a run succeeds from its last input.
var transitions = map[State][]State{
	StateIdle:            {StateAwaitingGate},
	StateAwaitingGate:    {StateAwaitingInput, StateFailed, StateCancelled},
	StateAwaitingInput:   {StateRequestInFlight, StateSucceeded, StateFailed, StateCancelled},
	StateRequestInFlight: {StateAwaitingInput, StateSucceeded, StateFailed},
}

// Run is one execution of a workflow.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Run struct {
	// ID correlates logs and spans for this run.
	ID uuid.UUID

	// Workflow is the command name.
	Workflow string

	// Started is when the run was created.
	Started time.Time

	mu      sync.Mutex
	state   State
	history []State
}

func newRun(workflow string) *Run {
	return &Run{
		ID:       uuid.New(),
		Workflow: workflow,
		Started:  time.Now(),
		state:    StateIdle,
		history:  []State{StateIdle},
	}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// History returns every state the run has been in, in order.
func (r *Run) History() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.history))
	copy(out, r.history)
	return out
}

// to moves the run to next.
func (r *Run) to(next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, allowed := range transitions[r.state] {
		if allowed == next {
			r.state = next
			r.history = append(r.history, next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, next)
}
