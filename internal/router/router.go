// Package router turns a step's validated intent into a transition.
//
// The router is a total, side-effect-free lookup over the step's transitions
// map: validation at registry load time guarantees that every allowed intent
// has a transition and that every non-nil target names an existing step, so
// the router itself performs no validation. An explicitly null target is the
// terminal signal, which the registry invariants make reachable only from a
// closing intent on a closure step.
package router

import (
	"errors"
	"fmt"

	"stepflow/internal/registry"
)

// ErrNoTransition is a sentinel error indicating the intent has no
// transition on the step. A validated registry makes this unreachable
// through the gate; seeing it means the gate was bypassed.
var ErrNoTransition = errors.New("no transition for intent")

// Decision is the routing outcome for one intent.
type Decision struct {
	// Next is the id of the next step. Empty when Terminal is set.
	Next string

	// Terminal reports that the flow has reached structural completion:
	// the transition's target was explicitly null.
	Terminal bool
}

// Route looks up the transition for an intent on a step.
//
// Route is a pure function: calling it twice with the same arguments
// returns the same decision and mutates no state.
func Route(step *registry.StepDefinition, intent string) (Decision, error) {
	tr, ok := step.Transitions[intent]
	if !ok {
		return Decision{}, fmt.Errorf("%w: step %s, intent %s", ErrNoTransition, step.StepID, intent)
	}
	if tr.Target == nil {
		return Decision{Terminal: true}, nil
	}
	return Decision{Next: *tr.Target}, nil
}
