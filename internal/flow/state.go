package flow

import "github.com/google/uuid"

// State is the single mutable object for one run.
//
// It is created at run start, exclusively owned and mutated by the
// orchestrator loop, and discarded at run end. States are never shared
// between runs; the registry they execute against is the shared, read-only
// part.
type State struct {
	// RunID uniquely identifies this run in logs and summaries.
	RunID string

	// CurrentStepID is the step the next iteration will execute.
	CurrentStepID string

	// Iteration is the number of completed iterations.
	Iteration int

	// Handoff accumulates the handoff fields produced by each step's
	// structured output. Iteration n+1's prompt resolution always observes
	// the handoff data produced by iteration n.
	Handoff map[string]any
}

// NewState creates the state for a run starting at the given entry step.
func NewState(entryStepID string) *State {
	return &State{
		RunID:         uuid.NewString(),
		CurrentStepID: entryStepID,
		Handoff:       make(map[string]any),
	}
}

// MergeHandoff folds a step's extracted handoff fields into the accumulated
// handoff data. Later values win.
func (s *State) MergeHandoff(handoff map[string]any) {
	for k, v := range handoff {
		s.Handoff[k] = v
	}
}
