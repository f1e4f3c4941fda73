package router

import (
	"errors"
	"testing"

	"stepflow/internal/registry"
)

func strptr(s string) *string { return &s }

func closureStep() *registry.StepDefinition {
	return &registry.StepDefinition{
		StepID:   "closure.default",
		StepKind: registry.StepKindClosure,
		StructuredGate: &registry.StructuredGate{
			AllowedIntents: []string{"closing", "repeat"},
			IntentField:    "next_action.action",
		},
		Transitions: map[string]registry.Transition{
			"closing": {Target: nil},
			"repeat":  {Target: strptr("closure.default")},
		},
	}
}

func TestRoute(t *testing.T) {
	workStep := &registry.StepDefinition{
		StepID:   "initial.default",
		StepKind: registry.StepKindWork,
		Transitions: map[string]registry.Transition{
			"next":   {Target: strptr("continuation.default")},
			"repeat": {Target: strptr("initial.default")},
		},
	}

	tests := []struct {
		name         string
		step         *registry.StepDefinition
		intent       string
		wantNext     string
		wantTerminal bool
		wantErr      error
	}{
		{
			name:     "next routes to the following step",
			step:     workStep,
			intent:   "next",
			wantNext: "continuation.default",
		},
		{
			name:     "repeat routes back to the same step",
			step:     workStep,
			intent:   "repeat",
			wantNext: "initial.default",
		},
		{
			name:         "closing on a closure step is terminal",
			step:         closureStep(),
			intent:       "closing",
			wantTerminal: true,
		},
		{
			name:    "unknown intent returns ErrNoTransition",
			step:    workStep,
			intent:  "handoff",
			wantErr: ErrNoTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Route(tt.step, tt.intent)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Route err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Route returned error: %v", err)
			}
			if got.Next != tt.wantNext {
				t.Errorf("Next = %q, want %q", got.Next, tt.wantNext)
			}
			if got.Terminal != tt.wantTerminal {
				t.Errorf("Terminal = %v, want %v", got.Terminal, tt.wantTerminal)
			}
		})
	}
}

func TestRoute_IsPure(t *testing.T) {
	step := closureStep()

	first, err := Route(step, "closing")
	if err != nil {
		t.Fatal(err)
	}
	second, err := Route(step, "closing")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("Route not idempotent: %+v vs %+v", first, second)
	}

	// Routing must not have touched the step definition.
	if len(step.Transitions) != 2 {
		t.Error("Route mutated the step's transitions")
	}
}
