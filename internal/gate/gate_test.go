package gate

import (
	"errors"
	"testing"

	"stepflow/internal/registry"
)

func gateStep(failFast bool, handoffFields ...string) *registry.StepDefinition {
	return &registry.StepDefinition{
		StepID:   "continuation.default",
		StepKind: registry.StepKindWork,
		StructuredGate: &registry.StructuredGate{
			AllowedIntents: []string{"next", "repeat", "handoff"},
			IntentField:    "next_action.action",
			FailFast:       failFast,
			HandoffFields:  handoffFields,
		},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"next", "next"},
		{"continue", "next"},
		{"retry", "repeat"},
		{"repeat", "repeat"},
		{"done", "closing"},
		{"finished", "closing"},
		{"complete", "closing"},
		{"closing", "closing"},
		{"escalate", "abort"},
		{"abort", "abort"},
		{"  Done  ", "closing"},
		{"CONTINUE", "next"},
		{"handoff", "handoff"},
		{"launch", "launch"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := Normalize(tt.raw); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestInterpret_ValidIntent(t *testing.T) {
	step := gateStep(true)
	output := []byte(`{"next_action":{"action":"next"},"summary":"did things"}`)

	res, err := Interpret(step, output)
	if err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	if res.NoIntent {
		t.Fatal("Interpret reported NoIntent for present intent")
	}
	if res.Intent != "next" {
		t.Errorf("Intent = %q, want %q", res.Intent, "next")
	}
}

func TestInterpret_AliasedIntent(t *testing.T) {
	step := gateStep(true)
	output := []byte(`{"next_action":{"action":"continue"}}`)

	res, err := Interpret(step, output)
	if err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	if res.Intent != "next" {
		t.Errorf("Intent = %q, want normalized %q", res.Intent, "next")
	}
	if res.RawIntent != "continue" {
		t.Errorf("RawIntent = %q, want %q", res.RawIntent, "continue")
	}
}

func TestInterpret_MissingIntentField(t *testing.T) {
	step := gateStep(true)

	tests := []struct {
		name   string
		output string
	}{
		{"field absent", `{"summary":"no action block"}`},
		{"parent absent", `{}`},
		{"explicit null", `{"next_action":{"action":null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Interpret(step, []byte(tt.output))
			if err != nil {
				t.Fatalf("Interpret returned error: %v", err)
			}
			if !res.NoIntent {
				t.Error("want NoIntent result for absent intent field")
			}
		})
	}
}

func TestInterpret_InvalidIntentFailFast(t *testing.T) {
	step := gateStep(true)
	output := []byte(`{"next_action":{"action":"launch"}}`)

	_, err := Interpret(step, output)
	if err == nil {
		t.Fatal("want InvalidIntentError for out-of-set intent on fail-fast gate")
	}

	var invalid *InvalidIntentError
	if !errors.As(err, &invalid) {
		t.Fatalf("error type = %T, want *InvalidIntentError", err)
	}
	if invalid.Intent != "launch" || invalid.StepID != "continuation.default" {
		t.Errorf("unexpected error details: %+v", invalid)
	}
}

func TestInterpret_InvalidIntentLenient(t *testing.T) {
	step := gateStep(false)
	output := []byte(`{"next_action":{"action":"launch"}}`)

	res, err := Interpret(step, output)
	if err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	if !res.NoIntent {
		t.Error("lenient gate should degrade out-of-set intent to NoIntent")
	}
	if res.RawIntent != "launch" {
		t.Errorf("RawIntent = %q, want preserved raw value", res.RawIntent)
	}
}

func TestInterpret_HandoffExtraction(t *testing.T) {
	step := gateStep(true, "summary", "artifacts", "missing_field")
	output := []byte(`{
		"next_action": {"action": "handoff"},
		"summary": "reviewed",
		"artifacts": ["a.go", "b.go"]
	}`)

	res, err := Interpret(step, output)
	if err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	if res.Handoff["summary"] != "reviewed" {
		t.Errorf("handoff summary = %v", res.Handoff["summary"])
	}
	if _, ok := res.Handoff["artifacts"]; !ok {
		t.Error("handoff missing artifacts")
	}
	if _, ok := res.Handoff["missing_field"]; ok {
		t.Error("absent fields must be skipped, not zeroed")
	}
}

func TestInterpret_IsPure(t *testing.T) {
	step := gateStep(true, "summary")
	output := []byte(`{"next_action":{"action":"next"},"summary":"x"}`)

	first, err := Interpret(step, output)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Interpret(step, output)
	if err != nil {
		t.Fatal(err)
	}
	if first.Intent != second.Intent || first.RawIntent != second.RawIntent {
		t.Error("Interpret is not deterministic for identical input")
	}
}
