package flow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepflow/internal/completion"
	"stepflow/internal/registry"
	"stepflow/internal/schemaref"
)

// flowRegistryJSON is the three-step scenario graph:
// initial.default -(next)-> continuation.default -(handoff)-> closure.default -(closing)-> terminal.
const flowRegistryJSON = `{
  "agentId": "worker",
  "version": "1.0",
  "entryStepMapping": {
    "stepMachine": "initial.default",
    "iterationBudget": "initial.default",
    "structuredSignal": "initial.default",
    "keywordSignal": "initial.default"
  },
  "pathTemplate": "prompts/{c1}/{c2}/{c3}.md",
  "steps": {
    "initial.default": {
      "stepKind": "work",
      "outputSchemaRef": {"file": "worker.schema.json", "schema": "#/definitions/initial.default"},
      "structuredGate": {
        "allowedIntents": ["next", "repeat"],
        "intentField": "next_action.action",
        "failFast": true,
        "handoffFields": ["summary"]
      },
      "transitions": {
        "next": {"target": "continuation.default"},
        "repeat": {"target": "initial.default"}
      }
    },
    "continuation.default": {
      "stepKind": "verification",
      "outputSchemaRef": {"file": "worker.schema.json", "schema": "#/definitions/continuation.default"},
      "structuredGate": {
        "allowedIntents": ["next", "repeat", "handoff"],
        "intentField": "next_action.action",
        "failFast": true,
        "handoffFields": ["summary"]
      },
      "transitions": {
        "next": {"target": "continuation.default"},
        "repeat": {"target": "continuation.default"},
        "handoff": {"target": "closure.default"}
      }
    },
    "closure.default": {
      "stepKind": "closure",
      "outputSchemaRef": {"file": "worker.schema.json", "schema": "#/definitions/closure.default"},
      "structuredGate": {
        "allowedIntents": ["closing", "repeat"],
        "intentField": "next_action.action",
        "failFast": true
      },
      "transitions": {
        "closing": {"target": null},
        "repeat": {"target": "closure.default"}
      }
    }
  }
}`

// flowSchemaJSON keeps the schema permissive so the gate remains the layer
// under test; schema-level enforcement has its own cases.
const flowSchemaJSON = `{
  "definitions": {
    "initial.default": {"type": "object"},
    "continuation.default": {"type": "object"},
    "closure.default": {"type": "object"}
  }
}`

type fixture struct {
	registry *registry.Registry
	resolver *schemaref.Resolver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(tmpDir, "worker.schema.json"), []byte(flowSchemaJSON), 0644))

	reg, err := registry.Parse([]byte(flowRegistryJSON), registry.Options{})
	require.NoError(t, err)

	return fixture{
		registry: reg,
		resolver: schemaref.NewResolver(tmpDir, nil),
	}
}

func newOrchestrator(t *testing.T, fx fixture, collab Collaborator, hook BoundaryHook, cfg completion.Config) *Orchestrator {
	t.Helper()
	handler, err := completion.New(cfg, completion.Deps{})
	require.NoError(t, err)

	resolvedType, err := cfg.ResolvedType()
	require.NoError(t, err)

	o, err := NewOrchestrator(Options{
		Registry:       fx.registry,
		Resolver:       fx.resolver,
		Collaborator:   collab,
		Hook:           hook,
		Handler:        handler,
		CompletionType: string(resolvedType),
		GlobalBudget:   cfg.GlobalBudget(DefaultGlobalBudget),
	})
	require.NoError(t, err)
	return o
}

func intentResponse(intent string) ScriptedResponse {
	return ScriptedResponse{Structured: `{"next_action":{"action":"` + intent + `"}}`}
}

func TestRun_ScenarioThreeStepsToTerminal(t *testing.T) {
	fx := newFixture(t)
	collab := &MockCollaborator{Responses: []ScriptedResponse{
		{Structured: `{"next_action":{"action":"next"},"summary":"built the thing"}`},
		intentResponse("handoff"),
		intentResponse("closing"),
	}}
	hook := &MockHook{}

	o := newOrchestrator(t, fx, collab, hook,
		completion.Config{Type: "stepMachine", RegistryPath: "steps_registry.json"})

	outcome, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.State.Iteration)
	assert.True(t, outcome.TerminalReached)
	assert.True(t, outcome.Complete)
	assert.Equal(t, "closure.default", outcome.State.CurrentStepID)

	// The boundary hook fires exactly once, from the closure step.
	assert.Equal(t, 1, hook.Invocations)
	assert.Equal(t, "closure.default", hook.StepID)
	assert.Equal(t, "closing", hook.Reason)

	// Handoff fields propagate into the flow state.
	assert.Equal(t, "built the thing", outcome.State.Handoff["summary"])

	// Each iteration resolved a prompt for the step it executed.
	assert.Equal(t,
		[]string{"initial.default", "continuation.default", "closure.default"},
		collab.ResolvedSteps)
}

func TestRun_ScenarioIterationBudget(t *testing.T) {
	fx := newFixture(t)
	collab := &MockCollaborator{Responses: []ScriptedResponse{intentResponse("repeat")}}
	hook := &MockHook{}

	o := newOrchestrator(t, fx, collab, hook,
		completion.Config{Type: "iterationBudget", MaxIterations: 3})

	outcome, err := o.Run(context.Background())
	require.NoError(t, err)

	// Completes exactly at iteration 3, never iterating a 4th time.
	assert.Equal(t, 3, outcome.State.Iteration)
	assert.Len(t, collab.Prompts, 3)
	assert.True(t, outcome.Complete)
	assert.False(t, outcome.TerminalReached)

	// No terminal signal, no boundary hook.
	assert.Equal(t, 0, hook.Invocations)
}

func TestRun_ScenarioLegacyIterateAlias(t *testing.T) {
	fx := newFixture(t)
	collab := &MockCollaborator{Responses: []ScriptedResponse{intentResponse("repeat")}}

	o := newOrchestrator(t, fx, collab, nil,
		completion.Config{Type: "iterate", MaxIterations: 5})

	outcome, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, outcome.State.Iteration)
	assert.True(t, outcome.Complete)
}

func TestRun_ScenarioNoIntentToleranceWindow(t *testing.T) {
	t.Run("omission on iteration 1 is tolerated", func(t *testing.T) {
		fx := newFixture(t)
		collab := &MockCollaborator{Responses: []ScriptedResponse{
			{Structured: `{"note":"warming up"}`},
			intentResponse("next"),
			intentResponse("handoff"),
			intentResponse("closing"),
		}}

		o := newOrchestrator(t, fx, collab, nil,
			completion.Config{Type: "stepMachine", RegistryPath: "steps_registry.json"})

		outcome, err := o.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, outcome.Complete)
		assert.Equal(t, 4, outcome.State.Iteration)
	})

	t.Run("omission on iteration 2 aborts", func(t *testing.T) {
		fx := newFixture(t)
		collab := &MockCollaborator{Responses: []ScriptedResponse{
			intentResponse("next"),
			{Structured: `{"note":"forgot the action block"}`},
		}}

		o := newOrchestrator(t, fx, collab, nil,
			completion.Config{Type: "stepMachine", RegistryPath: "steps_registry.json"})

		_, err := o.Run(context.Background())
		require.Error(t, err)

		var abort *AbortError
		require.True(t, errors.As(err, &abort))
		assert.Equal(t, CodeNoIntentProduced, abort.Code)
		assert.Equal(t, "continuation.default", abort.StepID)
		assert.Equal(t, 2, abort.Iteration)
		assert.Contains(t, abort.Error(), "next_action.action")
	})
}

func TestRun_SchemaTwoStrikesAborts(t *testing.T) {
	tmpDir := t.TempDir() // no schema file written
	reg, err := registry.Parse([]byte(flowRegistryJSON), registry.Options{})
	require.NoError(t, err)
	fx := fixture{registry: reg, resolver: schemaref.NewResolver(tmpDir, nil)}

	collab := &MockCollaborator{Responses: []ScriptedResponse{intentResponse("next")}}
	o := newOrchestrator(t, fx, collab, nil,
		completion.Config{Type: "stepMachine", RegistryPath: "steps_registry.json"})

	_, err = o.Run(context.Background())
	require.Error(t, err)

	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, CodeFailedSchemaResolution, abort.Code)
	assert.Equal(t, "initial.default", abort.StepID)

	// First strike retried the step, second aborted: exactly two queries.
	assert.Len(t, collab.Prompts, 2)
}

func TestRun_MissingStructuredOutputSharesCounter(t *testing.T) {
	fx := newFixture(t)
	collab := &MockCollaborator{Responses: []ScriptedResponse{
		{Text: "chatty but no JSON"},
	}}

	o := newOrchestrator(t, fx, collab, nil,
		completion.Config{Type: "stepMachine", RegistryPath: "steps_registry.json"})

	_, err := o.Run(context.Background())
	require.Error(t, err)

	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, CodeFailedSchemaResolution, abort.Code)

	// The retry's cached schema resolution must not forgive the first
	// strike, so the second text-only reply is fatal.
	assert.Len(t, collab.Prompts, 2)
}

func TestRun_OutputFailureAfterSuccessStillEscalates(t *testing.T) {
	fx := newFixture(t)
	// One clean iteration, then the collaborator stops emitting JSON.
	collab := &MockCollaborator{Responses: []ScriptedResponse{
		intentResponse("repeat"),
		{Text: "prose only from here on"},
	}}

	o := newOrchestrator(t, fx, collab, nil,
		completion.Config{Type: "stepMachine", RegistryPath: "steps_registry.json"})

	_, err := o.Run(context.Background())
	require.Error(t, err)

	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, CodeFailedSchemaResolution, abort.Code)
	assert.Equal(t, "initial.default", abort.StepID)

	// Success, strike one, strike two: exactly three queries, no spin.
	assert.Len(t, collab.Prompts, 3)
}

func TestRun_InvalidIntentAborts(t *testing.T) {
	fx := newFixture(t)
	collab := &MockCollaborator{Responses: []ScriptedResponse{intentResponse("launch")}}

	o := newOrchestrator(t, fx, collab, nil,
		completion.Config{Type: "stepMachine", RegistryPath: "steps_registry.json"})

	_, err := o.Run(context.Background())
	require.Error(t, err)

	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, CodeInvalidIntent, abort.Code)
	assert.Equal(t, "initial.default", abort.StepID)
	assert.Equal(t, 1, abort.Iteration)
}

func TestRun_IntentAliasesRoute(t *testing.T) {
	fx := newFixture(t)
	// "continue" normalizes to next, "done" to closing.
	collab := &MockCollaborator{Responses: []ScriptedResponse{
		intentResponse("continue"),
		intentResponse("handoff"),
		intentResponse("done"),
	}}
	hook := &MockHook{}

	o := newOrchestrator(t, fx, collab, hook,
		completion.Config{Type: "stepMachine", RegistryPath: "steps_registry.json"})

	outcome, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Complete)
	assert.Equal(t, 1, hook.Invocations)
}

func TestRun_HookFailureDoesNotReopenFlow(t *testing.T) {
	fx := newFixture(t)
	collab := &MockCollaborator{Responses: []ScriptedResponse{
		intentResponse("next"),
		intentResponse("handoff"),
		intentResponse("closing"),
	}}
	hook := &MockHook{Err: errors.New("issue tracker unreachable")}

	o := newOrchestrator(t, fx, collab, hook,
		completion.Config{Type: "stepMachine", RegistryPath: "steps_registry.json"})

	outcome, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Complete)
	assert.Equal(t, 1, hook.Invocations)
	assert.Len(t, collab.Prompts, 3)
}

func TestRun_StructuredSignalCompletion(t *testing.T) {
	fx := newFixture(t)
	collab := &MockCollaborator{Responses: []ScriptedResponse{
		{Structured: `{"next_action":{"action":"repeat"},"completion_signal":{"type":"review_passed"}}`},
	}}

	handler, err := completion.New(
		completion.Config{Type: "structuredSignal", SignalType: "review_passed"}, completion.Deps{})
	require.NoError(t, err)

	o, err := NewOrchestrator(Options{
		Registry:       fx.registry,
		Resolver:       fx.resolver,
		Collaborator:   collab,
		Handler:        handler,
		CompletionType: "structuredSignal",
		GlobalBudget:   2,
	})
	require.NoError(t, err)

	outcome, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Complete)
}

func TestRun_MissingEntryMappingFailsBeforeIterating(t *testing.T) {
	fx := newFixture(t)
	collab := &MockCollaborator{Responses: []ScriptedResponse{intentResponse("next")}}

	handler, err := completion.New(
		completion.Config{Type: "keywordSignal", CompletionKeyword: "DONE"}, completion.Deps{})
	require.NoError(t, err)

	o, err := NewOrchestrator(Options{
		Registry:       fx.registry,
		Resolver:       fx.resolver,
		Collaborator:   collab,
		Handler:        handler,
		CompletionType: "composite", // not in entryStepMapping
	})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.Error(t, err)
	assert.True(t, registry.IsConfigurationError(err))
	assert.Empty(t, collab.Prompts, "no iteration may execute on a bad entry mapping")
}

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	_, err := NewOrchestrator(Options{})
	require.Error(t, err)
	assert.True(t, registry.IsConfigurationError(err))
}
