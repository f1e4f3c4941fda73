// Package completion decides when a flow run is done.
//
// Eight strategies share the [Handler] interface, selected by a completion
// type string after deprecated aliases are resolved. Configuration is
// validated once, at load time, by the [New] factory; a handler that reaches
// Check has a known-good configuration by construction.
//
// Key types:
//   - [Config] - tagged union of per-strategy configuration
//   - [Handler] - the shared strategy interface
//   - [Observation] - the run state a handler inspects
//   - [Deps] - boundary collaborators injected into handlers
package completion

import (
	"fmt"

	"stepflow/internal/registry"
)

// Type identifies a completion strategy.
type Type string

// The eight canonical completion types.
const (
	TypeExternalState    Type = "externalState"
	TypeIterationBudget  Type = "iterationBudget"
	TypeCheckBudget      Type = "checkBudget"
	TypeKeywordSignal    Type = "keywordSignal"
	TypeStructuredSignal Type = "structuredSignal"
	TypeStepMachine      Type = "stepMachine"
	TypeComposite        Type = "composite"
	TypeCustom           Type = "custom"
)

// typeAliases maps deprecated completion type names to their canonical
// replacements. Resolution is a pure lookup applied once at load time,
// never at check time.
var typeAliases = map[string]Type{
	"issue":       TypeExternalState,
	"iterate":     TypeIterationBudget,
	"manual":      TypeKeywordSignal,
	"stepFlow":    TypeStepMachine,
	"facilitator": TypeComposite,
}

// canonicalTypes is the closed set of valid resolved types.
var canonicalTypes = map[Type]bool{
	TypeExternalState:    true,
	TypeIterationBudget:  true,
	TypeCheckBudget:      true,
	TypeKeywordSignal:    true,
	TypeStructuredSignal: true,
	TypeStepMachine:      true,
	TypeComposite:        true,
	TypeCustom:           true,
}

// ResolveType normalizes a raw completion type string, resolving deprecated
// aliases. Unknown types are configuration errors.
func ResolveType(raw string) (Type, error) {
	if canonical, ok := typeAliases[raw]; ok {
		return canonical, nil
	}
	t := Type(raw)
	if !canonicalTypes[t] {
		return "", registry.NewConfigurationError(
			fmt.Sprintf("unknown completion type %q", raw))
	}
	return t, nil
}

// Config is the tagged-union completion configuration. The Type field
// selects the strategy; each strategy reads only the fields it needs and
// validation rejects configs missing them.
type Config struct {
	// Type is the completion type, possibly a deprecated alias.
	Type string `mapstructure:"type" json:"type" yaml:"type"`

	// MaxIterations is the iteration budget (iterationBudget).
	MaxIterations int `mapstructure:"maxIterations" json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"`

	// MaxChecks is the completion-check budget (checkBudget).
	MaxChecks int `mapstructure:"maxChecks" json:"maxChecks,omitempty" yaml:"maxChecks,omitempty"`

	// CompletionKeyword is the text marker scanned for (keywordSignal).
	CompletionKeyword string `mapstructure:"completionKeyword" json:"completionKeyword,omitempty" yaml:"completionKeyword,omitempty"`

	// SignalType is the structured signal type awaited (structuredSignal).
	SignalType string `mapstructure:"signalType" json:"signalType,omitempty" yaml:"signalType,omitempty"`

	// ResourceType and TargetState describe the external resource polled
	// by externalState (issue, project, file, api).
	ResourceType string `mapstructure:"resourceType" json:"resourceType,omitempty" yaml:"resourceType,omitempty"`
	TargetState  string `mapstructure:"targetState" json:"targetState,omitempty" yaml:"targetState,omitempty"`

	// RegistryPath and EntryStep configure stepMachine completion.
	RegistryPath string `mapstructure:"registryPath" json:"registryPath,omitempty" yaml:"registryPath,omitempty"`
	EntryStep    string `mapstructure:"entryStep" json:"entryStep,omitempty" yaml:"entryStep,omitempty"`

	// Operator and Conditions configure composite completion.
	Operator   string   `mapstructure:"operator" json:"operator,omitempty" yaml:"operator,omitempty"`
	Conditions []Config `mapstructure:"conditions" json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// HandlerPath locates the external handler for custom completion.
	HandlerPath string `mapstructure:"handlerPath" json:"handlerPath,omitempty" yaml:"handlerPath,omitempty"`
}

// ResolvedType returns the canonical type for the config.
func (c Config) ResolvedType() (Type, error) {
	return ResolveType(c.Type)
}

// Validate checks the configuration for the config's resolved type. All
// failures are load-time [registry.ConfigurationError] values; nothing here
// is deferred to run time.
func (c Config) Validate() error {
	t, err := c.ResolvedType()
	if err != nil {
		return err
	}

	fail := func(format string, args ...any) error {
		return registry.NewConfigurationError(
			fmt.Sprintf("invalid %s completion config: %s", t, fmt.Sprintf(format, args...)))
	}

	switch t {
	case TypeIterationBudget:
		if c.MaxIterations <= 0 {
			return fail("maxIterations must be a positive integer, got %d", c.MaxIterations)
		}
	case TypeCheckBudget:
		if c.MaxChecks <= 0 {
			return fail("maxChecks must be a positive integer, got %d", c.MaxChecks)
		}
	case TypeKeywordSignal:
		if c.CompletionKeyword == "" {
			return fail("completionKeyword is required")
		}
	case TypeStructuredSignal:
		if c.SignalType == "" {
			return fail("signalType is required")
		}
	case TypeExternalState:
		if c.ResourceType == "" {
			return fail("resourceType is required")
		}
		if c.TargetState == "" {
			return fail("targetState is required")
		}
	case TypeStepMachine:
		if c.RegistryPath == "" {
			return fail("registryPath is required")
		}
	case TypeComposite:
		switch c.Operator {
		case "and", "or", "first":
		default:
			return fail("operator must be one of and, or, first; got %q", c.Operator)
		}
		if len(c.Conditions) == 0 {
			return fail("conditions must be non-empty")
		}
		for i, child := range c.Conditions {
			if err := child.Validate(); err != nil {
				return fail("condition %d: %v", i, err)
			}
		}
	case TypeCustom:
		if c.HandlerPath == "" {
			return fail("handlerPath is required")
		}
	}

	return nil
}

// GlobalBudget returns the hard iteration upper bound the orchestrator
// should enforce for this config: the iteration budget itself when the
// strategy is iterationBudget, the smallest nested iteration budget for
// composites, and fallback otherwise.
func (c Config) GlobalBudget(fallback int) int {
	t, err := c.ResolvedType()
	if err != nil {
		return fallback
	}
	switch t {
	case TypeIterationBudget:
		return c.MaxIterations
	case TypeComposite:
		budget := fallback
		for _, child := range c.Conditions {
			if b := child.GlobalBudget(fallback); b < budget {
				budget = b
			}
		}
		return budget
	}
	return fallback
}
