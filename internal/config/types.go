// Package config provides configuration loading and management for
// stepflow.
//
// Configuration is loaded using Viper, supporting YAML config files and
// environment variable overrides. The package provides sensible defaults
// that work out of the box, with the ability to customize the step
// registry location, completion conditions, prompts, and Claude CLI
// settings.
//
// Key types:
//   - [Config] is the root configuration container with all settings
//   - [Loader] handles Viper-based configuration loading
//   - [ClaudeConfig] contains Claude CLI binary settings
//
// Configuration priority (highest to lowest):
//  1. Environment variables (STEPFLOW_ prefix)
//  2. Config file specified by STEPFLOW_CONFIG_PATH
//  3. User config directory (platform-standard):
//     - Linux: ~/.config/stepflow/stepflow.yaml
//     - macOS: ~/Library/Application Support/stepflow/stepflow.yaml
//     - Windows: %APPDATA%\stepflow\stepflow.yaml
//  4. ./config/stepflow.yaml (fallback)
//  5. ./stepflow.yaml (fallback)
//  6. [DefaultConfig] defaults
package config

import "stepflow/internal/completion"

// Config represents the root configuration structure.
//
// This is the main configuration container loaded by [Loader] and used
// throughout the application. Use [DefaultConfig] to get sensible
// defaults.
type Config struct {
	// RegistryPath locates the steps registry JSON document.
	RegistryPath string `mapstructure:"registry_path"`

	// StrictSchemaRefs makes bare schema reference names (no "#/" JSON
	// pointer) a load-time error instead of a warning.
	StrictSchemaRefs bool `mapstructure:"strict_schema_refs"`

	// MaxIterations is the global iteration budget for a run when the
	// completion condition does not impose a tighter one.
	MaxIterations int `mapstructure:"max_iterations"`

	// StatePath is an explicit resource-state.yaml location. Empty
	// means auto-discovery.
	StatePath string `mapstructure:"state_path"`

	// Completion selects and parameterizes the completion condition
	// for runs.
	Completion completion.Config `mapstructure:"completion"`

	// Prompts configures prompt template resolution.
	Prompts PromptsConfig `mapstructure:"prompts"`

	// Claude contains Claude CLI binary configuration.
	Claude ClaudeConfig `mapstructure:"claude"`

	// Output contains terminal output formatting configuration.
	Output OutputConfig `mapstructure:"output"`
}

// PromptsConfig configures prompt resolution for steps.
type PromptsConfig struct {
	// Templates maps step ids to inline Go template strings. Inline
	// templates take precedence over prompt files.
	Templates map[string]string `mapstructure:"templates"`

	// BaseDir anchors relative prompt file paths resolved via the
	// registry's path template. Empty means the working directory.
	BaseDir string `mapstructure:"base_dir"`
}

// ClaudeConfig contains Claude CLI configuration.
//
// These settings control how the Claude CLI binary is invoked.
type ClaudeConfig struct {
	// OutputFormat is the output format passed to Claude CLI.
	// Should be "stream-json" for structured event parsing.
	OutputFormat string `mapstructure:"output_format"`

	// BinaryPath is the path to the Claude CLI binary.
	// Default: "claude" (assumes Claude is in PATH).
	// Can be overridden with STEPFLOW_CLAUDE_PATH environment variable.
	BinaryPath string `mapstructure:"binary_path"`

	// Model selects the Claude model for sessions. Empty uses the CLI
	// default. Examples: "opus", "sonnet", "haiku".
	Model string `mapstructure:"model"`
}

// OutputConfig contains terminal output formatting configuration.
type OutputConfig struct {
	// TruncateLines is the maximum number of lines to display per event.
	// Additional lines are hidden with a "... (N lines omitted)" marker.
	// Default: 20
	TruncateLines int `mapstructure:"truncate_lines"`

	// TruncateLength is the maximum length of each output line.
	// Longer lines are truncated with "..." suffix.
	// Default: 60
	TruncateLength int `mapstructure:"truncate_length"`
}

// DefaultConfig returns a new [Config] with sensible defaults.
//
// The defaults target a registry at ./steps_registry.json, a
// stepMachine completion condition, and the Claude CLI on PATH. They
// work out of the box without any configuration file.
func DefaultConfig() *Config {
	return &Config{
		RegistryPath:  "steps_registry.json",
		MaxIterations: 50,
		Completion: completion.Config{
			Type:         string(completion.TypeStepMachine),
			RegistryPath: "steps_registry.json",
		},
		Claude: ClaudeConfig{
			OutputFormat: "stream-json",
			BinaryPath:   "claude",
		},
		Output: OutputConfig{
			TruncateLines:  20,
			TruncateLength: 60,
		},
	}
}
