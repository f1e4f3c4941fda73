package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepflow/internal/completion"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "steps_registry.json", cfg.RegistryPath)
	assert.Equal(t, 50, cfg.MaxIterations)
	assert.Equal(t, string(completion.TypeStepMachine), cfg.Completion.Type)
	assert.Equal(t, "stream-json", cfg.Claude.OutputFormat)
	assert.Equal(t, "claude", cfg.Claude.BinaryPath)
	assert.Equal(t, 20, cfg.Output.TruncateLines)
	assert.Equal(t, 60, cfg.Output.TruncateLength)
	assert.False(t, cfg.StrictSchemaRefs)

	// A zero-config run must pass the completion condition's own
	// validation, which requires a registry path for stepMachine.
	assert.Equal(t, "steps_registry.json", cfg.Completion.RegistryPath)
	require.NoError(t, cfg.Completion.Validate())
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	assert.NotNil(t, loader)
	assert.NotNil(t, loader.v)
}

func TestLoader_LoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
registry_path: flows/steps_registry.json
completion:
  type: iterationBudget
  maxIterations: 7
prompts:
  templates:
    initial.default: "Begin {{.StepID}}"
claude:
  binary_path: /custom/path/claude
output:
  truncate_lines: 50
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFromFile(configPath)

	require.NoError(t, err)
	assert.Equal(t, "flows/steps_registry.json", cfg.RegistryPath)
	assert.Equal(t, string(completion.TypeIterationBudget), cfg.Completion.Type)
	assert.Equal(t, 7, cfg.Completion.MaxIterations)
	// Dotted step ids must survive as flat template keys.
	assert.Equal(t, "Begin {{.StepID}}", cfg.Prompts.Templates["initial.default"])
	assert.Equal(t, "/custom/path/claude", cfg.Claude.BinaryPath)
	assert.Equal(t, 50, cfg.Output.TruncateLines)

	// Untouched keys keep their defaults.
	assert.Equal(t, "stream-json", cfg.Claude.OutputFormat)
	assert.Equal(t, 60, cfg.Output.TruncateLength)
}

func TestLoader_Load_WithEnvOverride(t *testing.T) {
	t.Setenv("STEPFLOW_CLAUDE_PATH", "/env/claude")

	loader := NewLoader()
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "/env/claude", cfg.Claude.BinaryPath)
}

func TestLoader_Load_RegistryPathEnvOverride(t *testing.T) {
	t.Setenv("STEPFLOW_REGISTRY_PATH", "/env/steps_registry.json")

	cfg, err := NewLoader().Load()

	require.NoError(t, err)
	assert.Equal(t, "/env/steps_registry.json", cfg.RegistryPath)
}

func TestLoader_Load_ExplicitConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "explicit.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("max_iterations: 9\n"), 0644))

	t.Setenv("STEPFLOW_CONFIG_PATH", configPath)

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxIterations)
}

func TestLoader_Load_ExplicitConfigPathMissing(t *testing.T) {
	t.Setenv("STEPFLOW_CONFIG_PATH", "/nonexistent/stepflow.yaml")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_LoadFromFile_NonExistent(t *testing.T) {
	loader := NewLoader()
	_, err := loader.LoadFromFile("/nonexistent/path/config.yaml")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoader_LoadFromFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidContent := `
completion:
  - this is not valid yaml for this structure
    missing: colon here
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	_, err = loader.LoadFromFile(configPath)

	assert.Error(t, err)
}

func TestLoader_Load_DefaultsWithNoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	originalWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(originalWd)

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "steps_registry.json", cfg.RegistryPath)
	assert.Equal(t, 50, cfg.MaxIterations)
}

func TestLoader_CompletionConfigDecodesNestedConditions(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "composite.yaml")

	configContent := `
completion:
  type: composite
  operator: or
  conditions:
    - type: iterationBudget
      maxIterations: 10
    - type: keywordSignal
      completionKeyword: SHIP_IT
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := NewLoader().LoadFromFile(configPath)
	require.NoError(t, err)

	require.Len(t, cfg.Completion.Conditions, 2)
	assert.Equal(t, string(completion.TypeIterationBudget), cfg.Completion.Conditions[0].Type)
	assert.Equal(t, 10, cfg.Completion.Conditions[0].MaxIterations)
	assert.Equal(t, "SHIP_IT", cfg.Completion.Conditions[1].CompletionKeyword)

	require.NoError(t, cfg.Completion.Validate())
}

func TestMustLoad_Success(t *testing.T) {
	os.Unsetenv("STEPFLOW_CONFIG_PATH")
	os.Unsetenv("STEPFLOW_CLAUDE_PATH")

	cfg := MustLoad()
	assert.NotNil(t, cfg)
}
