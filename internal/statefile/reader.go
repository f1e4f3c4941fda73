// Package statefile reads and writes the resource-state.yaml file that
// tracks the lifecycle state of external resources a flow operates on.
// The externalState completion handler polls it, and the boundary hook
// writes the terminal state into it when a flow closes.
package statefile

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultStatePath is the canonical location of resource-state.yaml
// relative to the project root.
const DefaultStatePath = ".stepflow/resource-state.yaml"

// RootStatePath is the fallback location at the project root.
const RootStatePath = "resource-state.yaml"

// StatePaths lists the paths to search (in priority order) when
// auto-discovering the state file.
var StatePaths = []string{
	DefaultStatePath,
	RootStatePath,
}

// StateFile is the parsed resource-state.yaml document.
type StateFile struct {
	// Resources maps a resource identifier (e.g. an issue key or task
	// id) to its current state string.
	Resources map[string]string `yaml:"resources"`
}

// ResolvePath discovers the resource-state.yaml file location.
//
// Resolution order:
//  1. STEPFLOW_STATE_PATH environment variable (used as-is if set)
//  2. Explicit statePath parameter (if non-empty)
//  3. Auto-discovery: tries each entry of [StatePaths] under basePath
//  4. Falls back to [DefaultStatePath] (errors on read if absent)
//
// The basePath is the project root directory. Pass empty string for cwd.
func ResolvePath(basePath, statePath string) string {
	if envPath := os.Getenv("STEPFLOW_STATE_PATH"); envPath != "" {
		return envPath
	}

	if statePath != "" {
		return statePath
	}

	for _, p := range StatePaths {
		fullPath := filepath.Join(basePath, p)
		if _, err := os.Stat(fullPath); err == nil {
			return fullPath
		}
	}

	return filepath.Join(basePath, DefaultStatePath)
}

// Reader reads resource states from the YAML state file.
//
// Use [NewReader] for auto-discovery or [NewReaderWithPath] for an
// explicit path.
type Reader struct {
	statePath string
}

// NewReader creates a [Reader] that auto-discovers the state file under
// basePath. Pass an empty string to search from the current working
// directory. The STEPFLOW_STATE_PATH environment variable overrides all
// discovery.
func NewReader(basePath string) *Reader {
	return &Reader{
		statePath: ResolvePath(basePath, ""),
	}
}

// NewReaderWithPath creates a [Reader] for an explicit state file path.
// The STEPFLOW_STATE_PATH environment variable still takes priority.
func NewReaderWithPath(basePath, statePath string) *Reader {
	return &Reader{
		statePath: ResolvePath(basePath, statePath),
	}
}

// Read parses the complete state file.
func (r *Reader) Read() (*StateFile, error) {
	data, err := os.ReadFile(r.statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource state: %w", err)
	}

	var sf StateFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to read resource state: %w", err)
	}

	return &sf, nil
}

// GetState returns the current state of a resource. It returns an error
// if the file cannot be read or the resource is not tracked in it.
func (r *Reader) GetState(resource string) (string, error) {
	sf, err := r.Read()
	if err != nil {
		return "", err
	}

	state, ok := sf.Resources[resource]
	if !ok {
		return "", fmt.Errorf("resource not found: %s", resource)
	}

	return state, nil
}
