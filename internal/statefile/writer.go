package statefile

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Writer persists resource state changes to the YAML state file.
type Writer struct {
	statePath string
}

// NewWriter creates a [Writer] targeting the state file under basePath,
// honoring the same resolution rules as [NewReader].
func NewWriter(basePath string) *Writer {
	return &Writer{
		statePath: ResolvePath(basePath, ""),
	}
}

// NewWriterWithPath creates a [Writer] for an explicit state file path.
func NewWriterWithPath(basePath, statePath string) *Writer {
	return &Writer{
		statePath: ResolvePath(basePath, statePath),
	}
}

// UpdateState sets the state of a resource, creating the file and the
// resource entry if they do not exist yet. The write is atomic: the
// document is written to a temp file and renamed into place.
func (w *Writer) UpdateState(resource, newState string) error {
	if resource == "" {
		return fmt.Errorf("resource identifier must not be empty")
	}
	if newState == "" {
		return fmt.Errorf("state must not be empty")
	}

	sf := &StateFile{}
	data, err := os.ReadFile(w.statePath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, sf); err != nil {
			return fmt.Errorf("failed to parse resource state: %w", err)
		}
	case os.IsNotExist(err):
		// First write creates the file.
	default:
		return fmt.Errorf("failed to read resource state: %w", err)
	}

	if sf.Resources == nil {
		sf.Resources = make(map[string]string)
	}
	sf.Resources[resource] = newState

	updated, err := yaml.Marshal(sf)
	if err != nil {
		return fmt.Errorf("failed to marshal resource state: %w", err)
	}

	if dir := filepath.Dir(w.statePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to write resource state: %w", err)
		}
	}

	tmpPath := w.statePath + ".tmp"
	if err := os.WriteFile(tmpPath, updated, 0644); err != nil {
		return fmt.Errorf("failed to write resource state: %w", err)
	}

	if err := os.Rename(tmpPath, w.statePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write resource state: %w", err)
	}

	return nil
}
