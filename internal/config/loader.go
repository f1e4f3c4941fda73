package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles Viper-based configuration loading.
//
// Use [NewLoader] to construct one, then [Loader.Load] for the standard
// resolution chain or [Loader.LoadFromFile] for an explicit file.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a [Loader] with defaults and environment binding
// applied.
func NewLoader() *Loader {
	// Step ids contain dots ("initial.default"), so the default "."
	// key delimiter would explode prompt template keys into nested
	// maps. "::" never appears in a config key.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))

	v.SetEnvPrefix("STEPFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	// Short-form override matching the documented env var name.
	v.BindEnv("claude::binary_path", "STEPFLOW_CLAUDE_PATH")
	v.BindEnv("registry_path", "STEPFLOW_REGISTRY_PATH")

	setDefaults(v)

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()
	v.SetDefault("registry_path", defaults.RegistryPath)
	v.SetDefault("strict_schema_refs", defaults.StrictSchemaRefs)
	v.SetDefault("max_iterations", defaults.MaxIterations)
	v.SetDefault("completion::type", defaults.Completion.Type)
	v.SetDefault("completion::registryPath", defaults.Completion.RegistryPath)
	v.SetDefault("claude::output_format", defaults.Claude.OutputFormat)
	v.SetDefault("claude::binary_path", defaults.Claude.BinaryPath)
	v.SetDefault("output::truncate_lines", defaults.Output.TruncateLines)
	v.SetDefault("output::truncate_length", defaults.Output.TruncateLength)
}

// Load resolves and loads configuration using the standard priority
// chain documented on the package. A missing config file is not an
// error; defaults and environment overrides still apply.
func (l *Loader) Load() (*Config, error) {
	if explicit := os.Getenv("STEPFLOW_CONFIG_PATH"); explicit != "" {
		return l.LoadFromFile(explicit)
	}

	for _, path := range searchPaths() {
		if _, err := os.Stat(path); err == nil {
			return l.LoadFromFile(path)
		}
	}

	return l.unmarshal()
}

// LoadFromFile loads configuration from an explicit file path. Unlike
// [Loader.Load], a missing or unreadable file is an error.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// searchPaths lists config file locations in priority order.
func searchPaths() []string {
	var paths []string

	if userDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(userDir, "stepflow", "stepflow.yaml"))
	}

	paths = append(paths,
		filepath.Join("config", "stepflow.yaml"),
		"stepflow.yaml",
	)

	return paths
}

// MustLoad loads configuration with [Loader.Load] and panics on error.
// Intended for CLI startup where a broken config file is fatal.
func MustLoad() *Config {
	cfg, err := NewLoader().Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
