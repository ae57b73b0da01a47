package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// GlobalPath returns ~/.actiontree/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".actiontree", "config.json"), nil
}

// ProjectPath is the project configuration, relative to the working directory.
const ProjectPath = ".actiontree/config.json"

// LoadDefault loads configuration from conventional paths.
// Global: ~/.actiontree/config.json
// Project: .actiontree/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, ProjectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Only the keys present in the file override base; nested objects merge
// field by field. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Decode into a copy so a malformed file leaves base untouched
	merged := *base
	if err := json.Unmarshal(data, &merged); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	*base = merged

	return nil
}
