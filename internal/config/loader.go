package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): LOOM_* environment variables,
// project config, global config, defaults. Missing files are not errors;
// malformed JSON is.
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

	if err := envconfig.Process("loom", cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg.applyDerived()
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.loom/config.json
// Project: .loom/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".loom", "config.json")
	projectPath := filepath.Join(".loom", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Fields absent from the file keep their current value.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyDerived fills values computed from others. The cache lives next to
// the data directory, never inside it, so git never sees SQLite files.
func (c *Config) applyDerived() {
	if c.CachePath == "" {
		c.CachePath = c.DataDir + ".cache.db"
	}
}
