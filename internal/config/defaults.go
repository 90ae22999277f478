package config

import (
	"path/filepath"
	"time"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:       ".loom",
		WorkflowDir:   filepath.Join(".loom", "workflows"),
		Remote:        "origin",
		Branch:        "main",
		AutoCommit:    true,
		Debounce:      Duration(5 * time.Second),
		ClaimTimeout:  Duration(time.Hour),
		SweepInterval: Duration(15 * time.Minute),
		SyncTimeout:   Duration(2 * time.Minute),
		LogLevel:      "info",
	}
}
