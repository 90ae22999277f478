package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Duration marshals as a Go duration string ("90s", "1h30m") so config files
// stay human-editable.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText also lets envconfig parse LOOM_* duration variables.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds every tunable of the engine. Values merge in order of
// precedence: defaults, then global config file, then project config file,
// then LOOM_* environment variables.
type Config struct {
	// DataDir holds the JSONL logs and is the git working tree.
	DataDir string `json:"data_dir" envconfig:"DATA_DIR"`

	// CachePath is the SQLite database file. It must live outside the
	// synced data directory; derived from DataDir when empty.
	CachePath string `json:"cache_path" envconfig:"CACHE_PATH"`

	// WorkflowDir holds YAML workflow definitions.
	WorkflowDir string `json:"workflow_dir" envconfig:"WORKFLOW_DIR"`

	Remote     string `json:"remote" envconfig:"REMOTE"`
	Branch     string `json:"branch" envconfig:"BRANCH"`
	AutoCommit bool   `json:"auto_commit" envconfig:"AUTO_COMMIT"`

	Debounce      Duration `json:"debounce" envconfig:"DEBOUNCE"`
	ClaimTimeout  Duration `json:"claim_timeout" envconfig:"CLAIM_TIMEOUT"`
	SweepInterval Duration `json:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
	SyncTimeout   Duration `json:"sync_timeout" envconfig:"SYNC_TIMEOUT"`

	LogLevel string `json:"log_level" envconfig:"LOG_LEVEL"`
}

// SlogLevel maps the configured level name to a slog level. Unknown names
// fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
