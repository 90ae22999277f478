package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != ".loom" {
		t.Errorf("unexpected default data dir: %s", cfg.DataDir)
	}
	if cfg.Debounce.Std() != 5*time.Second {
		t.Errorf("unexpected default debounce: %v", cfg.Debounce.Std())
	}
	if cfg.CachePath == "" {
		t.Error("cache path must be derived when unset")
	}
	if !cfg.AutoCommit {
		t.Error("auto commit defaults on")
	}
}

func TestLoadMissingFilesAreNotErrors(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.json"), filepath.Join(dir, "also-nope.json"))
	if err != nil {
		t.Fatalf("missing config files must not fail: %v", err)
	}
	if cfg.Remote != "origin" {
		t.Errorf("defaults must survive missing files: %s", cfg.Remote)
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "broken.json", `{"data_dir": `)

	if _, err := Load(path, ""); err == nil {
		t.Fatal("malformed JSON must fail loudly")
	}
}

func TestProjectOverridesGlobal(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.json",
		`{"remote": "upstream", "log_level": "debug", "debounce": "30s"}`)
	project := writeConfig(t, dir, "project.json",
		`{"remote": "fork", "auto_commit": false}`)

	cfg, err := Load(global, project)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote != "fork" {
		t.Errorf("project config must win, got remote %s", cfg.Remote)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("global value untouched by project must survive, got %s", cfg.LogLevel)
	}
	if cfg.Debounce.Std() != 30*time.Second {
		t.Errorf("duration strings must parse, got %v", cfg.Debounce.Std())
	}
	if cfg.AutoCommit {
		t.Error("explicit false must override the default true")
	}
}

func TestEnvironmentOverridesFiles(t *testing.T) {
	dir := t.TempDir()
	project := writeConfig(t, dir, "project.json", `{"branch": "work"}`)

	t.Setenv("LOOM_BRANCH", "hotfix")
	t.Setenv("LOOM_CLAIM_TIMEOUT", "90m")

	cfg, err := Load("", project)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Branch != "hotfix" {
		t.Errorf("environment must win over files, got %s", cfg.Branch)
	}
	if cfg.ClaimTimeout.Std() != 90*time.Minute {
		t.Errorf("env duration must parse, got %v", cfg.ClaimTimeout.Std())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Remote = "backup"
	cfg.ClaimTimeout = Duration(45 * time.Minute)
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Remote != "backup" || loaded.ClaimTimeout.Std() != 45*time.Minute {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"warn":    "WARN",
		"error":   "ERROR",
		"info":    "INFO",
		"bogus":   "INFO",
		"WARNING": "WARN",
	}
	for name, want := range cases {
		cfg := &Config{LogLevel: name}
		if got := cfg.SlogLevel().String(); got != want {
			t.Errorf("level %q: got %s, want %s", name, got, want)
		}
	}
}
