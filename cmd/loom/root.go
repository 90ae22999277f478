package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Git-backed task scheduling for agent teams",
	Long: `loom tracks tasks, their dependencies, and who is working on them.

State lives in plain JSONL files inside a git repository, so every machine
sharing the remote sees the same board. Workers claim ready tasks, finish
them, and completion automatically unblocks whatever was waiting.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// openEngine loads config and builds the engine. Callers own Close.
func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	e, err := engine.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	return e, nil
}
