package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Exchange state with the git remote",
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Merge remote state into the local board",
	Args:  cobra.NoArgs,
	RunE:  runPull,
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish local state to the remote",
	Args:  cobra.NoArgs,
	RunE:  runPush,
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Write pending changes to the log files now",
	Args:  cobra.NoArgs,
	RunE:  runFlush,
}

func init() {
	syncCmd.AddCommand(pullCmd, pushCmd, flushCmd)
	rootCmd.AddCommand(syncCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Pull(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Pulled remote state.")
	return nil
}

func runPush(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Push(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Pushed local state.")
	return nil
}

func runFlush(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Flush(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Flushed.")
	return nil
}
