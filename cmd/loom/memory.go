package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var memCmd = &cobra.Command{
	Use:   "mem",
	Short: "Per-worker append-only memory streams",
}

var memAddCmd = &cobra.Command{
	Use:   "add <worker> <note>",
	Short: "Append a note to a worker's memory",
	Args:  cobra.ExactArgs(2),
	RunE:  runMemAdd,
}

var memShowCmd = &cobra.Command{
	Use:   "show <worker>",
	Short: "Print a worker's memory in order",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemShow,
}

func init() {
	memCmd.AddCommand(memAddCmd, memShowCmd)
	rootCmd.AddCommand(memCmd)
}

func runMemAdd(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	return e.AppendMemory(cmd.Context(), args[0], args[1])
}

func runMemShow(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	notes, err := e.ReadMemory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for _, n := range notes {
		fmt.Printf("%s  %s\n", n.Timestamp.Format("2006-01-02 15:04"), n.Note)
	}
	return nil
}
