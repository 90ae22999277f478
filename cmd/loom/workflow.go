package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var workflowFile string

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run step pipelines alongside the task board",
}

var workflowCreateCmd = &cobra.Command{
	Use:   "create <name> [step...]",
	Short: "Start a workflow run",
	Long: `Start a workflow run from inline step names or a YAML definition.

Examples:
  loom workflow create release plan build ship
  loom workflow create --file .loom/workflows/release.yaml`,
	RunE: runWorkflowCreate,
}

var workflowAdvanceCmd = &cobra.Command{
	Use:   "advance <id>",
	Short: "Complete the running step and start the next",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowAdvance,
}

var workflowCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Abandon a workflow run",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowCancel,
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow runs",
	Args:  cobra.NoArgs,
	RunE:  runWorkflowList,
}

func init() {
	workflowCreateCmd.Flags().StringVar(&workflowFile, "file", "", "YAML workflow definition")
	workflowCmd.AddCommand(workflowCreateCmd, workflowAdvanceCmd, workflowCancelCmd, workflowListCmd)
	rootCmd.AddCommand(workflowCmd)
}

func runWorkflowCreate(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if workflowFile != "" {
		w, err := e.CreateWorkflowFromDefinition(cmd.Context(), workflowFile)
		if err != nil {
			return err
		}
		renderWorkflow(w)
		return nil
	}

	if len(args) < 2 {
		return fmt.Errorf("need a name and at least one step, or --file")
	}
	w, err := e.CreateWorkflow(cmd.Context(), args[0], args[1:])
	if err != nil {
		return err
	}
	renderWorkflow(w)
	return nil
}

func runWorkflowAdvance(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	w, err := e.AdvanceStep(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	renderWorkflow(w)
	return nil
}

func runWorkflowCancel(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.CancelWorkflow(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("%s cancelled\n", args[0])
	return nil
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	workflows, err := e.ListWorkflows(cmd.Context())
	if err != nil {
		return err
	}
	if len(workflows) == 0 {
		fmt.Println("No workflows.")
		return nil
	}
	for _, w := range workflows {
		renderWorkflow(w)
	}
	return nil
}
