package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/cache"
	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/task"
)

var (
	createBlockers []string
	createParent   string
	listStatus     string
	listWorker     string
)

var createCmd = &cobra.Command{
	Use:   "create <title> [description]",
	Short: "Create a task",
	Long: `Create a task, optionally blocked on other tasks.

Examples:
  loom create "Design schema"
  loom create "Write migrations" --blocked-by task-a1b2c3
  loom create "Add index" --parent task-a1b2c3`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCreate,
}

var claimCmd = &cobra.Command{
	Use:   "claim <id> <worker>",
	Short: "Claim a ready task for a worker",
	Args:  cobra.ExactArgs(2),
	RunE:  runClaim,
}

var startCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Mark a claimed task as in progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Complete a task, unblocking its dependents",
	Args:  cobra.ExactArgs(1),
	RunE:  runDone,
}

var releaseCmd = &cobra.Command{
	Use:   "release <id>",
	Short: "Return a claimed task to the ready pool",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelease,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Abandon a task permanently",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List tasks available to claim",
	Args:  cobra.NoArgs,
	RunE:  runReady,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	createCmd.Flags().StringSliceVar(&createBlockers, "blocked-by", nil, "task ids that must complete first")
	createCmd.Flags().StringVar(&createParent, "parent", "", "create as a sub-task of this id")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listWorker, "worker", "", "filter by assigned worker")

	rootCmd.AddCommand(createCmd, claimCmd, startCmd, doneCmd, releaseCmd,
		cancelCmd, readyCmd, listCmd, showCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	params := engine.CreateParams{Title: args[0], Blockers: createBlockers}
	if len(args) > 1 {
		params.Description = args[1]
	}

	var t *task.Task
	if createParent != "" {
		t, err = e.CreateSubtask(cmd.Context(), createParent, params)
	} else {
		t, err = e.CreateTask(cmd.Context(), params)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Created %s (%s)\n", t.ID, colorStatus(t.Status))
	return nil
}

func runClaim(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	t, err := e.Claim(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%s claimed by %s\n", t.ID, t.AssignedTo)
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Start(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("%s in progress\n", args[0])
	return nil
}

func runDone(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	unblocked, err := e.Complete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s completed\n", args[0])
	for _, id := range unblocked {
		fmt.Printf("  unblocked %s\n", readyColor.Sprint(id))
	}
	return nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Release(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("%s released\n", args[0])
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Cancel(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("%s cancelled\n", args[0])
	return nil
}

func runReady(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	tasks, err := e.ReadyTasks(cmd.Context())
	if err != nil {
		return err
	}
	renderTaskTable(tasks)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	f := cache.Filter{AssignedTo: listWorker}
	if listStatus != "" {
		status := task.Status(listStatus)
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		f.Status = status
	}

	tasks, err := e.ListTasks(cmd.Context(), f)
	if err != nil {
		return err
	}
	renderTaskTable(tasks)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	t, err := e.GetTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	renderTask(t)
	return nil
}
