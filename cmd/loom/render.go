package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/loomworks/loom/internal/task"
)

var (
	readyColor      = color.New(color.FgGreen)
	blockedColor    = color.New(color.FgYellow)
	claimedColor    = color.New(color.FgCyan)
	inProgressColor = color.New(color.FgBlue)
	completedColor  = color.New(color.FgHiBlack)
	cancelledColor  = color.New(color.FgRed)
)

func colorStatus(s task.Status) string {
	switch s {
	case task.StatusReady:
		return readyColor.Sprint(s)
	case task.StatusBlocked:
		return blockedColor.Sprint(s)
	case task.StatusClaimed:
		return claimedColor.Sprint(s)
	case task.StatusInProgress:
		return inProgressColor.Sprint(s)
	case task.StatusCompleted:
		return completedColor.Sprint(s)
	case task.StatusCancelled:
		return cancelledColor.Sprint(s)
	}
	return string(s)
}

func renderTaskTable(tasks []*task.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tASSIGNED\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, colorStatus(t.Status), t.AssignedTo, t.Title)
	}
	w.Flush()
}

func renderTask(t *task.Task) {
	fmt.Printf("%s  %s\n", color.New(color.Bold).Sprint(t.ID), colorStatus(t.Status))
	fmt.Printf("  Title:    %s\n", t.Title)
	if t.Description != "" {
		fmt.Printf("  Details:  %s\n", t.Description)
	}
	if len(t.Blockers) > 0 {
		fmt.Printf("  Blockers: %s\n", strings.Join(t.Blockers, ", "))
	}
	if t.AssignedTo != "" {
		fmt.Printf("  Assigned: %s\n", t.AssignedTo)
	}
	fmt.Printf("  Created:  %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	if t.ClaimedAt != nil {
		fmt.Printf("  Claimed:  %s\n", t.ClaimedAt.Format("2006-01-02 15:04:05"))
	}
	if t.CompletedAt != nil {
		fmt.Printf("  Done:     %s\n", t.CompletedAt.Format("2006-01-02 15:04:05"))
	}
}

func renderWorkflow(w *task.Workflow) {
	fmt.Printf("%s  %s  (%s)\n", color.New(color.Bold).Sprint(w.ID), w.Name, w.Status)
	for _, step := range w.Steps {
		marker := "  "
		switch step.Status {
		case task.StepCompleted:
			marker = completedColor.Sprint("✓ ")
		case task.StepRunning:
			marker = inProgressColor.Sprint("▸ ")
		}
		fmt.Printf("  %s%s\n", marker, step.Name)
	}
}
