package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine until interrupted",
	Long: `Run the engine in the foreground: the debounced exporter, the stalled
claim sweeper, and the log file watcher all stay active, and every lifecycle
event is printed as it happens. Other loom invocations in the same directory
are picked up live.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	feed := e.Events().SubscribeAll(256)
	e.Run(cmd.Context())
	fmt.Println("loom running, ctrl-c to stop")

	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				return nil
			}
			if ev.TaskID != "" {
				fmt.Printf("%s  %-16s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, ev.TaskID)
			} else {
				fmt.Printf("%s  %-16s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, ev.Detail)
			}
		case <-cmd.Context().Done():
			return nil
		}
	}
}
