package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/nucleus/pkg/task"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List live tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := bootKernel()
		if err != nil {
			return fmt.Errorf("boot kernel: %w", err)
		}
		defer k.Shutdown()

		tasks := k.Tasks.List()
		fmt.Printf("%-38s %-16s %-10s %-8s\n", "ID", "NAME", "STATE", "THREADS")
		for _, t := range tasks {
			fmt.Printf("%-38s %-16s %-10s %-8d\n", t.ID, t.Name, stateName(t.State()), len(t.Threads()))
		}
		return nil
	},
}

func stateName(s task.State) string {
	switch s {
	case task.StateActive:
		return "active"
	case task.StateSuspended:
		return "suspended"
	case task.StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func init() {
	taskCmd.AddCommand(taskListCmd)
}
