package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/nucleus/pkg/ipc"
)

var portTaskName string

var portCmd = &cobra.Command{
	Use:   "port",
	Short: "Manage ports",
}

var portListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the IPC rights held in a task's space",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := bootKernel()
		if err != nil {
			return fmt.Errorf("boot kernel: %w", err)
		}
		defer k.Shutdown()

		var target *ipc.Space
		for _, t := range k.Tasks.List() {
			if t.Name == portTaskName {
				target = t.Space
				break
			}
		}
		if target == nil {
			return fmt.Errorf("no task named %q", portTaskName)
		}

		fmt.Printf("%-10s %-12s %-6s\n", "NAME", "KIND", "ALIVE")
		for _, name := range target.Names() {
			right, err := target.Translate(name)
			if err != nil {
				continue
			}
			fmt.Printf("%-10d %-12s %-6t\n", name, right.Kind, rightAlive(right))
		}
		return nil
	},
}

func rightAlive(r *ipc.Right) bool {
	if r.Kind == ipc.RightPortSet {
		return true
	}
	return r.Port != nil && r.Port.Alive()
}

func init() {
	portListCmd.Flags().StringVar(&portTaskName, "task-name", "kernel", "name of the task whose space to list")
	portCmd.AddCommand(portListCmd)
}
