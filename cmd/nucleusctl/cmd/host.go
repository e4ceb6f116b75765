package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Query the kernel's host port",
}

var hostInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show static host parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := bootKernel()
		if err != nil {
			return fmt.Errorf("boot kernel: %w", err)
		}
		defer k.Shutdown()

		info := k.HostInfo()
		fmt.Printf("%-12s %d\n", "PAGE_SIZE", info.PageSize)
		fmt.Printf("%-12s %d\n", "NUM_CPUS", info.NumCPUs)
		return nil
	},
}

var hostStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show current page-level counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := bootKernel()
		if err != nil {
			return fmt.Errorf("boot kernel: %w", err)
		}
		defer k.Shutdown()

		stats := k.HostStatistics()
		fmt.Printf("%-12s %d\n", "FREE", stats.FreePages)
		fmt.Printf("%-12s %d\n", "ACTIVE", stats.ActivePages)
		fmt.Printf("%-12s %d\n", "INACTIVE", stats.InactivePages)
		fmt.Printf("%-12s %d\n", "WIRED", stats.WiredPages)
		return nil
	},
}

func init() {
	hostCmd.AddCommand(hostInfoCmd)
	hostCmd.AddCommand(hostStatsCmd)
}
