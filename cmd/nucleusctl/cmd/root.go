// Package cmd implements nucleusctl, a debug harness for an
// in-process kernel instance (the kernel has no network surface, so
// unlike cmd/warren this talks to an embedded kernel rather than a
// remote manager).
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/nucleus/pkg/kconfig"
	"github.com/cuemby/nucleus/pkg/kernel"
	"github.com/cuemby/nucleus/pkg/vm"
)

var (
	cfgPath   string
	demoTasks int
)

var rootCmd = &cobra.Command{
	Use:   "nucleusctl",
	Short: "Introspect an embedded nucleus kernel instance",
	Long: `nucleusctl boots a fresh kernel instance in-process and runs a
single introspection command against it - host info, host stats, task
ls, or port ls. The kernel persists no state across boots (spec.md
§6.4), so each invocation seeds --demo-tasks throwaway tasks to give
task ls/port ls something to show.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "boot config path (YAML); built-in defaults if omitted")
	rootCmd.PersistentFlags().IntVar(&demoTasks, "demo-tasks", 2, "number of throwaway tasks to seed at boot")

	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(portCmd)
}

// bootKernel loads the boot config (or its defaults) and starts a
// fresh Kernel, seeding demoTasks throwaway tasks so introspection
// commands have something to print.
func bootKernel() (*kernel.Kernel, error) {
	cfg := kconfig.Default()
	if cfgPath != "" {
		loaded, err := kconfig.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	k, err := kernel.New(kernel.Config{
		NumPriorities:    cfg.PriorityLevels,
		DefaultQuantum:   int(cfg.TimeQuantum / time.Millisecond),
		TotalPages:       cfg.PhysicalPages,
		AddressSpan:      1 << 32,
		PageoutLowWater:  cfg.PageoutLowWater,
		PageoutHighWater: cfg.PageoutHighWater,
	})
	if err != nil {
		return nil, err
	}

	for i := 0; i < demoTasks; i++ {
		if _, err := k.Tasks.CreateTask(demoTaskName(i), nil, vm.InheritNone, nil); err != nil {
			k.Shutdown()
			return nil, err
		}
	}
	return k, nil
}

func demoTaskName(i int) string {
	names := []string{"demo-worker", "demo-pager", "demo-helper"}
	if i < len(names) {
		return names[i]
	}
	return "demo-task"
}
