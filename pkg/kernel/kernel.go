package kernel

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nucleus/pkg/klog"
	"github.com/cuemby/nucleus/pkg/task"
	"github.com/cuemby/nucleus/pkg/vm"
)

// Config configures a Kernel: the C5 task-manager knobs plus the
// pageout daemon's watermarks and sweep interval (spec.md §4.4.4).
type Config struct {
	NumPriorities  int
	DefaultQuantum int
	TotalPages     int
	AddressSpan    uintptr

	PageoutLowWater  int
	PageoutHighWater int
	PageoutInterval  time.Duration

	NumCPUs int
}

// Kernel is the composition root: one value wiring the wait-event
// registry, scheduler, IPC, VM and task subsystems together, the way
// the teacher's pkg/manager.Manager wires storage, scheduler, and
// runtime behind a single Manager.
type Kernel struct {
	Tasks   *task.Manager
	Pageout *vm.PageoutDaemon

	numCPUs int
	logger  zerolog.Logger
}

// New builds a Kernel and starts its pageout daemon.
func New(cfg Config) (*Kernel, error) {
	if cfg.NumCPUs <= 0 {
		cfg.NumCPUs = 1
	}

	tasks := task.NewManager(task.Config{
		NumPriorities:  cfg.NumPriorities,
		DefaultQuantum: cfg.DefaultQuantum,
		TotalPages:     cfg.TotalPages,
		AddressSpan:    cfg.AddressSpan,
	})

	pageout := vm.NewPageoutDaemon(tasks.Allocator(), cfg.PageoutLowWater, cfg.PageoutHighWater, cfg.PageoutInterval)
	pageout.Start()

	k := &Kernel{
		Tasks:   tasks,
		Pageout: pageout,
		numCPUs: cfg.NumCPUs,
		logger:  klog.WithComponent("kernel"),
	}
	k.logger.Info().Int("total_pages", cfg.TotalPages).Msg("kernel started")
	return k, nil
}

// Shutdown stops the pageout daemon. Live tasks are left as-is; callers
// that want a clean teardown should Destroy them first.
func (k *Kernel) Shutdown() {
	k.Pageout.Stop()
	k.logger.Info().Msg("kernel stopped")
}

// HostInfo is the host port's static query (spec.md's host-info,
// answered from data the original kernel's host.rs never actually
// computed beyond a doc comment).
type HostInfo struct {
	PageSize int
	NumCPUs  int
}

// HostInfo reports k's static host parameters.
func (k *Kernel) HostInfo() HostInfo {
	return HostInfo{PageSize: vm.PageSize, NumCPUs: k.numCPUs}
}

// HostStatistics is the host port's dynamic counters (host-statistics).
type HostStatistics struct {
	FreePages     int
	ActivePages   int
	InactivePages int
	WiredPages    int
}

// HostStatistics reports k's current page-level counters.
func (k *Kernel) HostStatistics() HostStatistics {
	alloc := k.Tasks.Allocator()
	return HostStatistics{
		FreePages:     alloc.FreeCount(),
		ActivePages:   k.Pageout.ActiveCount(),
		InactivePages: k.Pageout.InactiveCount(),
		WiredPages:    alloc.WiredCount(),
	}
}
