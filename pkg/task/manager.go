package task

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/klog"
	"github.com/cuemby/nucleus/pkg/sched"
	"github.com/cuemby/nucleus/pkg/vm"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// Manager is the kernel-wide task registry: it owns the scheduler,
// wait-event registry, and physical allocator every task is built
// against, and tracks every live task so host-level introspection
// (`host stats`, `task ls`) has somewhere to look.
type Manager struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task

	sched  *sched.Scheduler
	wq     *waitqueue.Registry
	alloc  *vm.PageAllocator
	kernel *Task

	logger zerolog.Logger
}

// Config configures a new Manager.
type Config struct {
	NumPriorities  int
	DefaultQuantum int
	TotalPages     int
	AddressSpan    uintptr
}

// NewManager builds the C1-C4 subsystems and wraps them in a task
// registry, then creates the kernel task (the original kernel's own
// "kernel_task", holding the host and privileged ports).
func NewManager(cfg Config) *Manager {
	wq := waitqueue.New()
	sc := sched.New(cfg.NumPriorities, cfg.DefaultQuantum)
	alloc := vm.NewPageAllocator(cfg.TotalPages, wq)

	m := &Manager{
		tasks:  make(map[uuid.UUID]*Task),
		sched:  sc,
		wq:     wq,
		alloc:  alloc,
		logger: klog.WithComponent("task-manager"),
	}

	kernel, err := New("kernel", sc, wq, alloc, 0, cfg.AddressSpan, nil, vm.InheritNone, nil)
	if err != nil {
		panic(kerr.Wrap("task.NewManager", kerr.ResourceShortage, err))
	}
	m.kernel = kernel
	m.tasks[kernel.ID] = kernel
	return m
}

// Scheduler, Registry, and Allocator expose the shared subsystems so
// callers composing the kernel (pkg/kernel) can wire traps against
// them without reaching back through a Task.
func (m *Manager) Scheduler() *sched.Scheduler      { return m.sched }
func (m *Manager) Registry() *waitqueue.Registry    { return m.wq }
func (m *Manager) Allocator() *vm.PageAllocator     { return m.alloc }
func (m *Manager) KernelTask() *Task                { return m.kernel }

// CreateTask creates a new task, optionally forking parent's VM map
// with the given inheritance, and registers it.
func (m *Manager) CreateTask(name string, parent *Task, inherit vm.Inheritance, limits *ResourceLimits) (*Task, error) {
	t, err := New(name, m.sched, m.wq, m.alloc, 0, 1<<32, parent, inherit, limits)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()
	return t, nil
}

// Get looks up a task by id.
func (m *Manager) Get(id uuid.UUID) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, kerr.New("task.Get", kerr.InvalidArgument)
	}
	return t, nil
}

// List returns every registered task.
func (m *Manager) List() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out
}

// Destroy terminates the task named by id and drops the manager's own
// reference to it (spec.md §4.5's "drop the task's self-reference").
func (m *Manager) Destroy(id uuid.UUID) error {
	t, err := m.Get(id)
	if err != nil {
		return err
	}
	t.Terminate()

	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()

	t.DecRef()
	return nil
}
