package task

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/nucleus/pkg/ipc"
	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/klog"
	"github.com/cuemby/nucleus/pkg/kmetrics"
	"github.com/cuemby/nucleus/pkg/sched"
	"github.com/cuemby/nucleus/pkg/vm"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// Well-known names installed as send rights in every task's own space
// at creation (spec.md §4.5). Fixed low numbers so every task's
// control/exception/bootstrap/name/host ports sit at the same names,
// mirroring Mach's itk_self/itk_exception/itk_bootstrap convention.
const (
	NameTaskControl ipc.Name = 1
	NameException   ipc.Name = 2
	NameBootstrap   ipc.Name = 3
	NameTaskName    ipc.Name = 4
	NameHost        ipc.Name = 5
)

// State is a task's lifecycle state.
type State int

const (
	StateActive State = iota
	StateSuspended
	StateTerminated
)

// wellKnownPorts holds the receive-side ports a task owns for its five
// well-known send rights. The task (not any external holder) owns
// these receive rights, so Task.destroy is what tears them down.
type wellKnownPorts struct {
	control   *ipc.Port
	exception *ipc.Port
	bootstrap *ipc.Port
	taskName  *ipc.Port
	host      *ipc.Port
}

// Task is the basic unit of resource allocation: an IPC space, a VM
// map, a set of threads, and the well-known ports (spec.md §4.5).
type Task struct {
	mu sync.Mutex

	ID   uuid.UUID
	Name string

	refCount int32
	state    State

	Space *ipc.Space
	Map   *vm.Map

	threads []*Thread
	limits  *ResourceLimits
	ports   wellKnownPorts

	sched  *sched.Scheduler
	wq     *waitqueue.Registry
	logger zerolog.Logger
}

// New creates a task with a fresh IPC space and VM map spanning
// [minAddr, maxAddr). If parent is non-nil, parent's VM map is copied
// into the new task's map with the given inheritance (spec.md §4.5,
// §4.4.3).
func New(name string, sc *sched.Scheduler, wq *waitqueue.Registry, alloc *vm.PageAllocator, minAddr, maxAddr uintptr, parent *Task, inherit vm.Inheritance, limits *ResourceLimits) (*Task, error) {
	if limits == nil {
		limits = DefaultResourceLimits()
	}

	t := &Task{
		ID:       uuid.New(),
		Name:     name,
		refCount: 1,
		state:    StateActive,
		Space:    ipc.NewSpace(name),
		Map:      vm.NewMap(minAddr, maxAddr, alloc, wq),
		limits:   limits,
		sched:    sc,
		wq:       wq,
		logger:   klog.WithComponent("task").With().Str("task_name", name).Logger(),
	}

	if parent != nil {
		if err := parent.Map.Copy(t.Map, minAddr, maxAddr-minAddr, inherit); err != nil {
			return nil, kerr.Wrap("task.New", kerr.InvalidArgument, err)
		}
	}

	t.installWellKnownPorts()
	kmetrics.TasksLive.Inc()
	t.logger.Info().Str("task_id", t.ID.String()).Msg("task created")
	return t, nil
}

func (t *Task) installWellKnownPorts() {
	t.ports.control = ipc.NewPort(8)
	t.ports.exception = ipc.NewPort(8)
	t.ports.bootstrap = ipc.NewPort(8)
	t.ports.taskName = ipc.NewPort(8)
	t.ports.host = ipc.NewPort(8)

	install := func(name ipc.Name, p *ipc.Port) {
		p.IncSendRight()
		t.Space.InsertAt(name, &ipc.Right{Kind: ipc.RightSend, Port: p})
	}
	install(NameTaskControl, t.ports.control)
	install(NameException, t.ports.exception)
	install(NameBootstrap, t.ports.bootstrap)
	install(NameTaskName, t.ports.taskName)
	install(NameHost, t.ports.host)
}

// IncRef adds a reference to t.
func (t *Task) IncRef() {
	atomic.AddInt32(&t.refCount, 1)
}

// DecRef releases a reference and reports whether the count reached
// zero. It frees nothing itself; the task's IPC space and VM map are
// torn down by Terminate.
func (t *Task) DecRef() bool {
	return atomic.AddInt32(&t.refCount, -1) <= 0
}

// State reports t's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// CreateThread adds a new thread named name to t and enqueues it on the
// scheduler, at the task's default priority when priority is negative.
func (t *Task) CreateThread(name string, priority int) *Thread {
	if priority < 0 {
		priority = t.limits.DefaultPriority
	}
	tcb := sched.NewTCB(t.ID.String()+"/"+name, priority, t.limits.DefaultQuantum)
	th := &Thread{TCB: tcb, Task: t}

	t.mu.Lock()
	t.threads = append(t.threads, th)
	t.mu.Unlock()

	t.sched.Enqueue(tcb)
	kmetrics.ThreadsLive.Inc()
	return th
}

// Threads returns a snapshot of t's threads.
func (t *Task) Threads() []*Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Thread, len(t.threads))
	copy(out, t.threads)
	return out
}

// Suspend/Resume are the user-visible task suspend operations
// (spec.md §5): every thread's user suspend counter is incremented or
// decremented in lock-step.
func (t *Task) Suspend() {
	t.mu.Lock()
	t.state = StateSuspended
	threads := append([]*Thread(nil), t.threads...)
	t.mu.Unlock()
	for _, th := range threads {
		th.TCB.SuspendUser()
	}
}

func (t *Task) Resume() {
	t.mu.Lock()
	if t.state == StateSuspended {
		t.state = StateActive
	}
	threads := append([]*Thread(nil), t.threads...)
	t.mu.Unlock()
	for _, th := range threads {
		th.TCB.ResumeUser()
		t.sched.Enqueue(th.TCB)
	}
}

// Terminate implements task destruction (spec.md §4.5): mark
// inactive, terminate every thread, destroy the IPC space (which fans
// out no-senders/port-death notifications), release the VM map, and
// release the well-known ports. The task structure itself persists
// until DecRef reports the last reference gone.
func (t *Task) Terminate() {
	t.mu.Lock()
	if t.state == StateTerminated {
		t.mu.Unlock()
		return
	}
	t.state = StateTerminated
	threads := append([]*Thread(nil), t.threads...)
	t.mu.Unlock()

	for _, th := range threads {
		th.terminate(t.wq)
		kmetrics.ThreadsLive.Dec()
	}

	t.Space.Destroy(t.wq)

	t.Map.DeallocateAll()

	for _, p := range []*ipc.Port{t.ports.control, t.ports.exception, t.ports.bootstrap, t.ports.taskName, t.ports.host} {
		ipc.DestroyPort(p, t.wq)
	}

	kmetrics.TasksLive.Dec()
	t.logger.Info().Str("task_id", t.ID.String()).Msg("task terminated")
}

// DeliverException sends a message to the task's exception port,
// following the original kernel's own documented fallback (thread
// port first, task port if that fails, terminate the thread if both
// fail) - simplified here to the task-level port since this kernel
// does not yet model a per-thread exception port.
func (t *Task) DeliverException(threadID string, excType uint32, code int64) error {
	body := make([]byte, 8+8)
	putUint64(body, uint64(excType))
	putUint64(body[8:], uint64(code))

	msg := &ipc.Message{
		Header: ipc.MessageHeader{ID: MsgException},
		Inline: body,
	}
	err := ipc.Send(t.Space, t.wq, msg, NameException, ipc.SendOptions{Blocking: false})
	if err != nil {
		t.logger.Warn().Str("thread_id", threadID).Err(err).Msg("exception delivery failed, terminating thread")
		for _, th := range t.Threads() {
			if th.TCB.ID == threadID {
				th.terminate(t.wq)
			}
		}
	}
	return err
}

// MsgException is the message id used for exception delivery.
const MsgException uint32 = 0x65786300

func putUint64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (56 - 8*i))
	}
}
