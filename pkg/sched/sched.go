package sched

import (
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/nucleus/pkg/klog"
	"github.com/cuemby/nucleus/pkg/kmetrics"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// State is a thread's scheduling state.
type State int

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateSuspended
	StateTerminated
)

// TCB is a thread control block: the subset of per-thread state the
// scheduler itself must track. pkg/task's Thread embeds one of these.
type TCB struct {
	ID       string
	Priority int // 0 = highest ... NumPriorities-1 = lowest
	Quantum  int // remaining ticks in the current time slice
	State    State

	// Continuation is not read by the Scheduler; a continuation takes
	// effect when it is passed to waitqueue.Registry.ThreadBlock, which
	// runs it on a fresh goroutine once the wait is satisfied.
	Continuation func(waitqueue.Result)

	// kernelSuspend/userSuspend are the two independent suspend
	// counters spec.md's Thread entity names (§3); a thread is
	// schedulable only when both are zero.
	kernelSuspend int
	userSuspend   int

	// wait is the waiter this TCB is currently blocked on, if any. Set
	// by whichever subsystem called AssertWait on the thread's behalf
	// and cleared once ThreadBlock returns, so thread termination can
	// abort a pending wait without that subsystem's cooperation.
	wait *waitqueue.Waiter

	resumeCh chan struct{}
	mu       sync.Mutex
}

// SetWait records w as the waiter t is currently blocked on.
func (t *TCB) SetWait(w *waitqueue.Waiter) {
	t.mu.Lock()
	t.wait = w
	t.mu.Unlock()
}

// ClearWaitIfMatches clears t's recorded waiter, but only if it is
// still w (a thread that moved on to a different wait since should not
// have that one torn out from under it).
func (t *TCB) ClearWaitIfMatches(w *waitqueue.Waiter) {
	t.mu.Lock()
	if t.wait == w {
		t.wait = nil
	}
	t.mu.Unlock()
}

// CurrentWait returns the waiter t is currently blocked on, or nil.
func (t *TCB) CurrentWait() *waitqueue.Waiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wait
}

// NewTCB creates a thread control block at the given priority, ready
// to be handed to a Scheduler.
func NewTCB(id string, priority, quantum int) *TCB {
	return &TCB{
		ID:       id,
		Priority: priority,
		Quantum:  quantum,
		State:    StateReady,
		resumeCh: make(chan struct{}, 1),
	}
}

// Runnable reports whether both suspend counters are zero.
func (t *TCB) Runnable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kernelSuspend == 0 && t.userSuspend == 0
}

// SuspendKernel/ResumeKernel and SuspendUser/ResumeUser implement the
// two independent suspend counters from spec.md §3; they nest, so N
// suspends require N resumes.
func (t *TCB) SuspendKernel() { t.mu.Lock(); t.kernelSuspend++; t.mu.Unlock() }
func (t *TCB) ResumeKernel() {
	t.mu.Lock()
	if t.kernelSuspend > 0 {
		t.kernelSuspend--
	}
	t.mu.Unlock()
}
func (t *TCB) SuspendUser() { t.mu.Lock(); t.userSuspend++; t.mu.Unlock() }
func (t *TCB) ResumeUser() {
	t.mu.Lock()
	if t.userSuspend > 0 {
		t.userSuspend--
	}
	t.mu.Unlock()
}

// CPU is one simulated processor: the current thread and a
// need-reschedule flag, per spec.md §4.2.
type CPU struct {
	ID             int
	current        *TCB
	needResched    bool
	idle           *TCB
	defaultQuantum int
}

// Scheduler holds the priority run queues shared across CPUs.
type Scheduler struct {
	mu             sync.Mutex
	numPriorities  int
	queues         [][]*TCB
	defaultQuantum int
	logger         zerolog.Logger
}

// New creates a scheduler with numPriorities FIFOs (spec.md §4.2 says
// implementation-defined, >= 32) and the given default time quantum in
// ticks.
func New(numPriorities, defaultQuantum int) *Scheduler {
	if numPriorities < 1 {
		numPriorities = 32
	}
	if defaultQuantum < 1 {
		defaultQuantum = 10
	}
	return &Scheduler{
		numPriorities:  numPriorities,
		queues:         make([][]*TCB, numPriorities),
		defaultQuantum: defaultQuantum,
		logger:         klog.WithComponent("sched"),
	}
}

// NewCPU creates a CPU with its own idle thread, the lowest priority
// in the scheduler.
func (s *Scheduler) NewCPU(id int) *CPU {
	idle := NewTCB("idle", s.numPriorities-1, 1<<30)
	idle.State = StateReady
	return &CPU{ID: id, idle: idle, defaultQuantum: s.defaultQuantum}
}

// Enqueue appends t to the FIFO for its priority and marks it Ready.
// Blocked threads must never be enqueued directly - only their
// eventual wakeup should call this.
func (s *Scheduler) Enqueue(t *TCB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(t)
}

func (s *Scheduler) enqueueLocked(t *TCB) {
	t.State = StateReady
	p := s.clampPriority(t.Priority)
	s.queues[p] = append(s.queues[p], t)
	kmetrics.RunQueueLength.WithLabelValues(priorityLabel(p)).Set(float64(len(s.queues[p])))
}

func (s *Scheduler) clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p >= s.numPriorities {
		return s.numPriorities - 1
	}
	return p
}

// PickNext scans priorities high-to-low and returns (and removes) the
// front of the first non-empty FIFO, or nil if every queue is empty.
func (s *Scheduler) PickNext() *TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pickNextLocked()
}

func (s *Scheduler) pickNextLocked() *TCB {
	for p := 0; p < s.numPriorities; p++ {
		q := s.queues[p]
		if len(q) == 0 {
			continue
		}
		t := q[0]
		s.queues[p] = q[1:]
		kmetrics.RunQueueLength.WithLabelValues(priorityLabel(p)).Set(float64(len(s.queues[p])))
		return t
	}
	return nil
}

// Yield marks cpu's need-reschedule flag, the voluntary-yield
// suspension point from spec.md §5.
func (s *Scheduler) Yield(cpu *CPU) {
	s.mu.Lock()
	cpu.needResched = true
	s.mu.Unlock()
}

// Tick decrements the running thread's quantum; at zero it is reset
// and need-reschedule is set.
func (s *Scheduler) Tick(cpu *CPU) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cpu.current == nil {
		return
	}
	cpu.current.Quantum--
	if cpu.current.Quantum <= 0 {
		cpu.current.Quantum = s.defaultQuantum
		cpu.needResched = true
		kmetrics.QuantumExpirations.Inc()
	}
}

// Schedule performs one dispatch decision on cpu if need-reschedule is
// set: the outgoing thread is re-enqueued iff it is still runnable
// (Ready or Running; a thread that blocked or terminated in the interim
// is left out of every queue - its eventual wakeup enqueues it - and
// the CPU's idle thread is never enqueued), and the highest-priority runnable
// thread becomes current. It returns the new current thread, or nil if
// nothing changed.
func (s *Scheduler) Schedule(cpu *CPU) *TCB {
	s.mu.Lock()
	if !cpu.needResched {
		s.mu.Unlock()
		return nil
	}
	cpu.needResched = false

	outgoing := cpu.current
	if outgoing != nil && outgoing != cpu.idle && (outgoing.State == StateReady || outgoing.State == StateRunning) {
		s.enqueueLocked(outgoing)
	}

	next := s.pickNextFirstRunnableLocked()
	if next == nil {
		next = cpu.idle
	}
	next.State = StateRunning
	cpu.current = next
	s.mu.Unlock()

	kmetrics.ContextSwitches.Inc()
	s.logger.Debug().Str("thread_id", next.ID).Int("cpu", cpu.ID).Msg("context switch")
	return next
}

// pickNextFirstRunnableLocked is PickNext but passes over threads that
// are suspended, leaving them where they are in their queue, so a
// suspended-but-still-Ready thread never wins dispatch.
func (s *Scheduler) pickNextFirstRunnableLocked() *TCB {
	for p := 0; p < s.numPriorities; p++ {
		q := s.queues[p]
		for i, t := range q {
			if t.Runnable() {
				s.queues[p] = append(append([]*TCB{}, q[:i]...), q[i+1:]...)
				kmetrics.RunQueueLength.WithLabelValues(priorityLabel(p)).Set(float64(len(s.queues[p])))
				return t
			}
		}
	}
	return nil
}

// Current returns cpu's currently running thread.
func (cpu *CPU) Current() *TCB { return cpu.current }

// Terminate transitions t to Terminated. If t is blocked, the caller
// must separately clear-wait it with waitqueue.ResultAborted; if t is
// the running thread of some CPU, the next Tick/Schedule observes the
// state change through State and will not re-enqueue it.
func Terminate(t *TCB) {
	t.mu.Lock()
	t.State = StateTerminated
	t.mu.Unlock()
}

// AbortWait aborts t's pending wait, if it has one, delivering
// waitqueue.ResultAborted to whatever call is blocked in ThreadBlock.
// Callers terminating a thread that might be blocked should call this
// after Terminate.
func AbortWait(wq *waitqueue.Registry, t *TCB) {
	w := t.CurrentWait()
	if w == nil {
		return
	}
	wq.ClearWait(w, waitqueue.ResultAborted)
	t.ClearWaitIfMatches(w)
}

func priorityLabel(p int) string {
	return strconv.Itoa(p)
}
