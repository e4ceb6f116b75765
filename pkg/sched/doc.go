/*
Package sched implements the kernel's preemptive priority scheduler
(C2): one FIFO run queue per priority level, quantum accounting, and
continuation-aware context switching.

# Architecture

Sched keeps one FIFO per priority level (spec.md §4.2: N levels,
>= 32) plus one idle TCB per CPU. There is no dispatcher goroutine:
the caller drives each CPU. Yield, or Tick when the running thread's
quantum expires, sets the CPU's need-reschedule flag, and the next
Schedule call makes one dispatch decision:

	┌──────────────────────── Schedule(cpu) ─────────────────────────┐
	│  need-reschedule clear?  → no change                           │
	│  outgoing Ready/Running? → re-enqueue at the tail of its FIFO  │
	│  outgoing Blocked?       → leave it out of every queue (the    │
	│                            eventual thread-wakeup enqueues it) │
	│  first runnable thread (idle if none) → mark Running           │
	└────────────────────────────────────────────────────────────────┘

Go cannot forcibly suspend a running goroutine mid-instruction, so
"preemption" here is exactly what spec.md §4.2's cancellation section
already describes for real kernels too: Tick marks need-reschedule,
and the thread only actually yields the CPU when it reaches a defined
checkpoint (a syscall return, an assert-wait, a voluntary Yield). This
is not a simplification invented for Go - it mirrors how the flag is
consumed in the source kernel's own scheduler.

# Continuations

A thread blocking with a continuation does not keep its calling
goroutine parked; ThreadBlock(continuation) is handed to the
wait-event registry (pkg/waitqueue), which resumes the continuation on
a fresh goroutine once the wait is satisfied, exactly modeling "jump to
the continuation on a fresh kernel stack rather than restoring full
context" (spec.md §4.2).
*/
package sched
