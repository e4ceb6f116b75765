package task

import (
	"github.com/cuemby/nucleus/pkg/sched"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// Thread is the unit of execution within a Task: a scheduler TCB plus
// the task it belongs to (spec.md §3, "Thread").
type Thread struct {
	TCB  *sched.TCB
	Task *Task
}

// terminate wakes thread from any wait with "aborted" and transitions
// it to terminated, the first step of task destruction (spec.md
// §4.5).
func (th *Thread) terminate(wq *waitqueue.Registry) {
	sched.AbortWait(wq, th.TCB)
	sched.Terminate(th.TCB)
}
