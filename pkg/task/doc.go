// Package task implements task and thread lifecycle (spec.md §4.5): task
// creation and destruction, IPC-space and VM-map teardown ordering, and
// the reference counting that defers destruction until the last
// reference drops.
//
//	Task
//	 ├─ ipc.Space        (name → right table, C3)
//	 ├─ vm.Map           (address space, C4)
//	 ├─ []*Thread        (each wraps a sched.TCB, C2)
//	 └─ well-known ports (task-control, exception, bootstrap, task-name, host)
//
// Grounded on the original kernel's own task.rs: reference counting via
// task_reference/task_deallocate, internal suspend ("hold"/"release")
// versus user-visible suspend as two independent counters (mirrored
// here through sched.TCB's SuspendKernel/SuspendUser), and destruction
// walking threads, then the IPC space, then the VM map in that order.
package task
