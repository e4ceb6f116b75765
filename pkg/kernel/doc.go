// Package kernel is the composition root: it wires C1 (pkg/waitqueue),
// C2 (pkg/sched), C3 (pkg/ipc), C4 (pkg/vm) and C5 (pkg/task) together
// behind a single Kernel value, the way the teacher's pkg/manager.Manager
// wires storage, scheduler, and runtime behind one Manager. It also
// exposes the host well-known port's two operations (host-info,
// host-statistics, from the original kernel's own host.rs) and the
// trap dispatcher that turns a (trap number, wire bytes) pair into a
// call against those subsystems.
package kernel
