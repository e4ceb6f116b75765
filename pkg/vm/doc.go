/*
Package vm implements the kernel's VM subsystem (C4): the physical
page allocator, memory objects with copy-on-write shadow chains, VM
maps and map entries, page-fault resolution through the external-pager
protocol, and the pageout daemon.

# Shape

	Map ──entries──▶ MapEntry ──▶ MemoryObject ──shadow──▶ MemoryObject ──▶ (pager | nil)
	                      │
	                      ▼
	                 page table (address → Frame)

A read fault walks the shadow chain front-to-back until a resident
page is found, or the last object's pager is consulted (spec.md
§4.4.2). A write fault on a copy-on-write entry allocates a fresh page
in the front object, copies the resolved page into it, and installs it
with write permission - the shadow chain itself is what keeps this
local to the faulting offset rather than duplicating the whole object.

# Grounding

The physical allocator and pageout daemon follow the teacher's
ticker-driven Start/Stop worker shape (pkg/metrics/collector.go,
pkg/scheduler/scheduler.go); the external-pager client reuses the
context-scoped, typed-error request/reply style of
pkg/runtime/containerd.go, adapted from an OCI container client to a
data-request/data-supply message exchange over pkg/ipc.
*/
package vm
