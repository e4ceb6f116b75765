/*
Package ipc implements the kernel's port & message engine (C3), the
center of the kernel: port objects, rights/capabilities, IPC spaces,
message send and receive, rights reference counting, port sets, and
no-senders / port-death / dead-name notifications.

# Shape

Every public boundary uses tagged variants rather than virtual
dispatch, following the teacher's Command{Op, Data} FSM pattern in
spirit: a Right is one small struct carrying a RightKind enum, and a
message's transferred rights each carry a Disposition enum with fixed
ABI-style numeric values (spec.md §6.2) rather than a hierarchy of
right types.

	┌─────────────┐  translate   ┌──────┐  enqueue   ┌────────────┐
	│ Space (name)│─────────────▶│ Right│───────────▶│ Port queue │
	└─────────────┘              └──────┘            └────────────┘
	      ▲                                                 │
	      └─────────────────── install on receive ──────────┘

# Blocking

Send and Receive block through pkg/waitqueue exactly like every other
blocking primitive in this kernel: a full queue parks the sender on the
port's send-wait event, an empty queue parks the receiver on the
port's (or port set's) receive-wait event.

# Locking

Per spec.md §5's fixed lock order (space → task → map → object → port
→ page-queue → free-list), Space locks are always acquired and
released before a Port lock is taken; no call in this package holds
both at once.
*/
package ipc
