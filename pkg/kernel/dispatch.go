package kernel

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/nucleus/pkg/ipc"
	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/task"
	"github.com/cuemby/nucleus/pkg/trap"
	"github.com/cuemby/nucleus/pkg/vm"
)

// Args is the six-register argument vector a trap carries (spec.md
// §6.1: "up to six arguments in the standard argument registers").
// Message-category traps ignore Args and instead carry their payload
// in the wire bytes passed to Dispatch, per §6.2.
type Args [6]uint64

// Result is a trap's return value: a scalar (an allocated address, a
// translated name, a region's bounds) and/or a reply message's wire
// bytes for a receive.
type Result struct {
	Value uint64
	Reply []byte
}

// Dispatch decodes trap n's arguments against callerTask/callerThread
// and vectors it to the appropriate subsystem, mirroring spec.md
// §6.1's six-way split by trap number range. wire carries a §6.2
// message for the message category and is otherwise unused.
func (k *Kernel) Dispatch(callerTask uuid.UUID, callerThread string, n trap.Number, args Args, wire []byte) (Result, error) {
	t, err := k.Tasks.Get(callerTask)
	if err != nil {
		return Result{}, err
	}

	switch trap.CategoryOf(n) {
	case trap.CategorySelfPorts:
		return k.dispatchSelfPorts(n)
	case trap.CategoryMessage:
		return k.dispatchMessage(t, n, args, wire)
	case trap.CategoryVM:
		return k.dispatchVM(t, n, args, wire)
	case trap.CategoryPortRight:
		return k.dispatchPortRight(t, n, args)
	case trap.CategoryScheduling:
		return k.dispatchScheduling(t, callerThread, n, args)
	default:
		return Result{}, kerr.New("kernel.Dispatch", kerr.InvalidArgument)
	}
}

// dispatchSelfPorts answers the trivial self-port lookups: every
// task's well-known names are fixed, so task-self and host-self never
// need to touch the task's Space. Reply-port and thread-self are not
// implemented: this kernel has no per-thread port distinct from the
// task-level ports pkg/task installs, so there is nothing for them to
// return beyond what task-self already gives (documented in
// DESIGN.md alongside the task package's exception-port gap).
func (k *Kernel) dispatchSelfPorts(n trap.Number) (Result, error) {
	switch n {
	case trap.TrapTaskSelf:
		return Result{Value: uint64(task.NameTaskControl)}, nil
	case trap.TrapHostSelf:
		return Result{Value: uint64(task.NameHost)}, nil
	default:
		return Result{}, fmt.Errorf("kernel.Dispatch: trap %d (reply-port/thread-self) is not implemented", n)
	}
}

// dispatchMessage vectors the three message traps (spec.md §6.1's
// 32..63 range) to pkg/ipc.Send/Receive, using pkg/trap's wire codec
// to move between the §6.2 byte layout and *ipc.Message.
//
// Args layout: args[0] != 0 means blocking, args[1] is a timeout in
// nanoseconds (0 means no timeout), args[2] (receive only) is the
// buffer size limit, args[3] (receive only) is the Name to receive
// from when it is not carried by the message itself.
func (k *Kernel) dispatchMessage(t *task.Task, n trap.Number, args Args, wire []byte) (Result, error) {
	wq := k.Tasks.Registry()
	opts := ipc.SendOptions{
		Blocking: args[0] != 0,
		Timeout:  time.Duration(args[1]),
	}
	recvOpts := ipc.ReceiveOptions{
		Blocking:   args[0] != 0,
		Timeout:    time.Duration(args[1]),
		BufferSize: int(args[2]),
	}

	switch n {
	case trap.TrapMsgSend:
		msg, err := trap.Decode(wire)
		if err != nil {
			return Result{}, err
		}
		if err := ipc.Send(t.Space, wq, msg, msg.Header.RemoteName, opts); err != nil {
			return Result{}, err
		}
		return Result{}, nil

	case trap.TrapMsgReceive:
		msg, err := ipc.Receive(t.Space, wq, ipc.Name(args[3]), recvOpts)
		if err != nil {
			return Result{}, err
		}
		reply, err := trap.Encode(msg)
		if err != nil {
			return Result{}, err
		}
		return Result{Reply: reply}, nil

	case trap.TrapMsgSendReceive:
		msg, err := trap.Decode(wire)
		if err != nil {
			return Result{}, err
		}
		if err := ipc.Send(t.Space, wq, msg, msg.Header.RemoteName, opts); err != nil {
			return Result{}, err
		}
		reply, err := ipc.Receive(t.Space, wq, msg.Header.LocalName, recvOpts)
		if err != nil {
			return Result{}, err
		}
		out, err := trap.Encode(reply)
		if err != nil {
			return Result{}, err
		}
		return Result{Reply: out}, nil

	default:
		return Result{}, kerr.New("kernel.dispatchMessage", kerr.InvalidArgument)
	}
}

// dispatchVM vectors the allocate/deallocate/protect/read/write/region
// traps (spec.md §6.1's 64..95 range) directly onto the caller's VM
// map. vm-inherit and vm-copy are not implemented: pkg/vm.Map.Copy only
// runs at task-fork time (spec.md §4.4.3), and re-tagging an existing
// live mapping's inheritance, or copying a range between two
// already-running tasks' maps outside of fork, has no seed scenario in
// spec.md §8 to ground a design against - documented here rather than
// guessed at.
func (k *Kernel) dispatchVM(t *task.Task, n trap.Number, args Args, wire []byte) (Result, error) {
	switch n {
	case trap.TrapVMAllocate:
		addr, err := t.Map.Allocate(uintptr(args[0]), vm.AllocateOptions{
			FixedAddress: uintptr(args[1]),
			Protection:   vm.Protection(args[2]),
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Value: uint64(addr)}, nil

	case trap.TrapVMDeallocate:
		if err := t.Map.Deallocate(uintptr(args[0]), uintptr(args[1])); err != nil {
			return Result{}, err
		}
		return Result{}, nil

	case trap.TrapVMProtect:
		if err := t.Map.Protect(uintptr(args[0]), uintptr(args[1]), vm.Protection(args[2])); err != nil {
			return Result{}, err
		}
		return Result{}, nil

	case trap.TrapVMRead:
		data, err := t.Map.ReadAt(uintptr(args[0]), int(args[1]))
		if err != nil {
			return Result{}, err
		}
		return Result{Reply: data}, nil

	case trap.TrapVMWrite:
		if err := t.Map.WriteAt(uintptr(args[0]), wire); err != nil {
			return Result{}, err
		}
		return Result{}, nil

	case trap.TrapVMRegion:
		region, err := t.Map.Region(uintptr(args[0]))
		if err != nil {
			return Result{}, err
		}
		return Result{Value: uint64(region.Start)}, nil

	case trap.TrapVMInherit, trap.TrapVMCopy:
		return Result{}, fmt.Errorf("kernel.Dispatch: trap %d (vm-inherit/vm-copy) is not implemented", n)

	default:
		return Result{}, kerr.New("kernel.dispatchVM", kerr.InvalidArgument)
	}
}

// dispatchPortRight vectors port-allocate and port-deallocate (spec.md
// §6.1's 96..127 range). Insert-right, extract-right, mod-refs and
// get/set-attributes are not implemented: pkg/ipc.Port tracks no
// user-reference count or queue-limit/notify attributes separate from
// the fields spec.md's seed scenarios (§8) exercise, so there is
// nothing for those four operations to read or write yet.
func (k *Kernel) dispatchPortRight(t *task.Task, n trap.Number, args Args) (Result, error) {
	switch n {
	case trap.TrapPortAllocate:
		p := ipc.NewPort(int(args[0]))
		name := t.Space.Insert(&ipc.Right{Kind: ipc.RightReceive, Port: p})
		return Result{Value: uint64(name)}, nil

	case trap.TrapPortDeallocate:
		name := ipc.Name(args[0])
		right, err := t.Space.Remove(name)
		if err != nil {
			return Result{}, err
		}
		switch right.Kind {
		case ipc.RightReceive:
			ipc.DestroyPort(right.Port, k.Tasks.Registry())
		case ipc.RightSend:
			right.Port.DecSendRight()
		case ipc.RightSendOnce:
			right.Port.DecSendOnceRight(t.Space, name)
		}
		return Result{}, nil

	default:
		return Result{}, fmt.Errorf("kernel.Dispatch: trap %d (insert/extract-right, mod-refs, get/set-attributes) is not implemented", n)
	}
}

// dispatchScheduling vectors thread-yield and thread-set-priority
// (spec.md §6.1's 128..159 range). thread-switch (a scheduling hint to
// favor a named thread) is not implemented: the scheduler's run queue
// only exposes priority-ordered enqueue/pick (spec.md §4.2), with no
// hook for a one-off "prefer this thread next" hint distinct from
// raising its priority, so thread-switch has no faithful mapping onto
// the existing C2 API.
func (k *Kernel) dispatchScheduling(t *task.Task, callerThread string, n trap.Number, args Args) (Result, error) {
	th := findThread(t, callerThread)
	if th == nil {
		return Result{}, kerr.New("kernel.dispatchScheduling", kerr.InvalidArgument)
	}

	switch n {
	case trap.TrapThreadYield:
		k.Tasks.Scheduler().Enqueue(th.TCB)
		return Result{}, nil

	case trap.TrapThreadSetPriority:
		th.TCB.Priority = int(args[0])
		k.Tasks.Scheduler().Enqueue(th.TCB)
		return Result{}, nil

	case trap.TrapThreadSwitch:
		return Result{}, fmt.Errorf("kernel.Dispatch: trap %d (thread-switch) is not implemented", n)

	default:
		return Result{}, kerr.New("kernel.dispatchScheduling", kerr.InvalidArgument)
	}
}

func findThread(t *task.Task, id string) *task.Thread {
	for _, th := range t.Threads() {
		if th.TCB.ID == id {
			return th
		}
	}
	return nil
}
