package ipc

import (
	"time"

	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/kmetrics"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// SendOptions controls Send's blocking behavior (spec.md §4.3.2).
type SendOptions struct {
	Blocking       bool
	Timeout        time.Duration
	NotifyDeadPort bool
}

// resolved is one descriptor's pre-validated translation, staged so
// the whole send can be rolled back atomically if any descriptor
// fails (spec.md §9, "Transactional rollback").
type resolved struct {
	desc  PortDescriptor
	right *Right
}

// Send implements the message send algorithm (spec.md §4.3.2). It is
// all-or-nothing with respect to the sender's rights: if any step
// fails before the message is queued, nothing is consumed.
func Send(space *Space, wq *waitqueue.Registry, msg *Message, dest Name, opts SendOptions) error {
	destRight, err := space.TranslateKind(dest, RightSend, RightSendOnce)
	if err != nil {
		return err
	}
	port := destRight.Port

	resolvedDescs, err := resolveDescriptors(space, msg.Ports)
	if err != nil {
		return err
	}

	port.mu.Lock()
	if !port.alive {
		port.mu.Unlock()
		if opts.NotifyDeadPort {
			port.RequestDeadNameNotify(space, dest)
		}
		return kerr.New("ipc.Send", kerr.PortDead)
	}

	for len(port.queue) >= port.cap {
		if !opts.Blocking {
			port.mu.Unlock()
			return kerr.New("ipc.Send", kerr.QueueFull)
		}
		deadline := time.Time{}
		if opts.Timeout > 0 {
			deadline = time.Now().Add(opts.Timeout)
		}
		w := wq.AssertWait(port.sendEvent, "sender", 16, deadline)
		port.mu.Unlock()

		res := wq.ThreadBlock(w, nil)
		if res != waitqueue.ResultOK {
			return sendResultErr(res)
		}
		port.mu.Lock()
		if !port.alive {
			port.mu.Unlock()
			return kerr.New("ipc.Send", kerr.PortDead)
		}
	}

	port.seq++
	msg.Seq = port.seq
	msg.resolvedPorts = make([]*Port, len(resolvedDescs))
	for i, rd := range resolvedDescs {
		msg.resolvedPorts[i] = rd.right.Port
	}
	port.queue = append(port.queue, msg)
	depth := len(port.queue)
	port.mu.Unlock()

	kmetrics.QueueDepth.WithLabelValues(port.ID.String()).Set(float64(depth))
	wq.ThreadWakeupOne(port.recvEvent)

	commitDescriptors(space, wq, resolvedDescs)
	if destRight.Kind == RightSendOnce {
		space.Remove(dest)
		port.DecSendOnceRight(space, dest)
	}

	kmetrics.MessagesSent.Inc()
	return nil
}

func sendResultErr(res waitqueue.Result) error {
	switch res {
	case waitqueue.ResultTimedOut:
		return kerr.New("ipc.Send", kerr.TimedOut)
	case waitqueue.ResultAborted:
		return kerr.New("ipc.Send", kerr.Aborted)
	default:
		return kerr.New("ipc.Send", kerr.Interrupted)
	}
}

// resolveDescriptors validates (without mutating) every transferred
// port right named in descs against space, per the disposition rules
// in spec.md §4.3.2 step 2.
func resolveDescriptors(space *Space, descs []PortDescriptor) ([]resolved, error) {
	out := make([]resolved, 0, len(descs))
	for _, d := range descs {
		var want []RightKind
		switch d.Disposition {
		case DispositionMoveReceive:
			want = []RightKind{RightReceive}
		case DispositionMoveSend, DispositionCopySend:
			want = []RightKind{RightSend}
		case DispositionMoveSendOnce:
			want = []RightKind{RightSendOnce}
		case DispositionMakeSend, DispositionMakeSendOnce:
			want = []RightKind{RightReceive}
		default:
			return nil, kerr.New("ipc.resolveDescriptors", kerr.InvalidArgument)
		}
		r, err := space.TranslateKind(d.Name, want...)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved{desc: d, right: r})
	}
	return out, nil
}

// commitDescriptors applies the sender-side effects of each resolved
// descriptor now that the message has been successfully queued
// (spec.md §4.3.2 step 2's per-disposition effects). A MoveSend's
// decrement never arms a no-senders notification: the right is only
// in transit, and installRights at the receiver re-increments it on
// delivery, matching the "MoveSend-inserted" increment spec.md §4.3.4
// names.
func commitDescriptors(space *Space, wq *waitqueue.Registry, descs []resolved) {
	for _, rd := range descs {
		switch rd.desc.Disposition {
		case DispositionMoveReceive:
			space.Remove(rd.desc.Name)
		case DispositionMoveSend:
			space.Remove(rd.desc.Name)
			rd.right.Port.DecSendRightForMove()
		case DispositionMoveSendOnce:
			space.Remove(rd.desc.Name)
			rd.right.Port.DecSendOnceRight(space, rd.desc.Name)
		case DispositionCopySend:
			rd.right.Port.IncSendRight()
		case DispositionMakeSend:
			rd.right.Port.IncSendRight()
		case DispositionMakeSendOnce:
			rd.right.Port.IncSendOnceRight(space, rd.desc.Name)
		}
	}
}
