package ipc

import (
	"time"

	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/kmetrics"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// ReceiveOptions controls Receive's blocking behavior and buffer
// sizing (spec.md §4.3.3).
type ReceiveOptions struct {
	Blocking   bool
	Timeout    time.Duration
	BufferSize int // 0 means unbounded
}

// Receive implements the message receive algorithm (spec.md §4.3.3).
// target must translate to a Receive right or a PortSet membership.
func Receive(space *Space, wq *waitqueue.Registry, target Name, opts ReceiveOptions) (*Message, error) {
	right, err := space.TranslateKind(target, RightReceive, RightPortSet)
	if err != nil {
		return nil, err
	}

	for {
		port := selectReadyPort(right)
		if port == nil {
			if !opts.Blocking {
				return nil, kerr.New("ipc.Receive", kerr.Empty)
			}
			var event waitqueue.Event
			if right.Kind == RightPortSet {
				event = right.Set.event
			} else {
				event = right.Port.recvEventSnapshot()
			}
			deadline := time.Time{}
			if opts.Timeout > 0 {
				deadline = time.Now().Add(opts.Timeout)
			}
			w := wq.AssertWait(event, "receiver", 16, deadline)
			res := wq.ThreadBlock(w, nil)
			if res != waitqueue.ResultOK {
				return nil, sendResultErr(res)
			}
			if right.Kind == RightReceive && !right.Port.Alive() {
				return nil, kerr.New("ipc.Receive", kerr.PortDead)
			}
			continue // spurious wakes are legal; redo the queue check
		}

		msg, err := dequeue(port, opts.BufferSize)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}

		installRights(space, msg)
		wq.ThreadWakeupOne(port.sendEvent)
		kmetrics.MessagesReceived.Inc()
		kmetrics.QueueDepth.WithLabelValues(port.ID.String()).Set(float64(port.QueueDepth()))
		return msg, nil
	}
}

func (p *Port) recvEventSnapshot() waitqueue.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recvEvent
}

// selectReadyPort finds a port with a non-empty queue for a single
// receive right or the first ready member of a port set.
func selectReadyPort(right *Right) *Port {
	if right.Kind == RightPortSet {
		return right.Set.firstReady()
	}
	if right.Port.QueueDepth() > 0 {
		return right.Port
	}
	return nil
}

// dequeue pops the head message. If bufferSize is non-zero and smaller
// than the message, the message is left queued and a too-large error
// is reported, per spec.md §4.3.3's buffer-too-small rollback rule.
func dequeue(port *Port, bufferSize int) (*Message, error) {
	port.mu.Lock()
	defer port.mu.Unlock()
	if len(port.queue) == 0 {
		return nil, nil
	}
	head := port.queue[0]
	if bufferSize > 0 && len(head.Inline) > bufferSize {
		return nil, kerr.New("ipc.Receive", kerr.TooLarge)
	}
	port.queue = port.queue[1:]
	return head, nil
}

// installRights installs each transferred right into the receiver's
// space per the disposition recorded at send (spec.md §4.3.3 step 6).
// MoveReceive also updates the port's receive-holder and, per the
// Open Question decision in DESIGN.md, removes any port-set membership
// at this installation point rather than at send-stage translation.
// MoveSend re-increments the send count that commitDescriptors'
// DecSendRightForMove dropped at send time, so the right is counted
// exactly once across the whole move instead of vanishing in transit.
func installRights(space *Space, msg *Message) {
	for i, d := range msg.Ports {
		port := msg.resolvedPorts[i]
		var kind RightKind
		switch d.Disposition {
		case DispositionMoveReceive:
			kind = RightReceive
			port.mu.Lock()
			port.hasReceive = true
			port.receiverTask = space.id
			if port.memberOf != nil {
				port.memberOf.removeLocked(port)
				port.memberOf = nil
				port.recvEvent = nextEvent()
			}
			port.mu.Unlock()
		case DispositionMoveSend:
			kind = RightSend
			port.IncSendRight()
		case DispositionCopySend, DispositionMakeSend:
			kind = RightSend
		case DispositionMoveSendOnce, DispositionMakeSendOnce:
			kind = RightSendOnce
		}
		space.Insert(&Right{Kind: kind, Port: port})
	}
}
