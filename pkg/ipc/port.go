package ipc

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/nucleus/pkg/kmetrics"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// nextEvent allocates a fresh, globally unique wait-event key. Ports,
// and port sets each own one.
func nextEvent() waitqueue.Event {
	return waitqueue.NewEvent()
}

// deadNameSub is one dead-name/port-death notification subscriber: a
// send-once right, already resolved to its target space and name, to
// be delivered to when the port dies.
type deadNameSub struct {
	space *Space
	name  Name
}

// Port is an identity-stable kernel object with a message queue, a
// single receive-right holder, and reference-counted send rights
// (spec.md §3, "Port").
type Port struct {
	mu sync.Mutex

	ID uuid.UUID

	alive bool
	queue []*Message
	cap   int
	seq   uint64

	sendRights     int64
	sendOnceRights int64
	hasReceive     bool
	receiverTask   string // weak reference: task id, may be stale

	recvEvent waitqueue.Event // redirected to memberOf.event while set-member
	sendEvent waitqueue.Event
	memberOf  *PortSet

	noSenders    *deadNameSub // armed no-senders notification target, or nil
	deathSubs    []*deadNameSub
	sendOnceSubs []*deadNameSub // pending send-once notifications, fired on death
}

// NewPort allocates a live port with the given bounded queue capacity
// and installs the creating task's receive right.
func NewPort(capacity int) *Port {
	if capacity < 1 {
		capacity = 16
	}
	p := &Port{
		ID:         uuid.New(),
		alive:      true,
		cap:        capacity,
		hasReceive: true,
		recvEvent:  nextEvent(),
		sendEvent:  nextEvent(),
	}
	kmetrics.PortsLive.Inc()
	return p
}

// Alive reports whether the port has not yet been destroyed.
func (p *Port) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

// ArmNoSenders registers space/name (a send-once right already
// translated to this port) to be notified when the send-right count
// reaches zero while the port is still live.
func (p *Port) ArmNoSenders(space *Space, name Name) {
	p.mu.Lock()
	p.noSenders = &deadNameSub{space: space, name: name}
	p.mu.Unlock()
}

// RequestDeadNameNotify registers space/name to receive a
// port-death/dead-name notification when the port is destroyed.
func (p *Port) RequestDeadNameNotify(space *Space, name Name) {
	p.mu.Lock()
	p.deathSubs = append(p.deathSubs, &deadNameSub{space: space, name: name})
	p.mu.Unlock()
}

// IncSendRight records one more outstanding send right.
func (p *Port) IncSendRight() {
	p.mu.Lock()
	p.sendRights++
	p.mu.Unlock()
}

// DecSendRight releases one outstanding send right. It returns the
// armed no-senders subscriber if this was the last one on a still-live
// port, matching spec.md §4.3.4.
func (p *Port) DecSendRight() *deadNameSub {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendRights > 0 {
		p.sendRights--
	}
	if p.sendRights == 0 && p.alive && p.noSenders != nil {
		sub := p.noSenders
		p.noSenders = nil
		return sub
	}
	return nil
}

// DecSendRightForMove releases the sender's outstanding send right for
// a MoveSend in transit. Unlike DecSendRight it never arms a
// no-senders notification: the right isn't gone, it's queued in the
// message on its way to IncSendRight at the receiver's installRights,
// and a momentary zero count mid-move is not the "no senders anywhere"
// condition spec.md §4.3.4's notification is for.
func (p *Port) DecSendRightForMove() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendRights > 0 {
		p.sendRights--
	}
}

// IncSendOnceRight records one more outstanding send-once right,
// tracking its holder so that a port death still in progress can
// synthesize a send-once notification to it.
func (p *Port) IncSendOnceRight(space *Space, name Name) {
	p.mu.Lock()
	p.sendOnceRights++
	p.sendOnceSubs = append(p.sendOnceSubs, &deadNameSub{space: space, name: name})
	p.mu.Unlock()
}

// DecSendOnceRight releases one outstanding send-once right (consumed
// on use, independent of the no-senders count), removing it from the
// pending-death-notification list.
func (p *Port) DecSendOnceRight(space *Space, name Name) {
	p.mu.Lock()
	if p.sendOnceRights > 0 {
		p.sendOnceRights--
	}
	for i, sub := range p.sendOnceSubs {
		if sub.space == space && sub.name == name {
			p.sendOnceSubs = append(p.sendOnceSubs[:i], p.sendOnceSubs[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// Destroy tears the port down: it stops accepting sends, wakes every
// blocked sender and receiver, and returns the dead-name/port-death and
// send-once subscribers still owed a notification. Callers that need
// those delivered should pass the result to deliverDeathNotifications.
func (p *Port) Destroy(wq *waitqueue.Registry) (death []*deadNameSub, sendOnce []*deadNameSub) {
	p.mu.Lock()
	if !p.alive {
		p.mu.Unlock()
		return nil, nil
	}
	p.alive = false
	p.hasReceive = false
	death = p.deathSubs
	sendOnce = p.sendOnceSubs
	p.deathSubs = nil
	p.sendOnceSubs = nil
	if p.memberOf != nil {
		p.memberOf.removeLocked(p)
	}
	p.mu.Unlock()

	wq.ThreadWakeup(p.recvEvent)
	wq.ThreadWakeup(p.sendEvent)
	kmetrics.PortsLive.Dec()
	return death, sendOnce
}

// QueueDepth reports the number of messages currently queued, for
// metrics and tests.
func (p *Port) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
