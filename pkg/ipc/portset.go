package ipc

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// PortSet aggregates receive rights for a multi-port select (spec.md
// §4.3.5). A receive right can belong to at most one set at a time;
// membership redirects the port's receive-wait event to the set's.
type PortSet struct {
	mu      sync.Mutex
	ID      uuid.UUID
	event   waitqueue.Event
	members map[uuid.UUID]*Port
}

// NewPortSet creates an empty port set.
func NewPortSet() *PortSet {
	return &PortSet{
		ID:      uuid.New(),
		event:   nextEvent(),
		members: make(map[uuid.UUID]*Port),
	}
}

// Add aggregates port's receive right into the set. The right stays
// with its holder task; only its receive-wait event is redirected.
func (s *PortSet) Add(p *Port) {
	s.mu.Lock()
	s.members[p.ID] = p
	s.mu.Unlock()

	p.mu.Lock()
	p.memberOf = s
	p.recvEvent = s.event
	p.mu.Unlock()
}

// Remove dissociates port from the set; it may receive standalone
// again on a freshly allocated event.
func (s *PortSet) Remove(p *Port) {
	s.mu.Lock()
	s.removeLocked(p)
	s.mu.Unlock()

	p.mu.Lock()
	if p.memberOf == s {
		p.memberOf = nil
		p.recvEvent = nextEvent()
	}
	p.mu.Unlock()
}

func (s *PortSet) removeLocked(p *Port) {
	delete(s.members, p.ID)
}

// firstReady returns the first member port with a non-empty queue, or
// nil if none are ready.
func (s *PortSet) firstReady() *Port {
	s.mu.Lock()
	members := make([]*Port, 0, len(s.members))
	for _, m := range s.members {
		members = append(members, m)
	}
	s.mu.Unlock()

	for _, m := range members {
		if m.QueueDepth() > 0 {
			return m
		}
	}
	return nil
}
