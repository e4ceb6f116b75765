package ipc

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/klog"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// Space is an IPC space: a task's name-to-right translation table
// (spec.md §4.3.1). Every IPC trap takes names meaningful only within
// the calling task's own space.
type Space struct {
	mu       sync.Mutex
	id       string
	entries  map[Name]*Right
	nextName Name
	logger   zerolog.Logger
}

// NewSpace creates an empty IPC space owned by the given task id.
func NewSpace(taskID string) *Space {
	return &Space{
		id:       taskID,
		entries:  make(map[Name]*Right),
		nextName: 1,
		logger:   klog.WithComponent("ipc").With().Str("task_id", taskID).Logger(),
	}
}

// Translate resolves name to its right, failing with InvalidName if
// absent. Translation never fails for a dead port: the right is
// returned as-is (its Port.Alive() will report false), matching
// spec.md's "translation of a dead-name name succeeds but yields a
// sentinel".
func (s *Space) Translate(name Name) (*Right, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[name]
	if !ok {
		return nil, kerr.New("ipc.Translate", kerr.InvalidName)
	}
	return r, nil
}

// TranslateKind is Translate plus a right-kind check, returning
// InvalidRight if the stored right is not one of the wanted kinds.
func (s *Space) TranslateKind(name Name, want ...RightKind) (*Right, error) {
	r, err := s.Translate(name)
	if err != nil {
		return nil, err
	}
	for _, k := range want {
		if r.Kind == k {
			return r, nil
		}
	}
	return nil, kerr.New("ipc.TranslateKind", kerr.InvalidRight)
}

// Insert allocates a fresh name for right and stores it, returning the
// name.
func (s *Space) Insert(right *Right) Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.nextName
	s.nextName++
	s.entries[name] = right
	return name
}

// InsertAt stores right under an explicit name, overwriting any
// existing entry. Used by pkg/task when installing the well-known
// ports at fixed names.
func (s *Space) InsertAt(name Name, right *Right) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = right
	if name >= s.nextName {
		s.nextName = name + 1
	}
}

// Remove deletes and returns the right at name.
func (s *Space) Remove(name Name) (*Right, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[name]
	if !ok {
		return nil, kerr.New("ipc.Remove", kerr.InvalidName)
	}
	delete(s.entries, name)
	return r, nil
}

// Names returns every allocated name in the space, in no particular
// order, for teardown (spec.md §4.5 processes an arbitrary order,
// deferring receive rights).
func (s *Space) Names() []Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]Name, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	return names
}

// Destroy tears down every right in the space per spec.md §4.5's IPC
// space destruction algorithm: receive rights are processed last so
// that notifications to peers of the dying space still see valid send
// rights while those peers are being notified.
func (s *Space) Destroy(wq *waitqueue.Registry) {
	names := s.Names()

	var receives []Name
	for _, name := range names {
		r, err := s.Translate(name)
		if err != nil {
			continue
		}
		if r.Kind == RightReceive {
			receives = append(receives, name)
			continue
		}
		s.destroyRight(name, r, wq)
	}
	for _, name := range receives {
		r, err := s.Translate(name)
		if err != nil {
			continue
		}
		s.destroyRight(name, r, wq)
	}
}

func (s *Space) destroyRight(name Name, r *Right, wq *waitqueue.Registry) {
	s.Remove(name)
	switch r.Kind {
	case RightReceive:
		death, sendOnce := r.Port.Destroy(wq)
		deliverDeathNotifications(wq, r.Port, death, sendOnce)
	case RightSend:
		if sub := r.Port.DecSendRight(); sub != nil {
			deliverNoSenders(wq, sub)
		}
	case RightSendOnce:
		r.Port.DecSendOnceRight(s, name)
	case RightPortSet:
		// Set membership itself holds no port reference count; the
		// underlying receive rights are torn down independently.
	case RightDeadName:
		// Already inert; nothing to release.
	}
}
