package vm

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// Page is one resident page in a memory object.
type Page struct {
	Frame Frame
	Data  []byte
	Dirty bool
	// Ref is the hardware-reference-bit stand-in consulted by the
	// pageout daemon's two-handed clock (spec.md §4.4.4).
	Ref bool
}

// MemoryObject backs one or more map entries. It may be anonymous (no
// pager, faults zero-fill) or pager-backed; its shadow pointer, when
// set, is the object a copy-on-write fault falls through to before
// giving up (spec.md §4.4.2).
type MemoryObject struct {
	mu sync.Mutex

	ID       uuid.UUID
	pages    map[int64]*Page
	shadow   *MemoryObject
	refCount int

	pager *PagerClient // nil for anonymous objects

	// faultEvents holds one wait-event per offset, allocated by
	// faultEvent. Map.Fault does not wait on them: concurrent major
	// faults on one offset each send their own data-request.
	faultEvents map[int64]waitqueue.Event
}

// NewAnonymousObject creates an object with no pager; faults that miss
// the shadow chain entirely resolve to a fresh zero-filled page.
func NewAnonymousObject() *MemoryObject {
	return &MemoryObject{
		ID:          uuid.New(),
		pages:       make(map[int64]*Page),
		refCount:    1,
		faultEvents: make(map[int64]waitqueue.Event),
	}
}

// NewPagerBackedObject creates an object whose faults are serviced by
// an external pager (spec.md §4.4.2, §6.3).
func NewPagerBackedObject(pager *PagerClient) *MemoryObject {
	o := NewAnonymousObject()
	o.pager = pager
	return o
}

// Shadow wraps o in a fresh, empty anonymous object whose shadow
// pointer is o - the copy-on-write fork operation (spec.md §4.4.2).
func (o *MemoryObject) Shadow() *MemoryObject {
	o.mu.Lock()
	o.refCount++
	o.mu.Unlock()

	front := NewAnonymousObject()
	front.shadow = o
	return front
}

// Resolve walks the shadow chain front-to-back looking for a resident
// page at offset, without touching the pager.
func (o *MemoryObject) Resolve(offset int64) (*Page, bool) {
	for cur := o; cur != nil; cur = cur.shadowRef() {
		cur.mu.Lock()
		p, ok := cur.pages[offset]
		cur.mu.Unlock()
		if ok {
			return p, true
		}
	}
	return nil, false
}

func (o *MemoryObject) shadowRef() *MemoryObject {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shadow
}

// Install places p at offset in o (the front object of a fault).
func (o *MemoryObject) Install(offset int64, p *Page) {
	o.mu.Lock()
	o.pages[offset] = p
	o.mu.Unlock()
}

// faultEvent returns (allocating if needed) the wait-event kept in
// faultEvents for offset.
func (o *MemoryObject) faultEvent(offset int64) waitqueue.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.faultEvents[offset]; ok {
		return e
	}
	e := waitqueue.NewEvent()
	o.faultEvents[offset] = e
	return e
}

// Collapse merges o with its shadow when o is the shadow's sole
// referent, bounding chain length (spec.md §4.4.2, "shadow chain
// collapse").
func (o *MemoryObject) Collapse() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.shadow == nil {
		return
	}
	o.shadow.mu.Lock()
	defer o.shadow.mu.Unlock()
	if o.shadow.refCount > 1 {
		return
	}
	for offset, p := range o.shadow.pages {
		if _, exists := o.pages[offset]; !exists {
			o.pages[offset] = p
		}
	}
	o.shadow = o.shadow.shadow
}

// IncRef/DecRef implement the reference counting spec.md §4.5
// requires for every memory object.
func (o *MemoryObject) IncRef() {
	o.mu.Lock()
	o.refCount++
	o.mu.Unlock()
}

// DecRef releases a reference, returning true if this was the last
// one (the caller should then tear the object down: terminate its
// pager if any, release its shadow reference).
func (o *MemoryObject) DecRef() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refCount--
	return o.refCount <= 0
}

// Pager reports the object's pager client, or nil for anonymous
// objects.
func (o *MemoryObject) Pager() *PagerClient {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pager
}
