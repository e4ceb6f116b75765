package vm

import (
	"sort"
	"sync"

	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/kmetrics"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// Protection is a bitmask of allowed access modes.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExecute
)

// FaultKind identifies what kind of access triggered Map.Fault.
type FaultKind int

const (
	FaultRead FaultKind = iota
	FaultWrite
	FaultExecute
)

func (k FaultKind) requires() Protection {
	switch k {
	case FaultWrite:
		return ProtWrite
	case FaultExecute:
		return ProtExecute
	default:
		return ProtRead
	}
}

// Inheritance controls what Map.Copy does with an entry when forking
// into a destination map (spec.md §4.4.3).
type Inheritance int

const (
	InheritShare Inheritance = iota
	InheritCopy
	InheritNone
)

// MapEntry describes one mapped range of a Map.
type MapEntry struct {
	Start, End    uintptr
	Object        *MemoryObject
	ObjectOffset  int64
	Protection    Protection
	MaxProtection Protection
	COW           bool
}

func (e *MapEntry) contains(addr uintptr) bool { return addr >= e.Start && addr < e.End }
func (e *MapEntry) size() uintptr              { return e.End - e.Start }

// AllocateOptions controls Map.Allocate.
type AllocateOptions struct {
	FixedAddress uintptr // if non-zero, fail unless this exact range is free
	Protection   Protection
}

// Map is a task's VM map: a sorted, disjoint set of MapEntry ranges
// plus a simulated hardware page table (spec.md §4.4.3). All four map
// operations take m's lock; entry-level work additionally takes the
// per-object lock, always in map-then-object order (spec.md §5).
type Map struct {
	mu       sync.Mutex
	entries  []*MapEntry
	minAddr  uintptr
	maxAddr  uintptr
	pageSize uintptr
	nextHint uintptr

	pageTable map[uintptr]Frame
	alloc     *PageAllocator
	wq        *waitqueue.Registry
}

// NewMap creates an empty map spanning [min, max).
func NewMap(min, max uintptr, alloc *PageAllocator, wq *waitqueue.Registry) *Map {
	return &Map{
		minAddr:   min,
		maxAddr:   max,
		pageSize:  PageSize,
		nextHint:  min,
		pageTable: make(map[uintptr]Frame),
		alloc:     alloc,
		wq:        wq,
	}
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// Allocate finds a gap of at least size (page-aligned) and creates a
// map entry backed by a fresh anonymous object (spec.md §4.4.3).
func (m *Map) Allocate(size uintptr, opts AllocateOptions) (uintptr, error) {
	size = alignUp(size, m.pageSize)

	m.mu.Lock()
	defer m.mu.Unlock()

	var base uintptr
	if opts.FixedAddress != 0 {
		base = opts.FixedAddress
		if m.overlapsLocked(base, base+size) {
			return 0, kerr.New("vm.Allocate", kerr.NoSpace)
		}
	} else {
		found := false
		candidate := m.nextHint
		for _, e := range m.sortedEntriesLocked() {
			if candidate+size <= e.Start {
				found = true
				break
			}
			if e.End > candidate {
				candidate = alignUp(e.End, m.pageSize)
			}
		}
		if !found && candidate+size > m.maxAddr {
			return 0, kerr.New("vm.Allocate", kerr.NoSpace)
		}
		base = candidate
	}
	if base+size > m.maxAddr || base < m.minAddr {
		return 0, kerr.New("vm.Allocate", kerr.NoSpace)
	}

	prot := opts.Protection
	if prot == 0 {
		prot = ProtRead | ProtWrite
	}
	entry := &MapEntry{
		Start:         base,
		End:           base + size,
		Object:        NewAnonymousObject(),
		Protection:    prot,
		MaxProtection: ProtRead | ProtWrite | ProtExecute,
	}
	m.entries = append(m.entries, entry)
	m.nextHint = alignUp(entry.End, m.pageSize)
	return base, nil
}

// Deallocate splits straddling entries at range boundaries, drops
// references to affected objects, and removes the covered entries
// (spec.md §4.4.3).
func (m *Map) Deallocate(addr, size uintptr) error {
	end := addr + size
	m.mu.Lock()
	defer m.mu.Unlock()

	m.splitAtLocked(addr)
	m.splitAtLocked(end)

	var kept []*MapEntry
	for _, e := range m.entries {
		if e.Start >= addr && e.End <= end {
			if e.Object.DecRef() {
				if p := e.Object.Pager(); p != nil {
					_ = p.Terminate()
				}
			}
			for a := e.Start; a < e.End; a += m.pageSize {
				if f, ok := m.pageTable[a]; ok {
					m.alloc.Free(f)
					delete(m.pageTable, a)
				}
			}
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	m.invalidate(addr, size)
	return nil
}

// DeallocateAll releases every entry in m: used by task destruction
// (spec.md §4.5), which walks the whole map tearing down objects
// rather than deallocating a specific range.
func (m *Map) DeallocateAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = nil
	m.mu.Unlock()

	for _, e := range entries {
		if e.Object.DecRef() {
			if p := e.Object.Pager(); p != nil {
				_ = p.Terminate()
			}
		}
		m.mu.Lock()
		for a := e.Start; a < e.End; a += m.pageSize {
			if f, ok := m.pageTable[a]; ok {
				m.alloc.Free(f)
				delete(m.pageTable, a)
			}
		}
		m.mu.Unlock()
	}
}

// Protect adjusts protections after splitting at the range boundaries.
// Fails if the requested protection exceeds any covered entry's
// maximum.
func (m *Map) Protect(addr, size uintptr, newProt Protection) error {
	end := addr + size
	m.mu.Lock()
	defer m.mu.Unlock()

	m.splitAtLocked(addr)
	m.splitAtLocked(end)

	for _, e := range m.entries {
		if e.Start >= addr && e.End <= end {
			if newProt&^e.MaxProtection != 0 {
				return kerr.New("vm.Protect", kerr.ProtectionFailure)
			}
		}
	}
	for _, e := range m.entries {
		if e.Start >= addr && e.End <= end {
			e.Protection = newProt
		}
	}
	m.invalidate(addr, size)
	return nil
}

// Copy maps range [addr, addr+size) of m into dest according to
// inheritance (spec.md §4.4.3): Share points both maps at the same
// object; Copy installs a shadow object with copy-on-write on both
// sides; None gives dest no mapping.
func (m *Map) Copy(dest *Map, addr, size uintptr, inh Inheritance) error {
	if inh == InheritNone {
		return nil
	}
	end := addr + size

	m.mu.Lock()
	m.splitAtLocked(addr)
	m.splitAtLocked(end)
	var covered []*MapEntry
	for _, e := range m.entries {
		if e.Start >= addr && e.End <= end {
			covered = append(covered, e)
		}
	}
	m.mu.Unlock()

	dest.mu.Lock()
	defer dest.mu.Unlock()
	for _, e := range covered {
		var obj *MemoryObject
		cow := false
		switch inh {
		case InheritShare:
			e.Object.IncRef()
			obj = e.Object
		case InheritCopy:
			// Both sides get their own private front shadow chained to
			// the same frozen parent; a write fault on either side
			// installs into that entry's own front, never the parent,
			// so the other side's shadow keeps resolving the
			// unmodified original page (spec.md §4.4.2 isolation).
			destShadow := e.Object.Shadow()
			srcShadow := e.Object.Shadow()
			e.Object.DecRef()
			e.Object = srcShadow
			e.COW = true
			cow = true
			obj = destShadow
		}
		dest.entries = append(dest.entries, &MapEntry{
			Start:         e.Start,
			End:           e.End,
			Object:        obj,
			ObjectOffset:  e.ObjectOffset,
			Protection:    e.Protection,
			MaxProtection: e.MaxProtection,
			COW:           cow,
		})
	}
	return nil
}

// Fault resolves a page fault at addr (spec.md §4.4.3, §4.4.2).
func (m *Map) Fault(addr uintptr, kind FaultKind) error {
	m.mu.Lock()
	entry := m.findEntryLocked(addr)
	if entry == nil {
		m.mu.Unlock()
		return kerr.New("vm.Fault", kerr.InvalidAddress)
	}
	if entry.Protection&kind.requires() == 0 {
		m.mu.Unlock()
		return kerr.New("vm.Fault", kerr.ProtectionFailure)
	}
	alignedAddr := addr - (addr % m.pageSize)
	offset := entry.ObjectOffset + int64(alignedAddr-entry.Start)
	obj := entry.Object
	cow := entry.COW && kind == FaultWrite
	m.mu.Unlock()

	page, found := obj.Resolve(offset)
	if found && !cow {
		kmetrics.PageFaultsMinor.Inc()
		m.installLocked(alignedAddr, page.Frame)
		return nil
	}

	if found && cow {
		kmetrics.PageFaultsMinor.Inc()
		fresh, err := m.copyPage(page)
		if err != nil {
			return err
		}
		obj.Install(offset, fresh)
		m.installLocked(alignedAddr, fresh.Frame)
		return nil
	}

	if pager := obj.Pager(); pager != nil {
		kmetrics.PageFaultsMajor.Inc()
		data, err := pager.RequestData(offset, int(m.pageSize), entry.Protection)
		if err != nil {
			return err
		}
		fresh, err := m.newZeroPage()
		if err != nil {
			return err
		}
		copy(fresh.Data, data)
		obj.Install(offset, fresh)
		m.installLocked(alignedAddr, fresh.Frame)
		return nil
	}

	kmetrics.PageFaultsMinor.Inc()
	fresh, err := m.newZeroPage()
	if err != nil {
		return err
	}
	obj.Install(offset, fresh)
	m.installLocked(alignedAddr, fresh.Frame)
	return nil
}

// ReadAt copies length bytes starting at addr out of m, faulting in
// any page not yet resident. Used by the vm-read trap (spec.md §6.1).
func (m *Map) ReadAt(addr uintptr, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	for len(out) < length {
		pageAddr := addr - (addr % m.pageSize)
		if err := m.Fault(addr, FaultRead); err != nil {
			return nil, err
		}
		data, _, err := m.residentPage(pageAddr)
		if err != nil {
			return nil, err
		}
		end := int(m.pageSize) - int(addr-pageAddr)
		want := length - len(out)
		if want < end {
			end = want
		}
		out = append(out, data[addr-pageAddr:int(addr-pageAddr)+end]...)
		addr += uintptr(end)
	}
	return out, nil
}

// WriteAt copies data into m starting at addr, faulting in (for write)
// any page not yet resident. Used by the vm-write trap.
func (m *Map) WriteAt(addr uintptr, data []byte) error {
	written := 0
	for written < len(data) {
		pageAddr := addr - (addr % m.pageSize)
		if err := m.Fault(addr, FaultWrite); err != nil {
			return err
		}
		page, _, err := m.residentPage(pageAddr)
		if err != nil {
			return err
		}
		end := int(m.pageSize) - int(addr-pageAddr)
		want := len(data) - written
		if want < end {
			end = want
		}
		copy(page[addr-pageAddr:int(addr-pageAddr)+end], data[written:written+end])
		written += end
		addr += uintptr(end)
	}
	return nil
}

// residentPage returns the backing data slice for the page mapped at
// pageAddr (already page-aligned), plus its object-relative offset.
func (m *Map) residentPage(pageAddr uintptr) ([]byte, int64, error) {
	m.mu.Lock()
	entry := m.findEntryLocked(pageAddr)
	if entry == nil {
		m.mu.Unlock()
		return nil, 0, kerr.New("vm.residentPage", kerr.InvalidAddress)
	}
	offset := entry.ObjectOffset + int64(pageAddr-entry.Start)
	obj := entry.Object
	m.mu.Unlock()

	page, found := obj.Resolve(offset)
	if !found {
		return nil, 0, kerr.New("vm.residentPage", kerr.InvalidAddress)
	}
	return page.Data, offset, nil
}

func (m *Map) newZeroPage() (*Page, error) {
	f, err := m.alloc.Alloc(true)
	if err != nil {
		return nil, err
	}
	return &Page{Frame: f, Data: make([]byte, m.pageSize)}, nil
}

func (m *Map) copyPage(src *Page) (*Page, error) {
	fresh, err := m.newZeroPage()
	if err != nil {
		return nil, err
	}
	copy(fresh.Data, src.Data)
	return fresh, nil
}

func (m *Map) installLocked(addr uintptr, f Frame) {
	m.mu.Lock()
	m.pageTable[addr] = f
	m.mu.Unlock()
}

// Region reports the mapping covering addr, for the vm-region trap
// (spec.md §6.1). The returned MapEntry is a copy; callers must not
// mutate it.
func (m *Map) Region(addr uintptr) (MapEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findEntryLocked(addr)
	if e == nil {
		return MapEntry{}, kerr.New("vm.Region", kerr.InvalidAddress)
	}
	return *e, nil
}

func (m *Map) findEntryLocked(addr uintptr) *MapEntry {
	for _, e := range m.entries {
		if e.contains(addr) {
			return e
		}
	}
	return nil
}

func (m *Map) overlapsLocked(start, end uintptr) bool {
	for _, e := range m.entries {
		if start < e.End && e.Start < end {
			return true
		}
	}
	return false
}

func (m *Map) sortedEntriesLocked() []*MapEntry {
	out := append([]*MapEntry(nil), m.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// splitAtLocked splits any entry straddling addr into two entries at
// addr, a no-op if addr falls on an existing boundary or outside any
// entry. Caller holds m.mu.
func (m *Map) splitAtLocked(addr uintptr) {
	for i, e := range m.entries {
		if addr <= e.Start || addr >= e.End {
			continue
		}
		left := &MapEntry{
			Start: e.Start, End: addr,
			Object: e.Object, ObjectOffset: e.ObjectOffset,
			Protection: e.Protection, MaxProtection: e.MaxProtection, COW: e.COW,
		}
		right := &MapEntry{
			Start: addr, End: e.End,
			Object: e.Object, ObjectOffset: e.ObjectOffset + int64(addr-e.Start),
			Protection: e.Protection, MaxProtection: e.MaxProtection, COW: e.COW,
		}
		e.Object.IncRef()
		m.entries = append(m.entries[:i], append([]*MapEntry{left, right}, m.entries[i+1:]...)...)
		return
	}
}

// invalidate is the TLB-shootdown seam (spec.md §9's open question):
// on real multi-CPU hardware this would IPI every other CPU currently
// using m and wait for acknowledgement before returning. This kernel
// runs a single simulated CPU per Map, so there is nothing to shoot
// down yet; the hook exists so a multi-CPU implementation has a single
// place to add it.
func (m *Map) invalidate(addr, size uintptr) {}
