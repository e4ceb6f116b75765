package vm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

func TestPageAllocatorAllocFreeRoundTrip(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	a := NewPageAllocator(2, wq)
	assert.Equal(t, 2, a.FreeCount())

	f1, err := a.Alloc(false)
	require.NoError(t, err)
	f2, err := a.Alloc(false)
	require.NoError(t, err)
	assert.NotEqual(t, f1, f2)
	assert.Equal(t, 0, a.FreeCount())

	_, err = a.Alloc(false)
	assert.True(t, kerr.Is(err, kerr.NoSpace))

	a.Free(f1)
	assert.Equal(t, 1, a.FreeCount())
}

func TestPageAllocatorBlockingAllocWaitsForFree(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	a := NewPageAllocator(1, wq)
	f1, err := a.Alloc(false)
	require.NoError(t, err)

	done := make(chan Frame, 1)
	go func() {
		f, err := a.Alloc(true)
		if err == nil {
			done <- f
		}
	}()

	time.Sleep(10 * time.Millisecond)
	a.Free(f1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocking Alloc never woke up after Free")
	}
}

func TestPageAllocatorWiredFrameSurvivesFree(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	a := NewPageAllocator(1, wq)
	f, err := a.Alloc(false)
	require.NoError(t, err)

	a.Wire(f)
	a.Free(f)
	assert.Equal(t, 0, a.FreeCount(), "a wired frame must not return to the free list")

	a.Unwire(f)
	a.Free(f)
	assert.Equal(t, 1, a.FreeCount())
}

func TestMemoryObjectShadowCollapse(t *testing.T) {
	base := NewAnonymousObject()
	base.Install(0, &Page{Frame: 1, Data: []byte("base")})

	front := base.Shadow()
	assert.True(t, base.DecRef() == false, "base still has the front's reference")

	_, ok := front.Resolve(0)
	require.True(t, ok, "front must resolve through the shadow chain to base's page")

	front.Collapse()
	p, ok := front.Resolve(0)
	require.True(t, ok, "collapse must pull base's pages into front")
	assert.Equal(t, "base", string(p.Data))
}

func TestMapAllocateRejectsOverlappingFixedAddress(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()
	alloc := NewPageAllocator(16, wq)
	m := NewMap(0, 1<<20, alloc, wq)

	addr, err := m.Allocate(PageSize, AllocateOptions{FixedAddress: PageSize * 4})
	require.NoError(t, err)
	assert.Equal(t, PageSize*4, int(addr))

	_, err = m.Allocate(PageSize, AllocateOptions{FixedAddress: PageSize * 4})
	assert.True(t, kerr.Is(err, kerr.NoSpace))
}

func TestMapProtectRejectsExceedingMaxProtection(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()
	alloc := NewPageAllocator(16, wq)
	m := NewMap(0, 1<<20, alloc, wq)

	base, err := m.Allocate(PageSize, AllocateOptions{Protection: ProtRead})
	require.NoError(t, err)

	entry := m.findEntryLocked(base)
	entry.MaxProtection = ProtRead

	err = m.Protect(base, PageSize, ProtRead|ProtWrite)
	assert.True(t, kerr.Is(err, kerr.ProtectionFailure))
}

func TestMapDeallocateSplitsStraddlingEntry(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()
	alloc := NewPageAllocator(16, wq)
	m := NewMap(0, 1<<20, alloc, wq)

	base, err := m.Allocate(4*PageSize, AllocateOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Deallocate(base+PageSize, 2*PageSize))

	require.Len(t, m.entries, 2)
	assert.Equal(t, base, m.entries[0].Start)
	assert.Equal(t, base+PageSize, m.entries[0].End)
	assert.Equal(t, base+3*PageSize, m.entries[1].Start)
	assert.Equal(t, base+4*PageSize, m.entries[1].End)
}

func TestMapFaultOutsideAnyEntryFailsWithInvalidAddress(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()
	alloc := NewPageAllocator(16, wq)
	m := NewMap(0, 1<<20, alloc, wq)

	err := m.Fault(PageSize*100, FaultRead)
	assert.True(t, kerr.Is(err, kerr.InvalidAddress))
}

func TestMapFaultRejectsAccessBeyondEntryProtection(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()
	alloc := NewPageAllocator(16, wq)
	m := NewMap(0, 1<<20, alloc, wq)

	base, err := m.Allocate(PageSize, AllocateOptions{Protection: ProtRead})
	require.NoError(t, err)

	err = m.Fault(base, FaultWrite)
	assert.True(t, kerr.Is(err, kerr.ProtectionFailure))
}

func TestPageoutDaemonReclaimsInactivePagesUnderLowWater(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()
	alloc := NewPageAllocator(4, wq)

	frames := make([]Frame, 0, 4)
	for i := 0; i < 4; i++ {
		f, err := alloc.Alloc(false)
		require.NoError(t, err)
		frames = append(frames, f)
	}
	assert.Equal(t, 0, alloc.FreeCount())

	d := NewPageoutDaemon(alloc, 2, 4, time.Millisecond)
	obj := NewAnonymousObject()
	for i, f := range frames {
		p := &Page{Frame: f, Data: make([]byte, PageSize)}
		obj.Install(int64(i)*PageSize, p)
		d.Track(obj, int64(i)*PageSize, p)
	}

	// Simulate the clock already having demoted everything to inactive.
	d.mu.Lock()
	for _, e := range d.entries {
		e.active = false
	}
	d.mu.Unlock()

	d.reclaimUntilHighWater()
	assert.Equal(t, 4, alloc.FreeCount())
}
