package vm

import (
	"sync"
	"time"

	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/klog"
	"github.com/cuemby/nucleus/pkg/kmetrics"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// PageSize is the kernel's fixed frame size.
const PageSize = 4096

// Frame is a physical page frame number.
type Frame uint64

// PageAllocator is the physical page allocator (spec.md §4.4.1): a
// free list of fixed-size frames, with a wire count per frame so
// wired pages are never handed back to the pageout daemon.
type PageAllocator struct {
	mu        sync.Mutex
	free      []Frame
	wireCount map[Frame]int
	total     int

	wq        *waitqueue.Registry
	freeEvent waitqueue.Event
}

// NewPageAllocator creates an allocator with `total` frames already on
// the free list.
func NewPageAllocator(total int, wq *waitqueue.Registry) *PageAllocator {
	a := &PageAllocator{
		wireCount: make(map[Frame]int),
		total:     total,
		wq:        wq,
		freeEvent: waitqueue.NewEvent(),
	}
	a.free = make([]Frame, total)
	for i := 0; i < total; i++ {
		a.free[i] = Frame(i)
	}
	kmetrics.PagesFree.Set(float64(total))
	return a
}

// Alloc pops a frame off the free list. If none is available and
// blocking is true, the caller waits on the pageout daemon's
// free-event; otherwise it fails with NoSpace.
func (a *PageAllocator) Alloc(blocking bool) (Frame, error) {
	for {
		a.mu.Lock()
		if len(a.free) > 0 {
			f := a.free[len(a.free)-1]
			a.free = a.free[:len(a.free)-1]
			a.mu.Unlock()
			kmetrics.PagesFree.Set(float64(a.freeCountLocked()))
			return f, nil
		}
		a.mu.Unlock()
		if !blocking {
			return 0, kerr.New("vm.Alloc", kerr.NoSpace)
		}
		w := a.wq.AssertWait(a.freeEvent, "page-allocator", 8, time.Time{})
		res := a.wq.ThreadBlock(w, nil)
		if res != waitqueue.ResultOK {
			return 0, kerr.New("vm.Alloc", kerr.NoSpace)
		}
	}
}

// Free returns f to the head of the free list and wakes any blocked
// allocators.
func (a *PageAllocator) Free(f Frame) {
	a.mu.Lock()
	if a.wireCount[f] > 0 {
		a.mu.Unlock()
		klog.WithComponent("vm").Warn().Uint64("frame", uint64(f)).Msg("free of wired frame ignored")
		return
	}
	a.free = append(a.free, f)
	depth := a.freeCountLocked()
	a.mu.Unlock()

	kmetrics.PagesFree.Set(float64(depth))
	a.wq.ThreadWakeup(a.freeEvent)
}

// Wire increments f's wire count, keeping it out of pageout
// consideration.
func (a *PageAllocator) Wire(f Frame) {
	a.mu.Lock()
	a.wireCount[f]++
	a.mu.Unlock()
	kmetrics.PagesWired.Inc()
}

// Unwire decrements f's wire count; once it reaches zero the frame
// becomes pageable again (it is not implicitly freed).
func (a *PageAllocator) Unwire(f Frame) {
	a.mu.Lock()
	if a.wireCount[f] > 0 {
		a.wireCount[f]--
		if a.wireCount[f] == 0 {
			delete(a.wireCount, f)
		}
	}
	a.mu.Unlock()
	kmetrics.PagesWired.Dec()
}

// FreeCount reports the current free-list depth.
func (a *PageAllocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeCountLocked()
}

func (a *PageAllocator) freeCountLocked() int { return len(a.free) }

// WiredCount reports how many frames currently have a non-zero wire
// count, for host statistics (spec.md's "host" port supplement, §6.1).
func (a *PageAllocator) WiredCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.wireCount)
}

// Total reports the allocator's fixed frame count.
func (a *PageAllocator) Total() int {
	return a.total
}
