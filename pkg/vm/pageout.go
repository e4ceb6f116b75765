package vm

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nucleus/pkg/klog"
	"github.com/cuemby/nucleus/pkg/kmetrics"
)

// pageoutEntry tracks one resident page for the two-handed clock,
// independent of which Map currently has it installed.
type pageoutEntry struct {
	object *MemoryObject
	offset int64
	page   *Page
	active bool
}

// PageoutDaemon runs the two-handed clock eviction policy (spec.md
// §4.4.4): a dedicated goroutine, ticker-driven like the teacher's
// scheduler and metrics collector loops.
type PageoutDaemon struct {
	mu       sync.Mutex
	entries  []*pageoutEntry
	frontIdx int
	backIdx  int

	alloc     *PageAllocator
	lowWater  int
	highWater int
	interval  time.Duration

	stopCh chan struct{}
	logger zerolog.Logger
}

// NewPageoutDaemon creates a daemon that keeps alloc's free count
// between lowWater and highWater.
func NewPageoutDaemon(alloc *PageAllocator, lowWater, highWater int, interval time.Duration) *PageoutDaemon {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &PageoutDaemon{
		alloc:     alloc,
		lowWater:  lowWater,
		highWater: highWater,
		interval:  interval,
		stopCh:    make(chan struct{}),
		logger:    klog.WithComponent("pageout"),
	}
}

// Track registers a newly-installed resident page as active, so the
// clock hands will eventually consider it.
func (d *PageoutDaemon) Track(object *MemoryObject, offset int64, page *Page) {
	page.Ref = true
	d.mu.Lock()
	d.entries = append(d.entries, &pageoutEntry{object: object, offset: offset, page: page, active: true})
	d.mu.Unlock()
}

// ActiveCount and InactiveCount report the clock's current active and
// inactive set sizes, for host statistics (spec.md's "host" port
// supplement, §6.1).
func (d *PageoutDaemon) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.entries {
		if e.active {
			n++
		}
	}
	return n
}

func (d *PageoutDaemon) InactiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.entries {
		if !e.active {
			n++
		}
	}
	return n
}

// Start runs the clock loop until Stop is called.
func (d *PageoutDaemon) Start() {
	go d.run()
}

// Stop halts the clock loop.
func (d *PageoutDaemon) Stop() {
	close(d.stopCh)
}

func (d *PageoutDaemon) run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *PageoutDaemon) tick() {
	d.sweepFrontHand()
	d.sweepBackHand()
	if d.alloc.FreeCount() < d.lowWater {
		d.reclaimUntilHighWater()
	}
}

// sweepFrontHand periodically clears the reference bit of active
// pages, advancing through the active set.
func (d *PageoutDaemon) sweepFrontHand() {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.entries {
		if e.active {
			e.page.Ref = false
			n++
			if n >= 32 { // bound the work done per tick
				break
			}
		}
	}
}

// sweepBackHand examines pages whose reference bit is still clear and
// moves them to the inactive queue (active = false).
func (d *PageoutDaemon) sweepBackHand() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if e.active && !e.page.Ref {
			e.active = false
		}
	}
}

// reclaimUntilHighWater scans the inactive queue, writing dirty pages
// back through their object's pager and freeing clean ones, until the
// free pool is restored to the high-water mark.
func (d *PageoutDaemon) reclaimUntilHighWater() {
	for d.alloc.FreeCount() < d.highWater {
		d.mu.Lock()
		var victim *pageoutEntry
		idx := -1
		for i, e := range d.entries {
			if !e.active {
				victim, idx = e, i
				break
			}
		}
		if victim == nil {
			d.mu.Unlock()
			return
		}
		d.entries = append(d.entries[:idx], d.entries[idx+1:]...)
		d.mu.Unlock()

		if victim.page.Dirty {
			if pager := victim.object.Pager(); pager != nil {
				if err := pager.ReturnData(victim.offset, victim.page.Data, true); err != nil {
					d.logger.Warn().Err(err).Msg("data-return failed, page kept resident")
					continue
				}
			}
			kmetrics.Pageouts.Inc()
		}
		d.alloc.Free(victim.page.Frame)
	}
}
