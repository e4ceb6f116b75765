package vm

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nucleus/pkg/ipc"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// TestCopyOnWriteFork covers scenario C from spec.md §8: a parent map
// forked into a child with InheritCopy sees a private copy of a page
// the child writes, while unrelated offsets stay shared.
func TestCopyOnWriteFork(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	alloc := NewPageAllocator(64, wq)
	parent := NewMap(0, 1<<20, alloc, wq)

	base, err := parent.Allocate(2*PageSize, AllocateOptions{})
	require.NoError(t, err)

	require.NoError(t, parent.Fault(base, FaultWrite))
	entry := parent.findEntryLocked(base)
	require.NotNil(t, entry)
	page, ok := entry.Object.Resolve(0)
	require.True(t, ok)
	copy(page.Data, []byte("parent-data"))

	child := NewMap(0, 1<<20, alloc, wq)
	require.NoError(t, parent.Copy(child, base, 2*PageSize, InheritCopy))

	// Before either side writes, the child resolves through the shadow
	// and sees the parent's bytes.
	require.NoError(t, child.Fault(base, FaultRead))
	childEntry := child.findEntryLocked(base)
	require.NotNil(t, childEntry)
	childPage, ok := childEntry.Object.Resolve(0)
	require.True(t, ok)
	assert.Equal(t, byte('p'), childPage.Data[0])

	// Child writes: breaks sharing for offset 0 only.
	require.NoError(t, child.Fault(base, FaultWrite))
	childPage, ok = childEntry.Object.Resolve(0)
	require.True(t, ok)
	copy(childPage.Data, []byte("child-data!"))

	parentPage, ok := entry.Object.Resolve(0)
	require.True(t, ok)
	assert.Equal(t, byte('p'), parentPage.Data[0], "parent's page must be untouched by the child's write")

	// The second page was never faulted by either side, so no page is
	// resident for it anywhere in the parent's shadow chain.
	_, parentHasSecond := entry.Object.Resolve(int64(PageSize))
	assert.False(t, parentHasSecond)
}

// TestCopyOnWriteForkParentWriteDoesNotLeakToChild is the mirror of
// TestCopyOnWriteFork: a write from the *origin* side after a fork
// must land in the origin's own private shadow, not the shared
// ancestor object, or the child would observe the origin's write
// through its own shadow chain (spec.md §4.4.2 isolation).
func TestCopyOnWriteForkParentWriteDoesNotLeakToChild(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	alloc := NewPageAllocator(64, wq)
	parent := NewMap(0, 1<<20, alloc, wq)

	base, err := parent.Allocate(PageSize, AllocateOptions{})
	require.NoError(t, err)
	require.NoError(t, parent.Fault(base, FaultWrite))
	entry := parent.findEntryLocked(base)
	require.NotNil(t, entry)
	page, ok := entry.Object.Resolve(0)
	require.True(t, ok)
	copy(page.Data, []byte("original"))

	child := NewMap(0, 1<<20, alloc, wq)
	require.NoError(t, parent.Copy(child, base, PageSize, InheritCopy))

	// Let the child resolve the shared page once before the origin
	// writes, matching the order a real fork-then-continue would take.
	require.NoError(t, child.Fault(base, FaultRead))
	childEntry := child.findEntryLocked(base)
	require.NotNil(t, childEntry)

	// The origin writes after the fork.
	require.NoError(t, parent.Fault(base, FaultWrite))
	parentPage, ok := entry.Object.Resolve(0)
	require.True(t, ok)
	copy(parentPage.Data, []byte("mutated!"))

	childPage, ok := childEntry.Object.Resolve(0)
	require.True(t, ok)
	assert.Equal(t, byte('o'), childPage.Data[0], "child must still see the original byte, not the origin's post-fork write")
}

// TestMajorFaultThroughExternalPager covers scenario E from spec.md
// §8: a pager-backed object's first fault triggers a data-request,
// which the fake pager answers with data-supply.
func TestMajorFaultThroughExternalPager(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	kernelSpace := ipc.NewSpace("kernel")
	pagerSpace := ipc.NewSpace("pager")

	reqName, reqPort := ipc.AllocatePort(pagerSpace, 4)
	ctrlName, ctrlPort := ipc.AllocatePort(kernelSpace, 4)
	pagerSendFromKernel := ipc.MakeSendName(kernelSpace, reqPort)
	ctrlSendForPager := ipc.MakeSendName(pagerSpace, ctrlPort)

	objectID := uuid.New()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// init
		if _, err := ipc.Receive(pagerSpace, wq, reqName, ipc.ReceiveOptions{Blocking: true}); err != nil {
			return
		}
		req, err := ipc.Receive(pagerSpace, wq, reqName, ipc.ReceiveOptions{Blocking: true})
		if err != nil || req.Header.ID != MsgDataRequest {
			return
		}
		requestedOffset := int64(binary.BigEndian.Uint64(req.Inline[16:24]))

		data := []byte("paged-in")
		body := make([]byte, 24+len(data))
		binary.BigEndian.PutUint64(body[16:24], uint64(requestedOffset))
		copy(body[24:], data)
		reply := &ipc.Message{Header: ipc.MessageHeader{ID: MsgDataSupply}, Inline: body}
		_ = ipc.Send(pagerSpace, wq, reply, ctrlSendForPager, ipc.SendOptions{Blocking: true})
	}()

	client, err := NewPagerClient(wq, kernelSpace, pagerSendFromKernel, ctrlName, objectID)
	require.NoError(t, err)

	m := NewMap(0, 1<<20, NewPageAllocator(16, wq), wq)
	base, err := m.Allocate(PageSize, AllocateOptions{})
	require.NoError(t, err)
	entry := m.findEntryLocked(base)
	entry.Object.pager = client

	require.NoError(t, m.Fault(base, FaultRead))
	page, ok := entry.Object.Resolve(0)
	require.True(t, ok)
	assert.Contains(t, string(page.Data[:8]), "paged-in")

	<-done
}
