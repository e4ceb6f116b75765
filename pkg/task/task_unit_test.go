package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nucleus/pkg/sched"
	"github.com/cuemby/nucleus/pkg/vm"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

func TestTaskRefCounting(t *testing.T) {
	m := newManager(t)
	tsk, err := m.CreateTask("refcounted", nil, vm.InheritNone, nil)
	require.NoError(t, err)

	tsk.IncRef()
	assert.False(t, tsk.DecRef(), "two live references must not report last-ref-dropped")
	assert.True(t, tsk.DecRef(), "dropping the final reference must report true")
}

func TestTaskSuspendResumeNests(t *testing.T) {
	m := newManager(t)
	tsk, err := m.CreateTask("suspendable", nil, vm.InheritNone, nil)
	require.NoError(t, err)

	th := tsk.CreateThread("t0", -1)

	tsk.Suspend()
	tsk.Suspend()
	assert.False(t, th.TCB.Runnable(), "thread suspended twice must not be runnable")

	tsk.Resume()
	assert.False(t, th.TCB.Runnable())

	tsk.Resume()
	assert.True(t, th.TCB.Runnable())
}

func TestDefaultResourceLimitsAppliedOnThreadCreate(t *testing.T) {
	m := newManager(t)
	tsk, err := m.CreateTask("defaults", nil, vm.InheritNone, nil)
	require.NoError(t, err)

	th := tsk.CreateThread("t0", -1)
	assert.Equal(t, DefaultResourceLimits().DefaultPriority, th.TCB.Priority)
	assert.Equal(t, DefaultResourceLimits().DefaultQuantum, th.TCB.Quantum)
}

func TestThreadTerminateAbortsPendingWait(t *testing.T) {
	m := newManager(t)
	tsk, err := m.CreateTask("blocked", nil, vm.InheritNone, nil)
	require.NoError(t, err)

	th := tsk.CreateThread("waiter", -1)
	ev := waitqueue.NewEvent()
	w := m.Registry().AssertWait(ev, th.TCB.ID, th.TCB.Priority, time.Time{})
	th.TCB.SetWait(w)

	resultCh := make(chan waitqueue.Result, 1)
	go func() {
		resultCh <- m.Registry().ThreadBlock(w, nil)
	}()

	th.terminate(m.Registry())

	res := <-resultCh
	assert.Equal(t, waitqueue.ResultAborted, res)
	assert.Equal(t, sched.StateTerminated, th.TCB.State)
}

func TestCopyInheritedMappingSurvivesParentTeardown(t *testing.T) {
	m := newManager(t)
	parent, err := m.CreateTask("parent", nil, vm.InheritNone, nil)
	require.NoError(t, err)

	base, err := parent.Map.Allocate(vm.PageSize, vm.AllocateOptions{})
	require.NoError(t, err)
	require.NoError(t, parent.Map.Fault(base, vm.FaultWrite))

	child, err := m.CreateTask("child", parent, vm.InheritCopy, nil)
	require.NoError(t, err)

	require.NoError(t, m.Destroy(parent.ID))

	require.NoError(t, child.Map.Fault(base, vm.FaultRead), "copy-inherited mapping must survive parent teardown")
}

func TestManagerListIncludesKernelTask(t *testing.T) {
	m := newManager(t)
	tsk, err := m.CreateTask("worker", nil, vm.InheritNone, nil)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, got := range m.List() {
		ids[got.ID.String()] = true
	}
	assert.True(t, ids[m.KernelTask().ID.String()])
	assert.True(t, ids[tsk.ID.String()])
}
