package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nucleus/pkg/ipc"
	"github.com/cuemby/nucleus/pkg/vm"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(Config{
		NumPriorities:  8,
		DefaultQuantum: 4,
		TotalPages:     256,
		AddressSpan:    1 << 32,
	})
}

func TestCreateTaskInstallsWellKnownPorts(t *testing.T) {
	m := newManager(t)
	tsk, err := m.CreateTask("worker", nil, vm.InheritNone, nil)
	require.NoError(t, err)

	for _, name := range []ipc.Name{NameTaskControl, NameException, NameBootstrap, NameTaskName, NameHost} {
		right, err := tsk.Space.TranslateKind(name, ipc.RightSend)
		require.NoError(t, err, "well-known name %d must resolve to a send right", name)
		assert.NotNil(t, right.Port)
	}
}

func TestForkedTaskInheritsParentMappings(t *testing.T) {
	m := newManager(t)
	parent, err := m.CreateTask("parent", nil, vm.InheritNone, nil)
	require.NoError(t, err)

	base, err := parent.Map.Allocate(vm.PageSize, vm.AllocateOptions{})
	require.NoError(t, err)
	require.NoError(t, parent.Map.Fault(base, vm.FaultWrite))

	child, err := m.CreateTask("child", parent, vm.InheritShare, nil)
	require.NoError(t, err)

	require.NoError(t, child.Map.Fault(base, vm.FaultRead))
}

func TestTaskTerminateDestroysSpaceAndThreads(t *testing.T) {
	m := newManager(t)
	tsk, err := m.CreateTask("doomed", nil, vm.InheritNone, nil)
	require.NoError(t, err)

	th := tsk.CreateThread("worker-0", -1)

	require.NoError(t, m.Destroy(tsk.ID))

	assert.Equal(t, StateTerminated, th.TCB.State)
	_, err = tsk.Space.Translate(NameTaskControl)
	assert.Error(t, err, "space must be empty after destroy")

	_, err = m.Get(tsk.ID)
	assert.Error(t, err, "manager must drop the task from its registry")
}
