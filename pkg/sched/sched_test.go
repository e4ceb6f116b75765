package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleDispatchesHighestPriorityFirst(t *testing.T) {
	s := New(4, 5)
	cpu := s.NewCPU(0)

	low := NewTCB("low", 3, 5)
	high := NewTCB("high", 0, 5)
	s.Enqueue(low)
	s.Enqueue(high)

	s.Yield(cpu)
	next := s.Schedule(cpu)
	require.NotNil(t, next)
	assert.Equal(t, "high", next.ID)
	assert.Equal(t, StateRunning, next.State)
}

func TestScheduleFallsBackToIdleWhenQueuesEmpty(t *testing.T) {
	s := New(4, 5)
	cpu := s.NewCPU(0)

	s.Yield(cpu)
	next := s.Schedule(cpu)
	require.NotNil(t, next)
	assert.Equal(t, "idle", next.ID)
}

func TestScheduleReenqueuesOutgoingReadyThread(t *testing.T) {
	s := New(4, 5)
	cpu := s.NewCPU(0)

	a := NewTCB("a", 1, 5)
	b := NewTCB("b", 1, 5)
	s.Enqueue(a)
	s.Enqueue(b)

	s.Yield(cpu)
	first := s.Schedule(cpu)
	assert.Equal(t, "a", first.ID)

	s.Yield(cpu)
	second := s.Schedule(cpu)
	assert.Equal(t, "b", second.ID, "a should have been re-enqueued behind b")
}

func TestScheduleSkipsBlockedOutgoingThread(t *testing.T) {
	s := New(4, 5)
	cpu := s.NewCPU(0)

	a := NewTCB("a", 1, 5)
	s.Enqueue(a)
	s.Yield(cpu)
	s.Schedule(cpu)

	cpu.current.State = StateBlocked
	s.Yield(cpu)
	next := s.Schedule(cpu)
	assert.Equal(t, "idle", next.ID, "a blocked thread must not be re-enqueued")
}

func TestTickExpiresQuantumAndRequestsReschedule(t *testing.T) {
	s := New(4, 1)
	cpu := s.NewCPU(0)

	a := NewTCB("a", 0, 1)
	s.Enqueue(a)
	s.Yield(cpu)
	s.Schedule(cpu)

	s.Tick(cpu)
	assert.True(t, cpu.needResched)
	assert.Equal(t, s.defaultQuantum, cpu.current.Quantum)
}

func TestTerminateMarksStateTerminated(t *testing.T) {
	tcb := NewTCB("t", 0, 5)
	Terminate(tcb)
	assert.Equal(t, StateTerminated, tcb.State)
}
