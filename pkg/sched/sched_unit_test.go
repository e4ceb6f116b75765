package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuspendCountersNest(t *testing.T) {
	tcb := NewTCB("t", 0, 5)
	assert.True(t, tcb.Runnable())

	tcb.SuspendKernel()
	tcb.SuspendKernel()
	assert.False(t, tcb.Runnable())

	tcb.ResumeKernel()
	assert.False(t, tcb.Runnable(), "one outstanding kernel suspend remains")

	tcb.ResumeKernel()
	assert.True(t, tcb.Runnable())
}

func TestSuspendCountersAreIndependent(t *testing.T) {
	tcb := NewTCB("t", 0, 5)
	tcb.SuspendUser()
	assert.False(t, tcb.Runnable())

	tcb.ResumeKernel() // no-op, never went negative
	assert.False(t, tcb.Runnable())

	tcb.ResumeUser()
	assert.True(t, tcb.Runnable())
}

func TestResumeWithoutSuspendDoesNotGoNegative(t *testing.T) {
	tcb := NewTCB("t", 0, 5)
	tcb.ResumeKernel()
	tcb.ResumeUser()
	assert.True(t, tcb.Runnable())
	tcb.SuspendKernel()
	assert.False(t, tcb.Runnable())
}

func TestClampPriority(t *testing.T) {
	s := New(8, 5)
	assert.Equal(t, 0, s.clampPriority(-1))
	assert.Equal(t, 7, s.clampPriority(100))
	assert.Equal(t, 3, s.clampPriority(3))
}

func TestPickNextFIFOWithinPriority(t *testing.T) {
	s := New(4, 5)
	a := NewTCB("a", 2, 5)
	b := NewTCB("b", 2, 5)
	s.Enqueue(a)
	s.Enqueue(b)

	first := s.PickNext()
	second := s.PickNext()
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "b", second.ID)
}

func TestPickNextReturnsNilWhenEmpty(t *testing.T) {
	s := New(4, 5)
	assert.Nil(t, s.PickNext())
}
