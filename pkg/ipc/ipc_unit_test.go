package ipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

func TestSendToFullQueueNonBlockingReturnsQueueFull(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	space := NewSpace("t1")
	_, p := AllocatePort(space, 1)
	nS := MakeSendName(space, p)

	require.NoError(t, Send(space, wq, &Message{Header: MessageHeader{ID: 1}}, nS, SendOptions{}))
	err := Send(space, wq, &Message{Header: MessageHeader{ID: 2}}, nS, SendOptions{Blocking: false})
	assert.True(t, kerr.Is(err, kerr.QueueFull))
	assert.Equal(t, 1, p.QueueDepth())
}

func TestReceiveBufferTooSmallRequeuesMessage(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	space := NewSpace("t1")
	recvName, p := AllocatePort(space, 4)
	nS := MakeSendName(space, p)

	require.NoError(t, Send(space, wq, &Message{Inline: []byte("hello")}, nS, SendOptions{}))

	_, err := Receive(space, wq, recvName, ReceiveOptions{BufferSize: 1})
	assert.True(t, kerr.Is(err, kerr.TooLarge))
	assert.Equal(t, 1, p.QueueDepth(), "message must remain queued")

	got, err := Receive(space, wq, recvName, ReceiveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Inline)
}

func TestSendToDeadPortFails(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	space := NewSpace("t1")
	_, p := AllocatePort(space, 4)
	nS := MakeSendName(space, p)

	p.Destroy(wq)

	err := Send(space, wq, &Message{}, nS, SendOptions{})
	assert.True(t, kerr.Is(err, kerr.PortDead))
}

func TestCopySendIncrementsSendCount(t *testing.T) {
	space := NewSpace("t1")
	_, p := AllocatePort(space, 4)
	assert.EqualValues(t, 0, p.sendRights)
	p.IncSendRight()
	assert.EqualValues(t, 1, p.sendRights)
	sub := p.DecSendRight()
	assert.Nil(t, sub, "no notification armed")
	assert.EqualValues(t, 0, p.sendRights)
}

func TestPortSetMembershipRedirectsReceiveEvent(t *testing.T) {
	space := NewSpace("t1")
	_, p1 := AllocatePort(space, 4)
	_, p2 := AllocatePort(space, 4)

	set := NewPortSet()
	set.Add(p1)
	set.Add(p2)

	assert.Equal(t, set.event, p1.recvEventSnapshot())
	assert.Equal(t, set.event, p2.recvEventSnapshot())

	set.Remove(p1)
	assert.NotEqual(t, set.event, p1.recvEventSnapshot())
}

func TestFirstReadyFindsQueuedMember(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	space := NewSpace("t1")
	n1, p1 := AllocatePort(space, 4)
	_, p2 := AllocatePort(space, 4)
	set := NewPortSet()
	set.Add(p1)
	set.Add(p2)

	assert.Nil(t, set.firstReady())

	nS1 := MakeSendName(space, p1)
	require.NoError(t, Send(space, wq, &Message{Header: MessageHeader{ID: 7}}, nS1, SendOptions{}))

	assert.Same(t, p1, set.firstReady())
	_ = n1
}

func TestDestroyWakesBlockedReceiverWithPortDead(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	space := NewSpace("t1")
	recvName, p := AllocatePort(space, 4)

	done := make(chan error, 1)
	go func() {
		_, err := Receive(space, wq, recvName, ReceiveOptions{Blocking: true})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond) // let the receiver reach assert-wait
	p.Destroy(wq)

	select {
	case err := <-done:
		assert.True(t, kerr.Is(err, kerr.PortDead))
	case <-time.After(time.Second):
		t.Fatal("receiver was never woken by port destruction")
	}
}
