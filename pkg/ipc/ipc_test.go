package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// TestSendReceiveInline covers scenario A from spec.md §8.
func TestSendReceiveInline(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	t1 := NewSpace("t1")
	t2 := NewSpace("t2")

	_, p := AllocatePort(t1, 4)
	nS := MakeSendName(t2, p)

	msg := &Message{
		Header: MessageHeader{ID: 42},
		Inline: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	require.NoError(t, Send(t2, wq, msg, nS, SendOptions{}))

	// find the name t1 holds the receive right under
	var recvName Name
	for _, n := range t1.Names() {
		r, _ := t1.Translate(n)
		if r.Kind == RightReceive && r.Port == p {
			recvName = n
		}
	}
	require.NotZero(t, recvName)

	got, err := Receive(t1, wq, recvName, ReceiveOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint32(42), got.Header.ID)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, got.Inline)
	assert.Equal(t, uint64(1), got.Seq)

	_, err = Receive(t1, wq, recvName, ReceiveOptions{Blocking: false})
	assert.True(t, kerr.Is(err, kerr.Empty))
}

// TestPortRightTransfer covers scenario B from spec.md §8.
func TestPortRightTransfer(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	t1 := NewSpace("t1")
	t2 := NewSpace("t2")
	t3 := NewSpace("t3")

	qName, q := AllocatePort(t1, 4)
	nT3 := MakeSendName(t3, q)

	// T2 needs a control port of its own so T1 has somewhere to send
	// the transfer message to.
	ctrlName, ctrlPort := AllocatePort(t2, 4)
	nCtrl := MakeSendName(t1, ctrlPort)

	transferMsg := &Message{
		Header: MessageHeader{ID: 1},
		Ports:  []PortDescriptor{{Name: qName, Disposition: DispositionMoveReceive}},
	}
	require.NoError(t, Send(t1, wq, transferMsg, nCtrl, SendOptions{}))

	// T1's space no longer has Q's receive name, immediately at send.
	_, err := t1.Translate(qName)
	assert.True(t, kerr.Is(err, kerr.InvalidName))

	got, err := Receive(t2, wq, ctrlName, ReceiveOptions{})
	require.NoError(t, err)
	require.Len(t, got.Ports, 1)

	var t2RecvName Name
	for _, n := range t2.Names() {
		r, _ := t2.Translate(n)
		if r.Kind == RightReceive && r.Port == q {
			t2RecvName = n
		}
	}
	require.NotZero(t, t2RecvName, "T2 must now hold a fresh receive name for Q")

	// T3's original send right still works, and is dequeued by T2's
	// new receive name.
	payload := &Message{Header: MessageHeader{ID: 99}, Inline: []byte("hi")}
	require.NoError(t, Send(t3, wq, payload, nT3, SendOptions{}))

	final, err := Receive(t2, wq, t2RecvName, ReceiveOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint32(99), final.Header.ID)
}

// TestNoSendersNotification covers scenario D from spec.md §8.
func TestNoSendersNotification(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	t1 := NewSpace("t1")
	t2 := NewSpace("t2")
	t3 := NewSpace("t3")

	_, p := AllocatePort(t1, 4)
	_, notifyPort := AllocatePort(t1, 4)
	notifyOnceName := MakeSendOnceName(t1, notifyPort)
	p.ArmNoSenders(t1, notifyOnceName)

	nT2 := MakeSendName(t2, p)
	nT3 := MakeSendName(t3, p)

	// T2 deallocates its right: no notification yet.
	right, err := t2.Remove(nT2)
	require.NoError(t, err)
	right.Port.DecSendRight()

	assert.Zero(t, notifyPort.QueueDepth())

	// T3 "exits": its send right is released too, dropping the count
	// to zero and firing the notification exactly once.
	right, err = t3.Remove(nT3)
	require.NoError(t, err)
	if sub := right.Port.DecSendRight(); sub != nil {
		deliverNoSenders(wq, sub)
	}

	assert.Equal(t, 1, notifyPort.QueueDepth())
}

// TestMoveSendPreservesSendCountAcrossTransit covers invariant 2 from
// spec.md §9 (send-count = Σ send names) for a MoveSend in flight: the
// count must neither drop permanently nor fire a spurious no-senders
// notification during the window between the sender's name being
// removed and the receiver's installRights re-adding it.
func TestMoveSendPreservesSendCountAcrossTransit(t *testing.T) {
	wq := waitqueue.New()
	defer wq.Stop()

	t1 := NewSpace("t1")
	t2 := NewSpace("t2")

	_, p := AllocatePort(t1, 4)
	_, notifyPort := AllocatePort(t1, 4)
	notifyOnceName := MakeSendOnceName(t1, notifyPort)
	p.ArmNoSenders(t1, notifyOnceName)

	nSend := MakeSendName(t1, p)
	assert.EqualValues(t, 1, p.sendRights)

	ctrlName, ctrlPort := AllocatePort(t2, 4)
	nCtrl := MakeSendName(t1, ctrlPort)

	transferMsg := &Message{
		Header: MessageHeader{ID: 1},
		Ports:  []PortDescriptor{{Name: nSend, Disposition: DispositionMoveSend}},
	}
	require.NoError(t, Send(t1, wq, transferMsg, nCtrl, SendOptions{}))

	// The move must not have armed a no-senders notification even
	// though the sender's name is already gone and the count is
	// transiently zero while the right sits queued in the message.
	assert.Zero(t, notifyPort.QueueDepth())

	got, err := Receive(t2, wq, ctrlName, ReceiveOptions{})
	require.NoError(t, err)
	require.Len(t, got.Ports, 1)

	// Once installed, exactly one send right exists again, still
	// armed, still live.
	assert.EqualValues(t, 1, p.sendRights)
	assert.Zero(t, notifyPort.QueueDepth())
}
