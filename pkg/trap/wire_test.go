package trap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nucleus/pkg/ipc"
)

func TestEncodeDecodeRoundTripsInlineOnly(t *testing.T) {
	msg := &ipc.Message{
		Header: ipc.MessageHeader{
			RemoteName: 7,
			LocalName:  3,
			ID:         42,
		},
		Inline: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	wire, err := Encode(msg)
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)

	assert.Equal(t, msg.Header.RemoteName, got.Header.RemoteName)
	assert.Equal(t, msg.Header.LocalName, got.Header.LocalName)
	assert.Equal(t, msg.Header.ID, got.Header.ID)
	assert.Equal(t, msg.Inline, got.Inline)
	assert.Empty(t, got.Ports)
	assert.Empty(t, got.OOL)
}

func TestEncodeDecodeRoundTripsPortAndOOLDescriptors(t *testing.T) {
	msg := &ipc.Message{
		Header: ipc.MessageHeader{RemoteName: 1, ID: 99},
		Ports: []ipc.PortDescriptor{
			{Name: 55, Disposition: ipc.DispositionMoveSend},
		},
		OOL: []ipc.OOLDescriptor{
			{Data: []byte("out-of-line payload"), CopyMode: ipc.OOLCopyModeCopyOnWrite, Deallocate: true},
		},
		Inline: []byte("inline body"),
	}

	wire, err := Encode(msg)
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)

	require.Len(t, got.Ports, 1)
	assert.Equal(t, ipc.Name(55), got.Ports[0].Name)
	assert.Equal(t, ipc.DispositionMoveSend, got.Ports[0].Disposition)

	require.Len(t, got.OOL, 1)
	assert.Equal(t, []byte("out-of-line payload"), got.OOL[0].Data)
	assert.Equal(t, ipc.OOLCopyModeCopyOnWrite, got.OOL[0].CopyMode)
	assert.True(t, got.OOL[0].Deallocate)

	assert.Equal(t, []byte("inline body"), got.Inline)
}

func TestCategoryOfMatchesTrapRanges(t *testing.T) {
	assert.Equal(t, CategorySelfPorts, CategoryOf(TrapTaskSelf))
	assert.Equal(t, CategoryMessage, CategoryOf(TrapMsgSend))
	assert.Equal(t, CategoryVM, CategoryOf(TrapVMAllocate))
	assert.Equal(t, CategoryPortRight, CategoryOf(TrapPortAllocate))
	assert.Equal(t, CategoryScheduling, CategoryOf(TrapThreadYield))
	assert.Equal(t, CategoryReserved, CategoryOf(Number(5)))
	assert.Equal(t, CategoryUnknown, CategoryOf(Number(200)))
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02})
	assert.Error(t, err)
}
