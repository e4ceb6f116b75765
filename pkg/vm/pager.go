package vm

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/nucleus/pkg/ipc"
	"github.com/cuemby/nucleus/pkg/kerr"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// Message ids for the external-pager protocol (spec.md §6.3). Pager
// replies use matching ids on the control port.
const (
	MsgPagerInit      uint32 = 0x70000001
	MsgDataRequest    uint32 = 0x70000002
	MsgDataSupply     uint32 = 0x70000003
	MsgDataError      uint32 = 0x70000004
	MsgDataReturn     uint32 = 0x70000005
	MsgLockRequest    uint32 = 0x70000006
	MsgPagerTerminate uint32 = 0x70000007
)

// PagerClient is the kernel's side of the external-pager protocol: it
// sends init/data-request/data-return/terminate messages to a user
// pager task's port and reads replies off a kernel-owned control port
// (spec.md §6.3). MsgLockRequest is defined for the wire protocol but
// has no send path here: no seed scenario in spec.md §8 exercises a
// pager-initiated lock, so there is nothing yet driving it from this
// side.
type PagerClient struct {
	wq          *waitqueue.Registry
	kernelSpace *ipc.Space
	pagerSend   ipc.Name // send right to the pager's request port
	controlRecv ipc.Name // kernel's receive right for replies
	objectID    uuid.UUID
}

// NewPagerClient wires a memory object's pager. init is sent once, as
// required by spec.md §6.3.
func NewPagerClient(wq *waitqueue.Registry, kernelSpace *ipc.Space, pagerSend, controlRecv ipc.Name, objectID uuid.UUID) (*PagerClient, error) {
	c := &PagerClient{
		wq:          wq,
		kernelSpace: kernelSpace,
		pagerSend:   pagerSend,
		controlRecv: controlRecv,
		objectID:    objectID,
	}
	body := make([]byte, 16)
	putUUID(body, objectID)
	msg := &ipc.Message{Header: ipc.MessageHeader{ID: MsgPagerInit}, Inline: body}
	if err := ipc.Send(kernelSpace, wq, msg, pagerSend, ipc.SendOptions{Blocking: true}); err != nil {
		return nil, err
	}
	return c, nil
}

// RequestData sends a data-request and blocks for the matching
// data-supply (or data-error) reply.
func (c *PagerClient) RequestData(offset int64, length int, prot Protection) ([]byte, error) {
	body := make([]byte, 16+8+4+1)
	putUUID(body, c.objectID)
	binary.BigEndian.PutUint64(body[16:], uint64(offset))
	binary.BigEndian.PutUint32(body[24:], uint32(length))
	body[28] = byte(prot)

	msg := &ipc.Message{Header: ipc.MessageHeader{ID: MsgDataRequest}, Inline: body}
	if err := ipc.Send(c.kernelSpace, c.wq, msg, c.pagerSend, ipc.SendOptions{Blocking: true}); err != nil {
		return nil, err
	}

	for {
		reply, err := ipc.Receive(c.kernelSpace, c.wq, c.controlRecv, ipc.ReceiveOptions{Blocking: true, Timeout: 30 * time.Second})
		if err != nil {
			return nil, err
		}
		replyOffset := int64(binary.BigEndian.Uint64(reply.Inline[16:24]))
		if replyOffset != offset {
			continue // reply to a different in-flight request; not ours
		}
		switch reply.Header.ID {
		case MsgDataSupply:
			return reply.Inline[24:], nil
		case MsgDataError:
			return nil, kerr.New("vm.RequestData", kerr.ResourceShortage)
		default:
			continue
		}
	}
}

// ReturnData pushes a dirty page back through data-return (the
// pageout daemon's write-back path).
func (c *PagerClient) ReturnData(offset int64, data []byte, dirty bool) error {
	body := make([]byte, 16+8+1+len(data))
	putUUID(body, c.objectID)
	binary.BigEndian.PutUint64(body[16:], uint64(offset))
	if dirty {
		body[24] = 1
	}
	copy(body[25:], data)
	msg := &ipc.Message{Header: ipc.MessageHeader{ID: MsgDataReturn}, Inline: body}
	return ipc.Send(c.kernelSpace, c.wq, msg, c.pagerSend, ipc.SendOptions{Blocking: true})
}

// Terminate tells the pager the object is being destroyed.
func (c *PagerClient) Terminate() error {
	body := make([]byte, 16)
	putUUID(body, c.objectID)
	msg := &ipc.Message{Header: ipc.MessageHeader{ID: MsgPagerTerminate}, Inline: body}
	return ipc.Send(c.kernelSpace, c.wq, msg, c.pagerSend, ipc.SendOptions{Blocking: false})
}

func putUUID(dst []byte, id uuid.UUID) {
	copy(dst, id[:])
}
