package trap

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/nucleus/pkg/ipc"
	"github.com/cuemby/nucleus/pkg/kerr"
)

// Bits flags carried in MessageHeader.Bits (spec.md §6.2 item 1): one
// flag bit marks whether a descriptor count follows the header.
const bitsHasDescriptorsFlag = 1 << 16

// Descriptor type tags (spec.md §6.2 item 3). Written as the first
// byte of each descriptor record rather than the last: the spec text
// only requires each descriptor be "tagged by a type byte", not that
// the tag sit at a fixed offset, and a leading tag lets Decode read it
// before it knows which fixed-size record follows - a trailing tag
// would be ambiguous whenever a preceding field's bytes happened to
// equal another tag's value (e.g. a zero-length OOL size colliding
// with the port-descriptor tag).
const (
	descTypePort     uint8 = 0
	descTypeOOL      uint8 = 1
	descTypeOOLPorts uint8 = 2
)

const headerWireSize = 4 + 4 + 8 + 8 + 4 + 4 // bits, size, remote, local, reserved, id
const portDescWireSize = 1 + 8 + 1           // type, name, disposition
const oolDescWireSize = 1 + 8 + 4 + 1 + 1    // type, pointer, size, copy-mode, deallocate

// Encode renders msg into the on-the-wire byte layout spec.md §6.2
// describes. Out-of-line buffers are appended after the inline body
// and referenced by descriptor "pointer" fields holding their byte
// offset into that trailing OOL area, since this kernel has no real
// user address space for an out-of-line descriptor to point into.
func Encode(msg *ipc.Message) ([]byte, error) {
	var bits uint32
	if len(msg.Ports)+len(msg.OOL) > 0 {
		bits |= bitsHasDescriptorsFlag
	}

	var oolArea []byte
	descs := make([]byte, 0, len(msg.Ports)*portDescWireSize+len(msg.OOL)*oolDescWireSize)

	for _, pd := range msg.Ports {
		buf := make([]byte, portDescWireSize)
		buf[0] = descTypePort
		binary.BigEndian.PutUint64(buf[1:9], uint64(pd.Name))
		buf[9] = uint8(pd.Disposition)
		descs = append(descs, buf...)
	}
	for _, od := range msg.OOL {
		buf := make([]byte, oolDescWireSize)
		buf[0] = descTypeOOL
		binary.BigEndian.PutUint64(buf[1:9], uint64(len(oolArea)))
		binary.BigEndian.PutUint32(buf[9:13], uint32(len(od.Data)))
		buf[13] = uint8(od.CopyMode)
		if od.Deallocate {
			buf[14] = 1
		}
		descs = append(descs, buf...)
		oolArea = append(oolArea, od.Data...)
	}

	descCount := uint32(len(msg.Ports) + len(msg.OOL))
	bodySize := uint32(headerWireSize)
	if bits&bitsHasDescriptorsFlag != 0 {
		bodySize += 4
	}
	bodySize += uint32(len(descs)) + uint32(len(msg.Inline)) + uint32(len(oolArea))

	out := make([]byte, 0, bodySize)
	hdr := make([]byte, headerWireSize)
	binary.BigEndian.PutUint32(hdr[0:4], bits)
	binary.BigEndian.PutUint32(hdr[4:8], bodySize)
	binary.BigEndian.PutUint64(hdr[8:16], uint64(msg.Header.RemoteName))
	binary.BigEndian.PutUint64(hdr[16:24], uint64(msg.Header.LocalName))
	binary.BigEndian.PutUint32(hdr[24:28], msg.Header.Reserved)
	binary.BigEndian.PutUint32(hdr[28:32], msg.Header.ID)
	out = append(out, hdr...)

	if bits&bitsHasDescriptorsFlag != 0 {
		cnt := make([]byte, 4)
		binary.BigEndian.PutUint32(cnt, descCount)
		out = append(out, cnt...)
	}
	out = append(out, descs...)
	out = append(out, msg.Inline...)
	out = append(out, oolArea...)
	return out, nil
}

// Decode parses the wire layout Encode produces back into an
// *ipc.Message. The message returned has no resolved port rights: its
// Ports entries hold the sender's names, which ipc.Send translates
// through the sending task's Space, so pkg/kernel's trap dispatcher
// hands the decoded message straight to Send.
func Decode(buf []byte) (*ipc.Message, error) {
	if len(buf) < headerWireSize {
		return nil, kerr.New("trap.Decode", kerr.InvalidArgument)
	}
	bits := binary.BigEndian.Uint32(buf[0:4])
	size := binary.BigEndian.Uint32(buf[4:8])
	if int(size) > len(buf) {
		return nil, kerr.New("trap.Decode", kerr.InvalidArgument)
	}
	msg := &ipc.Message{
		Header: ipc.MessageHeader{
			Bits:       bits,
			Size:       size,
			RemoteName: ipc.Name(binary.BigEndian.Uint64(buf[8:16])),
			LocalName:  ipc.Name(binary.BigEndian.Uint64(buf[16:24])),
			Reserved:   binary.BigEndian.Uint32(buf[24:28]),
			ID:         binary.BigEndian.Uint32(buf[28:32]),
		},
	}

	cursor := headerWireSize
	var descCount uint32
	if bits&bitsHasDescriptorsFlag != 0 {
		if len(buf) < cursor+4 {
			return nil, kerr.New("trap.Decode", kerr.InvalidArgument)
		}
		descCount = binary.BigEndian.Uint32(buf[cursor : cursor+4])
		cursor += 4
	}

	type oolRef struct {
		offset, length int
		copyMode       ipc.OOLCopyMode
		deallocate     bool
	}
	var oolDescs []oolRef

	for i := uint32(0); i < descCount; i++ {
		if len(buf) < cursor+1 {
			return nil, kerr.New("trap.Decode", kerr.InvalidArgument)
		}
		switch buf[cursor] {
		case descTypePort:
			if len(buf) < cursor+portDescWireSize {
				return nil, kerr.New("trap.Decode", kerr.InvalidArgument)
			}
			name := ipc.Name(binary.BigEndian.Uint64(buf[cursor+1 : cursor+9]))
			disp := ipc.Disposition(buf[cursor+9])
			msg.Ports = append(msg.Ports, ipc.PortDescriptor{Name: name, Disposition: disp})
			cursor += portDescWireSize
		case descTypeOOL:
			if len(buf) < cursor+oolDescWireSize {
				return nil, kerr.New("trap.Decode", kerr.InvalidArgument)
			}
			off := int(binary.BigEndian.Uint64(buf[cursor+1 : cursor+9]))
			length := int(binary.BigEndian.Uint32(buf[cursor+9 : cursor+13]))
			cm := ipc.OOLCopyMode(buf[cursor+13])
			dealloc := buf[cursor+14] != 0
			oolDescs = append(oolDescs, oolRef{off, length, cm, dealloc})
			cursor += oolDescWireSize
		case descTypeOOLPorts:
			return nil, fmt.Errorf("trap.Decode: out-of-line ports descriptors are not supported by this kernel's message model")
		default:
			return nil, kerr.New("trap.Decode", kerr.InvalidArgument)
		}
	}

	rest := buf[cursor:size]
	totalOOL := 0
	for _, od := range oolDescs {
		totalOOL += od.length
	}
	inlineLen := len(rest) - totalOOL
	if inlineLen < 0 {
		return nil, kerr.New("trap.Decode", kerr.InvalidArgument)
	}
	msg.Inline = append([]byte(nil), rest[:inlineLen]...)
	oolArea := rest[inlineLen:]
	for _, od := range oolDescs {
		if od.offset < 0 || od.offset+od.length > len(oolArea) {
			return nil, kerr.New("trap.Decode", kerr.InvalidArgument)
		}
		msg.OOL = append(msg.OOL, ipc.OOLDescriptor{
			Data:       append([]byte(nil), oolArea[od.offset:od.offset+od.length]...),
			CopyMode:   od.copyMode,
			Deallocate: od.deallocate,
		})
	}
	return msg, nil
}
