package ipc

// Well-known message ids for notifications delivered as messages, not
// return codes (spec.md §7).
const (
	MsgIDNoSenders    uint32 = 0xffff0001
	MsgIDPortDeleted  uint32 = 0xffff0002
	MsgIDSendOnceDied uint32 = 0xffff0003
	MsgIDDeadName     uint32 = 0xffff0004
)

// OOLCopyMode selects how an out-of-line descriptor's backing memory
// is handed to the receiver (spec.md §4.3.2 step 3).
type OOLCopyMode uint8

const (
	OOLCopyModeVirtual OOLCopyMode = iota
	OOLCopyModeCopyOnWrite
)

// MessageHeader is the fixed portion of a message (spec.md §6.2).
type MessageHeader struct {
	Bits       uint32
	Size       uint32
	RemoteName Name
	LocalName  Name // reply port name, 0 if none
	Reserved   uint32
	ID         uint32
}

// PortDescriptor carries one transferred port right, tagged with the
// sender's intended disposition.
type PortDescriptor struct {
	Name        Name
	Disposition Disposition
}

// OOLDescriptor carries an out-of-line memory region.
type OOLDescriptor struct {
	Data       []byte
	CopyMode   OOLCopyMode
	Deallocate bool
}

// Message is a send/receive unit: a header, zero or more transferred
// port rights, zero or more out-of-line buffers, and an inline body
// (spec.md §3, "Message").
type Message struct {
	Header   MessageHeader
	Ports    []PortDescriptor
	OOL      []OOLDescriptor
	Inline   []byte
	Seq      uint64

	// resolvedPorts mirrors Ports but carries each descriptor's
	// already-translated *Port, filled in by Send before the message
	// is queued so Receive never has to re-translate through a space
	// that may have since changed.
	resolvedPorts []*Port
}
