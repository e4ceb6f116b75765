package ipc

// AllocatePort creates a fresh port and installs its receive right in
// space under a newly allocated name, returning that name (spec.md's
// port-allocate trap, §4.3).
func AllocatePort(space *Space, capacity int) (Name, *Port) {
	p := NewPort(capacity)
	name := space.Insert(&Right{Kind: RightReceive, Port: p})
	return name, p
}

// MakeSendName installs a fresh send right to p in space, returning
// its name. Used to hand a second task a way to talk to a port the
// caller holds the receive right to.
func MakeSendName(space *Space, p *Port) Name {
	p.IncSendRight()
	return space.Insert(&Right{Kind: RightSend, Port: p})
}

// MakeSendOnceName installs a fresh send-once right to p in space.
func MakeSendOnceName(space *Space, p *Port) Name {
	name := space.Insert(&Right{Kind: RightSendOnce, Port: p})
	p.IncSendOnceRight(space, name)
	return name
}
