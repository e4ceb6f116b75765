package main

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/cuemby/nucleus/pkg/ipc"
	"github.com/cuemby/nucleus/pkg/klog"
	"github.com/cuemby/nucleus/pkg/trap"
	"github.com/cuemby/nucleus/pkg/waitqueue"
)

// socketBridge turns the Unix-domain socket bind-mounted into an
// external pager container into the other end of two in-process ports:
// messages the kernel sends toward the pager are read off outboundRecv
// and written to the socket; frames read off the socket are decoded
// and injected onto inboundSend for the kernel side to receive. This
// is the wiring spec.md §6.3 assumes a real external pager needs and
// that no core kernel package provides, since the kernel itself never
// talks to a socket - only cmd/nucleusimd, the integration harness
// that runs an actual external process, needs it.
type socketBridge struct {
	listener *net.UnixListener
	space    *ipc.Space
	wq       *waitqueue.Registry

	outboundRecv ipc.Name
	inboundSend  ipc.Name

	logger zerolog.Logger
}

func newSocketBridge(socketPath string, space *ipc.Space, wq *waitqueue.Registry, outboundRecv, inboundSend ipc.Name) (*socketBridge, error) {
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("bridge: resolve %s: %w", socketPath, err)
	}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("bridge: listen %s: %w", socketPath, err)
	}
	return &socketBridge{
		listener:     l,
		space:        space,
		wq:           wq,
		outboundRecv: outboundRecv,
		inboundSend:  inboundSend,
		logger:       klog.WithComponent("bridge"),
	}, nil
}

// serve accepts the pager's single connection in the background and
// starts the two forwarding loops once it arrives.
func (b *socketBridge) serve() {
	go func() {
		conn, err := b.listener.Accept()
		if err != nil {
			b.logger.Error().Err(err).Msg("accept failed")
			return
		}
		b.logger.Info().Msg("external pager connected")
		go b.forwardOutbound(conn)
		go b.forwardInbound(conn)
	}()
}

func (b *socketBridge) Close() error {
	return b.listener.Close()
}

// forwardOutbound drains messages addressed to the pager and writes
// each as a length-prefixed §6.2 wire frame.
func (b *socketBridge) forwardOutbound(conn net.Conn) {
	for {
		msg, err := ipc.Receive(b.space, b.wq, b.outboundRecv, ipc.ReceiveOptions{Blocking: true})
		if err != nil {
			b.logger.Warn().Err(err).Msg("outbound receive stopped")
			return
		}
		wire, err := trap.Encode(msg)
		if err != nil {
			b.logger.Error().Err(err).Msg("encode failed, dropping message")
			continue
		}
		if err := writeFrame(conn, wire); err != nil {
			b.logger.Warn().Err(err).Msg("write to pager failed")
			return
		}
	}
}

// forwardInbound reads frames the pager writes back and injects each
// as a message on the kernel's control port.
func (b *socketBridge) forwardInbound(conn net.Conn) {
	for {
		wire, err := readFrame(conn)
		if err != nil {
			b.logger.Warn().Err(err).Msg("read from pager failed")
			return
		}
		msg, err := trap.Decode(wire)
		if err != nil {
			b.logger.Error().Err(err).Msg("decode failed, dropping frame")
			continue
		}
		if err := ipc.Send(b.space, b.wq, msg, b.inboundSend, ipc.SendOptions{Blocking: true}); err != nil {
			b.logger.Warn().Err(err).Msg("inbound send failed")
			return
		}
	}
}

func writeFrame(conn net.Conn, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

func readFrame(conn net.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := readFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
