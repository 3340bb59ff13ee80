// Package transport defines the driver contract the endpoint core sends
// through and provides the one required implementation, UDP/IPv4. A single
// driver object implements SendPacket; endpoints hold it as an interface
// so tests can substitute in-memory drivers.
package transport

import (
	"net"

	"github.com/mcx/embeddedRTPS/rtps"
)

// PacketInfo describes one outbound datagram: the local source port the
// driver should send from, the destination, and the fully framed RTPS
// message bytes.
type PacketInfo struct {
	SrcPort  uint16
	DestAddr net.IP
	DestPort uint16
	Buffer   []byte
}

// ReceiveCallback is the inbound path: the driver invokes it on its receive
// thread for every datagram, handing over the peer's address/port and the
// raw bytes. The callback must not retain b past its return.
type ReceiveCallback func(peerAddr net.IP, peerPort uint16, b []byte)

// Transport is the outbound driver contract. Sends are best-effort: a
// returned error is logged by the caller, never propagated, and the
// reliability handshake recovers from lost datagrams.
type Transport interface {
	SendPacket(p PacketInfo) error
}

// PacketInfoFor builds a PacketInfo addressed to the given locator.
func PacketInfoFor(srcPort uint16, dest rtps.Locator, buf []byte) PacketInfo {
	return PacketInfo{
		SrcPort:  srcPort,
		DestAddr: dest.Addr,
		DestPort: dest.Port,
		Buffer:   buf,
	}
}
