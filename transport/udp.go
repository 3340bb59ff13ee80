package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/mcx/embeddedRTPS/rtps"
)

// Standard RTPS port mapping constants (RTPS 2.x §9.6.1).
const (
	PortBase            = 7400
	PortDomainGain      = 250
	PortParticipantGain = 2
	PortOffsetD0        = 0
	PortOffsetD1        = 10
	PortOffsetD2        = 1
	PortOffsetD3        = 11
)

// DefaultMulticastGroup is the well-known RTPS discovery/user multicast
// group address.
var DefaultMulticastGroup = net.IPv4(239, 255, 0, 1)

// UserUnicastPort computes the standard user-traffic unicast port for a
// domain/participant pair.
func UserUnicastPort(domainID, participantID uint32) uint16 {
	return uint16(PortBase + PortDomainGain*domainID + PortOffsetD3 + PortParticipantGain*participantID)
}

// UserMulticastPort computes the standard user-traffic multicast port for a
// domain.
func UserMulticastPort(domainID uint32) uint16 {
	return uint16(PortBase + PortDomainGain*domainID + PortOffsetD2)
}

// ErrClosed is returned by SendPacket after Close.
var ErrClosed = errors.New("transport: closed")

// UDP is the IPv4/UDP Transport implementation. One UDP socket serves both
// directions: SendPacket writes outbound datagrams through it and a
// dedicated receive goroutine feeds inbound datagrams to the registered
// callback.
type UDP struct {
	conn   *net.UDPConn
	port   uint16
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewUDP binds a unicast UDP/IPv4 socket on the given local port. Port 0
// lets the OS pick; Port reports the bound value either way.
func NewUDP(port uint16, logger *slog.Logger) (*UDP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, fmt.Errorf("transport: bind udp port %d: %w", port, err)
	}
	bound := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	logger.Info("udp transport bound", "port", bound)
	return &UDP{conn: conn, port: bound, logger: logger}, nil
}

// Port returns the locally bound UDP port.
func (u *UDP) Port() uint16 { return u.port }

// LocalLocator returns a unicast locator other endpoints can reach this
// transport at, using the given address (commonly 127.0.0.1 in tests or the
// host's interface address in deployments).
func (u *UDP) LocalLocator(addr net.IP) rtps.Locator {
	return rtps.NewUDPv4Locator(addr, u.port)
}

// Start launches the receive loop, handing every inbound datagram to cb.
// It may be called at most once.
func (u *UDP) Start(cb ReceiveCallback) {
	u.wg.Add(1)
	go u.rxLoop(cb)
}

func (u *UDP) rxLoop(cb ReceiveCallback) {
	defer u.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, peer, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			u.mu.Lock()
			closed := u.closed
			u.mu.Unlock()
			if closed {
				return
			}
			u.logger.Warn("udp receive failed", "err", err)
			continue
		}
		cb(peer.IP, uint16(peer.Port), buf[:n])
	}
}

// SendPacket transmits one datagram. Best-effort: the caller logs
// failures and relies on the reliability handshake for recovery.
func (u *UDP) SendPacket(p PacketInfo) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.mu.Unlock()

	dest := &net.UDPAddr{IP: p.DestAddr, Port: int(p.DestPort)}
	if _, err := u.conn.WriteToUDP(p.Buffer, dest); err != nil {
		return fmt.Errorf("transport: send to %s: %w", dest, err)
	}
	return nil
}

// Close shuts the socket down and waits for the receive loop to exit.
func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()

	err := u.conn.Close()
	u.wg.Wait()
	return err
}
