package rtps

import (
	"fmt"
	"net"
)

// LocatorKind identifies the transport a Locator addresses.
type LocatorKind int32

const (
	LocatorKindInvalid  LocatorKind = -1
	LocatorKindReserved LocatorKind = 0
	LocatorKindUDPv4    LocatorKind = 1
	LocatorKindUDPv6    LocatorKind = 2
)

// Locator is a protocol kind + port + address. Only IPv4-UDP is required
// by this core; the struct carries a generic net.IP so UDPv6 could be
// added later without a wire-format change.
type Locator struct {
	Kind LocatorKind
	Port uint16
	Addr net.IP
}

// NewUDPv4Locator builds a unicast or multicast IPv4 UDP locator.
func NewUDPv4Locator(ip net.IP, port uint16) Locator {
	return Locator{Kind: LocatorKindUDPv4, Port: port, Addr: ip.To4()}
}

// UDPAddr returns the net.UDPAddr this locator names.
func (l Locator) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: l.Addr, Port: int(l.Port)}
}

func (l Locator) String() string {
	return fmt.Sprintf("%s:%d", l.Addr.String(), l.Port)
}

// Invalid reports whether l names no usable destination.
func (l Locator) Invalid() bool {
	return l.Kind == LocatorKindInvalid || l.Addr == nil || l.Port == 0
}
