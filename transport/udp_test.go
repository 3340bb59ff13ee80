package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUDPRoundTrip(t *testing.T) {
	rx, err := NewUDP(0, nil)
	require.NoError(t, err)
	defer rx.Close()

	tx, err := NewUDP(0, nil)
	require.NoError(t, err)
	defer tx.Close()

	var mu sync.Mutex
	var got []byte
	var gotPort uint16
	rx.Start(func(peerAddr net.IP, peerPort uint16, b []byte) {
		mu.Lock()
		got = append([]byte(nil), b...)
		gotPort = peerPort
		mu.Unlock()
	})

	payload := []byte{0x52, 0x54, 0x50, 0x53, 1, 2, 3}
	require.NoError(t, tx.SendPacket(PacketInfo{
		SrcPort:  tx.Port(),
		DestAddr: net.IPv4(127, 0, 0, 1),
		DestPort: rx.Port(),
		Buffer:   payload,
	}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := got != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, payload, got)
	require.Equal(t, tx.Port(), gotPort)
}

func TestSendAfterCloseFails(t *testing.T) {
	u, err := NewUDP(0, nil)
	require.NoError(t, err)
	require.NoError(t, u.Close())

	err = u.SendPacket(PacketInfo{
		DestAddr: net.IPv4(127, 0, 0, 1),
		DestPort: 9,
		Buffer:   []byte{0},
	})
	require.ErrorIs(t, err, ErrClosed)
}

func TestPortMapping(t *testing.T) {
	require.Equal(t, uint16(7411), UserUnicastPort(0, 0))
	require.Equal(t, uint16(7413), UserUnicastPort(0, 1))
	require.Equal(t, uint16(7401), UserMulticastPort(0))
	require.Equal(t, uint16(7661), UserUnicastPort(1, 0))
}
