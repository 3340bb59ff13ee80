package endpoint

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/mcx/embeddedRTPS/dispatch"
	"github.com/mcx/embeddedRTPS/rtps"
	"github.com/mcx/embeddedRTPS/transport"
	"github.com/mcx/embeddedRTPS/wire"
)

// captureTransport records every outbound packet in memory so tests can
// assert on the exact frames an endpoint emits, and can optionally loop
// them back into a Receiver to close a writer/reader pair over nothing but
// function calls.
type captureTransport struct {
	mu      sync.Mutex
	packets []transport.PacketInfo
	deliver func(p transport.PacketInfo)
	fail    bool
}

func (ct *captureTransport) SendPacket(p transport.PacketInfo) error {
	buf := append([]byte(nil), p.Buffer...)
	p.Buffer = buf

	ct.mu.Lock()
	ct.packets = append(ct.packets, p)
	deliver := ct.deliver
	fail := ct.fail
	ct.mu.Unlock()

	if fail {
		return transport.ErrClosed
	}
	if deliver != nil {
		deliver(p)
	}
	return nil
}

func (ct *captureTransport) count() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.packets)
}

func (ct *captureTransport) all() []transport.PacketInfo {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return append([]transport.PacketInfo(nil), ct.packets...)
}

func (ct *captureTransport) reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.packets = nil
}

// decodeFrames parses every submessage in every captured packet into typed
// values, in arrival order.
func decodeFrames(packets []transport.PacketInfo) (datas []wire.Data, hbs []wire.Heartbeat, acks []wire.AckNack) {
	for _, p := range packets {
		_, rest, err := wire.DecodeHeader(p.Buffer)
		if err != nil {
			continue
		}
		for len(rest) > 0 {
			raw, remaining, err := wire.DecodeSubmessage(rest)
			if err != nil {
				break
			}
			rest = remaining
			switch raw.Header.ID {
			case wire.SubmsgData:
				if d, err := wire.DecodeData(raw); err == nil {
					datas = append(datas, d)
				}
			case wire.SubmsgHeartbeat:
				if hb, err := wire.DecodeHeartbeat(raw); err == nil {
					hbs = append(hbs, hb)
				}
			case wire.SubmsgAckNack:
				if an, err := wire.DecodeAckNack(raw); err == nil {
					acks = append(acks, an)
				}
			}
		}
	}
	return datas, hbs, acks
}

// syncDispatcher runs Progress inline on Enqueue so tests stay
// deterministic without worker threads.
type syncDispatcher struct{}

func (syncDispatcher) Enqueue(w dispatch.Progresser) bool {
	w.Progress()
	return true
}

// nullDispatcher drops every enqueue, for tests that drive Progress by hand.
type nullDispatcher struct{}

func (nullDispatcher) Enqueue(w dispatch.Progresser) bool { return false }

func testConfig() rtps.Config {
	cfg := rtps.DefaultConfig()
	cfg.HBPeriod = 20 * time.Millisecond
	cfg.HistoryCapacity = 8
	cfg.MaxProxiesPerEndpoint = 4
	cfg.MaxReaderCallbacks = 2
	return cfg
}

func testPrefix(tag byte) rtps.GUIDPrefix {
	var p rtps.GUIDPrefix
	for i := range p {
		p[i] = tag
	}
	return p
}

func testLocator(port uint16) rtps.Locator {
	return rtps.NewUDPv4Locator(net.IPv4(127, 0, 0, 1), port)
}

// frameDataFrom builds a complete Header+DATA message as a remote writer
// under the given prefix would emit it.
func frameDataFrom(prefix rtps.GUIDPrefix, writerID, readerID rtps.EntityID, sn rtps.SequenceNumber, payload []byte) []byte {
	buf := wire.NewHeader(prefix).Encode(nil)
	return wire.Data{
		ReaderID:       readerID,
		WriterID:       writerID,
		SequenceNumber: sn,
		Payload:        payload,
	}.Encode(buf, binary.LittleEndian)
}
