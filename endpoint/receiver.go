package endpoint

import (
	"log/slog"
	"net"
	"sync"

	"github.com/mcx/embeddedRTPS/history"
	"github.com/mcx/embeddedRTPS/pool"
	"github.com/mcx/embeddedRTPS/rtps"
	"github.com/mcx/embeddedRTPS/wire"
)

// Receiver is the RTPS message dispatcher: it parses inbound datagrams on
// the transport callback thread and routes each submessage to the endpoint
// named by its destination entity id.
type Receiver struct {
	mu        sync.Mutex
	ownPrefix rtps.GUIDPrefix
	writers   *pool.Pool[*StatefulWriter]
	readers   *pool.Pool[*StatefulReader]
	logger    *slog.Logger
}

// NewReceiver builds a dispatcher for endpoints of the participant with
// the given GUID prefix. Messages carrying that prefix are our own
// reflections and are ignored.
func NewReceiver(cfg rtps.Config, ownPrefix rtps.GUIDPrefix, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		ownPrefix: ownPrefix,
		writers:   pool.New[*StatefulWriter](cfg.MaxProxiesPerEndpoint),
		readers:   pool.New[*StatefulReader](cfg.MaxProxiesPerEndpoint),
		logger:    logger,
	}
}

// RegisterWriter adds a writer to the routing table.
func (rc *Receiver) RegisterWriter(w *StatefulWriter) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.writers.Add(w)
}

// RegisterReader adds a reader to the routing table.
func (rc *Receiver) RegisterReader(r *StatefulReader) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.readers.Add(r)
}

// UnregisterWriter removes a writer from the routing table.
func (rc *Receiver) UnregisterWriter(w *StatefulWriter) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.writers.Remove(func(e **StatefulWriter) bool { return *e == w })
}

// UnregisterReader removes a reader from the routing table.
func (rc *Receiver) UnregisterReader(r *StatefulReader) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.readers.Remove(func(e **StatefulReader) bool { return *e == r })
}

// HandlePacket is the transport receive callback: parse the message
// header, walk the submessages, and hand each to the endpoint its
// destination entity id names. Malformed input is dropped with a warning —
// a bad datagram must never take down the callback thread.
func (rc *Receiver) HandlePacket(peerAddr net.IP, peerPort uint16, b []byte) {
	hdr, rest, err := wire.DecodeHeader(b)
	if err != nil {
		rc.logger.Warn("dropping malformed message", "peer", peerAddr.String(), "err", err)
		return
	}
	if hdr.GUIDPrefix == rc.ownPrefix {
		return // our own reflection
	}

	for len(rest) > 0 {
		raw, remaining, err := wire.DecodeSubmessage(rest)
		if err != nil {
			rc.logger.Warn("dropping truncated submessage", "peer", peerAddr.String(), "err", err)
			return
		}
		rest = remaining

		switch raw.Header.ID {
		case wire.SubmsgInfoTS:
			// timestamp prefix: validated, not consumed — source timing is
			// outside this core's delivery semantics
			if _, err := wire.DecodeInfoTS(raw); err != nil {
				rc.logger.Warn("bad INFO_TS", "err", err)
			}

		case wire.SubmsgData:
			d, err := wire.DecodeData(raw)
			if err != nil {
				rc.logger.Warn("bad DATA", "err", err)
				continue
			}
			rc.routeData(hdr.GUIDPrefix, d)

		case wire.SubmsgHeartbeat:
			hb, err := wire.DecodeHeartbeat(raw)
			if err != nil {
				rc.logger.Warn("bad HEARTBEAT", "err", err)
				continue
			}
			rc.routeHeartbeat(hdr.GUIDPrefix, hb)

		case wire.SubmsgAckNack:
			an, err := wire.DecodeAckNack(raw)
			if err != nil {
				rc.logger.Warn("bad ACKNACK", "err", err)
				continue
			}
			rc.routeAckNack(hdr.GUIDPrefix, an)

		default:
			// PAD/GAP/INFO_* and anything newer: tolerated, skipped
		}
	}
}

// routeData delivers a DATA submessage to the reader its destination
// entity id names, or, when the id is ENTITYID_UNKNOWN as multicast
// frames carry, to every reader matched to the originating writer.
// Builtin-entity traffic is discovery, which lives outside this core and
// is skipped without complaint.
func (rc *Receiver) routeData(prefix rtps.GUIDPrefix, d wire.Data) {
	if d.WriterID.IsBuiltin() {
		rc.logger.Debug("skipping builtin DATA", "writer_eid", d.WriterID.String())
		return
	}
	if !d.WriterID.IsWriter() {
		rc.logger.Warn("DATA from non-writer entity dropped", "eid", d.WriterID.String())
		return
	}
	writerGUID := rtps.NewGUID(prefix, d.WriterID)
	change := &history.CacheChange{
		Kind:           rtps.Alive,
		SequenceNumber: d.SequenceNumber,
		Payload:        d.Payload,
	}

	rc.mu.Lock()
	var targets []*StatefulReader
	rc.readers.Iterate(func(_ int, e **StatefulReader) bool {
		if d.ReaderID == rtps.EntityIDUnknown || (*e).GUID().EID == d.ReaderID {
			targets = append(targets, *e)
		}
		return true
	})
	rc.mu.Unlock()

	for _, r := range targets {
		r.OnNewChange(writerGUID, change)
	}
}

func (rc *Receiver) routeHeartbeat(prefix rtps.GUIDPrefix, hb wire.Heartbeat) {
	if hb.WriterID.IsBuiltin() {
		rc.logger.Debug("skipping builtin HEARTBEAT", "writer_eid", hb.WriterID.String())
		return
	}
	rc.mu.Lock()
	var targets []*StatefulReader
	rc.readers.Iterate(func(_ int, e **StatefulReader) bool {
		if hb.ReaderID == rtps.EntityIDUnknown || (*e).GUID().EID == hb.ReaderID {
			targets = append(targets, *e)
		}
		return true
	})
	rc.mu.Unlock()

	for _, r := range targets {
		r.OnNewHeartbeat(hb, prefix)
	}
}

func (rc *Receiver) routeAckNack(prefix rtps.GUIDPrefix, an wire.AckNack) {
	if an.WriterID.IsBuiltin() {
		rc.logger.Debug("skipping builtin ACKNACK", "writer_eid", an.WriterID.String())
		return
	}
	if an.ReaderID != rtps.EntityIDUnknown && !an.ReaderID.IsReader() {
		rc.logger.Warn("ACKNACK from non-reader entity dropped", "eid", an.ReaderID.String())
		return
	}
	rc.mu.Lock()
	var targets []*StatefulWriter
	rc.writers.Iterate(func(_ int, e **StatefulWriter) bool {
		if (*e).GUID().EID == an.WriterID {
			targets = append(targets, *e)
		}
		return true
	})
	rc.mu.Unlock()

	for _, w := range targets {
		w.OnAckNack(an, prefix)
	}
}
