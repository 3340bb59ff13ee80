// Package endpoint implements the reliable stateful endpoint pair at the
// heart of this module: the StatefulWriter's publication state machine
// with its heartbeat loop and acknack-driven retransmission, and the
// StatefulReader's in-order delivery state machine with its
// heartbeat-triggered acknack generation, built on the typed wire codecs
// in package wire and the per-peer state in package proxy.
package endpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcx/embeddedRTPS/dispatch"
	"github.com/mcx/embeddedRTPS/history"
	"github.com/mcx/embeddedRTPS/pool"
	"github.com/mcx/embeddedRTPS/proxy"
	"github.com/mcx/embeddedRTPS/rtps"
	"github.com/mcx/embeddedRTPS/transport"
	"github.com/mcx/embeddedRTPS/wire"
)

// ErrProxyPoolFull is returned when an endpoint's matched-peer pool is at
// MaxProxiesPerEndpoint.
var ErrProxyPoolFull = errors.New("endpoint: proxy pool full")

var wireOrder = binary.LittleEndian

// StatefulWriter is the reliable publication state machine of a writer
// endpoint. One mutex guards the history cache and the reader-proxy pool;
// the heartbeat goroutine, worker threads calling Progress, producer
// threads calling NewChange, and the transport callback thread calling
// OnAckNack all serialise on it. Transport sends happen outside the lock.
type StatefulWriter struct {
	mu sync.Mutex

	guid       rtps.GUID
	topicName  string
	typeName   string
	topicKind  rtps.TopicKind
	history    *history.Cache
	proxies    *pool.Pool[proxy.ReaderProxy]
	nextSendSN rtps.SequenceNumber
	hbCount    rtps.Count

	reliable       bool
	enforceUnicast bool
	srcPort        uint16
	tr             transport.Transport
	dispatcher     dispatch.Dispatcher
	logger         *slog.Logger

	hbPeriod    time.Duration
	running     bool
	hbDone      chan struct{}
	initialized bool
}

// NewStatefulWriter allocates a writer for the given topic. All fixed
// capacity is reserved here; Init starts the heartbeat task.
func NewStatefulWriter(cfg rtps.Config, guid rtps.GUID, topicName, typeName string, topicKind rtps.TopicKind, logger *slog.Logger) *StatefulWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatefulWriter{
		guid:       guid,
		topicName:  topicName,
		typeName:   typeName,
		topicKind:  topicKind,
		history:    history.New(cfg.HistoryDepth()),
		proxies:    pool.New[proxy.ReaderProxy](cfg.MaxProxiesPerEndpoint),
		nextSendSN: rtps.FirstSequenceNumber,
		// counts start at 1: a fresh proxy's last-seen count is 0 and peers
		// only accept strictly greater counts
		hbCount:  1,
		hbPeriod: cfg.HBPeriod,
		reliable: cfg.IsReliable(),
		logger:   logger.With("writer", guid.EID.String(), "topic", topicName),
	}
}

// GUID returns the writer's endpoint identifier.
func (w *StatefulWriter) GUID() rtps.GUID { return w.guid }

// TopicName returns the topic this writer publishes.
func (w *StatefulWriter) TopicName() string { return w.topicName }

// Init establishes the transport binding, records the worker dispatch, and
// starts the heartbeat task. On failure no partial endpoint is left behind
// and IsInitialized stays false.
func (w *StatefulWriter) Init(dispatcher dispatch.Dispatcher, tr transport.Transport, srcPort uint16, enforceUnicast bool) error {
	if tr == nil || dispatcher == nil {
		return fmt.Errorf("endpoint: writer init: %w", errors.New("nil transport or dispatcher"))
	}

	w.mu.Lock()
	if w.initialized {
		w.mu.Unlock()
		return nil
	}
	w.tr = tr
	w.dispatcher = dispatcher
	w.srcPort = srcPort
	w.enforceUnicast = enforceUnicast
	w.running = true
	w.hbDone = make(chan struct{})
	w.initialized = true
	w.mu.Unlock()

	if w.reliable {
		go w.heartbeatLoop()
	} else {
		// best-effort: no heartbeat task to wait on at Close
		close(w.hbDone)
	}
	w.logger.Info("stateful writer initialized", "reliable", w.reliable, "hb_period", w.hbPeriod)
	return nil
}

// IsInitialized reports whether Init has completed successfully.
func (w *StatefulWriter) IsInitialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initialized
}

// Close clears the running flag and waits for the heartbeat task to
// observe it and exit. In-flight transport sends run to completion.
func (w *StatefulWriter) Close() {
	w.mu.Lock()
	if !w.initialized || !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	done := w.hbDone
	w.mu.Unlock()
	<-done
	w.logger.Info("stateful writer stopped")
}

// AddMatchedReader registers a newly discovered remote reader. Callers
// typically follow up with SetAllChangesToUnsent so the whole history
// window is offered to the new match.
func (w *StatefulWriter) AddMatchedReader(rp proxy.ReaderProxy) error {
	w.mu.Lock()
	ok := w.proxies.Add(rp)
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("add matched reader %s: %w", rp.RemoteReaderGUID, ErrProxyPoolFull)
	}
	w.logger.Info("matched reader added", "reader", rp.RemoteReaderGUID.String())
	return nil
}

// RemoveMatchedReader drops the proxy with the given GUID, reporting
// whether one was found.
func (w *StatefulWriter) RemoveMatchedReader(guid rtps.GUID) bool {
	w.mu.Lock()
	removed := w.proxies.Remove(func(rp *proxy.ReaderProxy) bool {
		return rp.RemoteReaderGUID.Equal(guid)
	})
	w.mu.Unlock()
	if removed {
		w.logger.Info("matched reader removed", "reader", guid.String())
	}
	return removed
}

// RemoveMatchedReadersOf drops every proxy belonging to the participant
// with the given prefix, returning how many were removed. Used when a
// participant departs.
func (w *StatefulWriter) RemoveMatchedReadersOf(prefix rtps.GUIDPrefix) int {
	w.mu.Lock()
	removed := w.proxies.RemoveAll(func(rp *proxy.ReaderProxy) bool {
		return rp.RemoteReaderGUID.SamePrefix(prefix)
	})
	w.mu.Unlock()
	if removed > 0 {
		w.logger.Info("matched readers removed", "prefix", prefix.String(), "count", removed)
	}
	return removed
}

// NumMatchedReaders returns the current proxy count.
func (w *StatefulWriter) NumMatchedReaders() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.proxies.NumElements()
}

// NewChange appends a sample to the history cache and signals the worker
// dispatch to schedule a Progress call. Kinds the topic cannot carry are
// rejected without consuming a sequence number: NO_KEY topics only accept
// ALIVE, and INVALID is never publishable.
func (w *StatefulWriter) NewChange(kind rtps.ChangeKind, payload []byte) (*history.CacheChange, bool) {
	if !w.topicKind.AcceptsKind(kind) {
		w.logger.Debug("rejected change of irrelevant kind", "kind", kind.String())
		return nil, false
	}

	w.mu.Lock()
	if !w.initialized {
		w.mu.Unlock()
		return nil, false
	}
	change := w.history.AddChange(kind, payload)
	sn := change.SequenceNumber
	w.mu.Unlock()

	w.dispatcher.Enqueue(w)
	w.logger.Debug("change published", "sn", sn.String())
	return change, true
}

// SetCacheChangeKind marks an already-published sample disposed or
// unregistered in place.
func (w *StatefulWriter) SetCacheChangeKind(sn rtps.SequenceNumber, kind rtps.ChangeKind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.SetCacheChangeKind(sn, kind)
}

// SetAllChangesToUnsent resets the send cursor to the start of the history
// window and reschedules progress. Used on matching events so a newly
// matched reader is offered the whole window.
func (w *StatefulWriter) SetAllChangesToUnsent() {
	w.mu.Lock()
	if min, ok := w.history.GetSeqNumMin(); ok {
		w.nextSendSN = min
	}
	w.mu.Unlock()
	w.dispatcher.Enqueue(w)
}

// Progress sends the sample at the send cursor to every matched reader and
// advances the cursor. Called by the dispatch pool's worker threads. If
// samples remain beyond the cursor afterwards, the writer re-enqueues
// itself so the queue drains one sample per unit of work.
func (w *StatefulWriter) Progress() {
	w.mu.Lock()
	if !w.initialized {
		w.mu.Unlock()
		return
	}
	max, ok := w.history.GetSeqNumMax()
	if !ok || max.Before(w.nextSendSN) {
		w.mu.Unlock()
		return
	}
	if min, _ := w.history.GetSeqNumMin(); w.nextSendSN.Before(min) {
		// cursor fell behind the window through eviction
		w.nextSendSN = min
	}
	sn := w.nextSendSN
	targets := w.snapshotTargetsLocked(sn)
	w.nextSendSN = w.nextSendSN.Next()
	more := w.nextSendSN.Compare(max) <= 0
	w.mu.Unlock()

	for _, t := range targets {
		if err := w.tr.SendPacket(t.packet); err != nil {
			// recorded, not propagated: the handshake recovers
			w.logger.Warn("send failed", "dest", t.dest.String(), "sn", sn.String(), "err", err)
		}
	}
	if more {
		w.dispatcher.Enqueue(w)
	}
}

// sendTarget pairs a framed packet with its destination locator, built
// under the writer mutex and transmitted after it is released.
type sendTarget struct {
	dest   rtps.Locator
	packet transport.PacketInfo
}

// snapshotTargetsLocked builds the outbound packets for the change at sn.
// Each matched reader gets a multicast frame when its proxy uses multicast
// (and the writer does not enforce unicast), and a unicast frame unless
// that multicast frame was sent with SuppressUnicast set. Caller holds w.mu.
func (w *StatefulWriter) snapshotTargetsLocked(sn rtps.SequenceNumber) []sendTarget {
	change, err := w.history.GetChangeBySN(sn)
	if err != nil {
		w.logger.Warn("sample no longer in window", "sn", sn.String())
		return nil
	}

	var targets []sendTarget
	w.proxies.Iterate(func(_ int, rp *proxy.ReaderProxy) bool {
		if rp.UseMulticast && !w.enforceUnicast && !rp.RemoteMulticastLocator.Invalid() {
			buf := w.frameData(rtps.EntityIDUnknown, change)
			targets = append(targets, sendTarget{
				dest:   rp.RemoteMulticastLocator,
				packet: transport.PacketInfoFor(w.srcPort, rp.RemoteMulticastLocator, buf),
			})
			if rp.SuppressUnicast {
				return true
			}
		}
		buf := w.frameData(rp.RemoteReaderGUID.EID, change)
		targets = append(targets, sendTarget{
			dest:   rp.RemoteLocator,
			packet: transport.PacketInfoFor(w.srcPort, rp.RemoteLocator, buf),
		})
		return true
	})
	return targets
}

// frameData builds Header + INFO_TS + DATA for one cache change. In
// multicast mode readerID is ENTITYID_UNKNOWN; in unicast it names the
// target reader.
func (w *StatefulWriter) frameData(readerID rtps.EntityID, change *history.CacheChange) []byte {
	buf := wire.NewHeader(w.guid.Prefix).Encode(nil)
	buf = wire.InfoTS{Timestamp: time.Now()}.Encode(buf, wireOrder)
	return wire.Data{
		ReaderID:       readerID,
		WriterID:       w.guid.EID,
		SequenceNumber: change.SequenceNumber,
		Payload:        change.Payload,
	}.Encode(buf, wireOrder)
}

// OnAckNack processes an inbound ACKNACK from the transport callback
// thread. The proxy is located by (source prefix, reader entity id); a
// count that does not strictly exceed the proxy's last accepted count
// drops the message. Every sequence number the bitmap marks missing is
// retransmitted, followed by every number strictly beyond the bitmap range
// up to seqMax. A preemptive acknack (base {0,0}) only updates counters.
func (w *StatefulWriter) OnAckNack(an wire.AckNack, sourcePrefix rtps.GUIDPrefix) {
	if !w.reliable {
		w.logger.Debug("acknack ignored on best-effort writer")
		return
	}
	readerGUID := rtps.NewGUID(sourcePrefix, an.ReaderID)

	w.mu.Lock()
	rp, found := w.proxies.Find(func(p *proxy.ReaderProxy) bool {
		return p.RemoteReaderGUID.Equal(readerGUID)
	})
	if !found {
		w.mu.Unlock()
		w.logger.Warn("acknack from unknown reader", "reader", readerGUID.String())
		return
	}
	if !an.Count.StrictlyAfter(rp.AckNackCount) {
		w.mu.Unlock()
		w.logger.Warn("stale acknack dropped", "reader", readerGUID.String(), "count", uint32(an.Count))
		return
	}
	rp.AckNackCount = an.Count
	rp.FinalFlag = an.Final
	rp.LastAckNackSequenceNumber = an.ReaderSNState.Base

	base := an.ReaderSNState.Base
	if base == 0 {
		// preemptive ack: counters updated, nothing to send
		w.mu.Unlock()
		w.logger.Debug("preemptive acknack", "reader", readerGUID.String())
		return
	}

	max, haveMax := w.history.GetSeqNumMax()
	dest := rp.RemoteLocator
	readerEID := rp.RemoteReaderGUID.EID

	var targets []sendTarget
	retransmit := func(sn rtps.SequenceNumber) {
		change, err := w.history.GetChangeBySN(sn)
		if err != nil {
			// out of window: the next heartbeat advances the reader
			w.logger.Warn("retransmit request out of window", "sn", sn.String())
			return
		}
		targets = append(targets, sendTarget{
			dest:   dest,
			packet: transport.PacketInfoFor(w.srcPort, dest, w.frameData(readerEID, change)),
		})
	}

	for i := uint32(0); i < an.ReaderSNState.NumBits; i++ {
		word := int(i / 32)
		if word >= len(an.ReaderSNState.Bitmap) {
			break
		}
		if an.ReaderSNState.Bitmap[word]&(1<<(i%32)) != 0 {
			retransmit(base + rtps.SequenceNumber(i))
		}
	}
	if haveMax {
		for sn := base + rtps.SequenceNumber(an.ReaderSNState.NumBits); sn.Compare(max) <= 0; sn = sn.Next() {
			retransmit(sn)
		}
	}
	w.mu.Unlock()

	for _, t := range targets {
		if err := w.tr.SendPacket(t.packet); err != nil {
			w.logger.Warn("retransmit send failed", "dest", t.dest.String(), "err", err)
		}
	}
	w.logger.Debug("acknack processed", "reader", readerGUID.String(), "retransmitted", len(targets))
}

// SeqNumMin returns the low edge of the history window.
func (w *StatefulWriter) SeqNumMin() (rtps.SequenceNumber, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.GetSeqNumMin()
}

// SeqNumMax returns the high edge of the history window.
func (w *StatefulWriter) SeqNumMax() (rtps.SequenceNumber, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.GetSeqNumMax()
}

// heartbeatLoop wakes every hbPeriod and announces the current window to
// each matched reader, then bumps the writer heartbeat count once per
// round. It exits when Close clears the running flag.
func (w *StatefulWriter) heartbeatLoop() {
	defer close(w.hbDone)
	ticker := time.NewTicker(w.hbPeriod)
	defer ticker.Stop()
	for {
		<-ticker.C
		w.mu.Lock()
		if !w.running {
			w.mu.Unlock()
			return
		}
		targets := w.heartbeatTargetsLocked()
		w.mu.Unlock()

		for _, t := range targets {
			if err := w.tr.SendPacket(t.packet); err != nil {
				w.logger.Warn("heartbeat send failed", "dest", t.dest.String(), "err", err)
			}
		}
	}
}

// SendHeartbeat runs one heartbeat round immediately, outside the periodic
// task. Exposed so matching events can prompt an acknack without waiting a
// full period.
func (w *StatefulWriter) SendHeartbeat() {
	if !w.reliable {
		return
	}
	w.mu.Lock()
	if !w.initialized {
		w.mu.Unlock()
		return
	}
	targets := w.heartbeatTargetsLocked()
	w.mu.Unlock()
	for _, t := range targets {
		if err := w.tr.SendPacket(t.packet); err != nil {
			w.logger.Warn("heartbeat send failed", "dest", t.dest.String(), "err", err)
		}
	}
}

// heartbeatTargetsLocked frames one HEARTBEAT per proxy that still needs
// announcing, and bumps hbCount once if any round ran. A proxy whose last
// acknack acknowledged past seqMax with the final flag set is suppressed.
// Caller holds w.mu.
func (w *StatefulWriter) heartbeatTargetsLocked() []sendTarget {
	min, okMin := w.history.GetSeqNumMin()
	max, okMax := w.history.GetSeqNumMax()
	if !okMin || !okMax || w.proxies.IsEmpty() {
		return nil
	}

	var targets []sendTarget
	w.proxies.Iterate(func(_ int, rp *proxy.ReaderProxy) bool {
		if rp.FinalFlag && !rp.LastAckNackSequenceNumber.Unknown() && max.Before(rp.LastAckNackSequenceNumber) {
			return true // fully acknowledged, nothing to announce
		}
		buf := wire.NewHeader(w.guid.Prefix).Encode(nil)
		buf = wire.Heartbeat{
			ReaderID: rp.RemoteReaderGUID.EID,
			WriterID: w.guid.EID,
			FirstSN:  min,
			LastSN:   max,
			Count:    w.hbCount,
		}.Encode(buf, wireOrder)
		targets = append(targets, sendTarget{
			dest:   rp.RemoteLocator,
			packet: transport.PacketInfoFor(w.srcPort, rp.RemoteLocator, buf),
		})
		return true
	})
	w.hbCount++
	return targets
}
