package endpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcx/embeddedRTPS/history"
	"github.com/mcx/embeddedRTPS/pool"
	"github.com/mcx/embeddedRTPS/proxy"
	"github.com/mcx/embeddedRTPS/rtps"
	"github.com/mcx/embeddedRTPS/transport"
	"github.com/mcx/embeddedRTPS/wire"
)

// ErrCallbacksFull is returned by RegisterCallback when all
// MaxReaderCallbacks slots are taken.
var ErrCallbacksFull = errors.New("endpoint: callback slots full")

// ReaderCallback receives one in-order delivered sample. The userArg given
// at registration rides along unchanged.
type ReaderCallback func(change *history.CacheChange, userArg any)

// CallbackHandle names a registered callback for later removal. Go funcs
// are not comparable, so removal is by handle rather than by function
// value.
type CallbackHandle int

type callbackEntry struct {
	handle CallbackHandle
	fn     ReaderCallback
	arg    any
}

// StatefulReader is the reliable reception state machine of a reader
// endpoint. Two locks: proxiesMu guards the writer-proxy pool, callbacksMu
// guards the callback table. callbacksMu is a leaf (nothing else is
// acquired while it is held) and when both are needed the order is
// proxies before callbacks.
type StatefulReader struct {
	proxiesMu   sync.Mutex
	callbacksMu sync.Mutex

	guid       rtps.GUID
	topicName  string
	typeName   string
	proxies    *pool.Pool[proxy.WriterProxy]
	callbacks  *pool.Pool[callbackEntry]
	nextHandle CallbackHandle

	reliable    bool
	srcPort     uint16
	tr          transport.Transport
	logger      *slog.Logger
	initialized bool
}

// NewStatefulReader allocates a reader for the given topic.
func NewStatefulReader(cfg rtps.Config, guid rtps.GUID, topicName, typeName string, logger *slog.Logger) *StatefulReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatefulReader{
		guid:      guid,
		topicName: topicName,
		typeName:  typeName,
		proxies:   pool.New[proxy.WriterProxy](cfg.MaxProxiesPerEndpoint),
		callbacks: pool.New[callbackEntry](cfg.MaxReaderCallbacks),
		reliable:  cfg.IsReliable(),
		logger:    logger.With("reader", guid.EID.String(), "topic", topicName),
	}
}

// GUID returns the reader's endpoint identifier.
func (r *StatefulReader) GUID() rtps.GUID { return r.guid }

// TopicName returns the topic this reader subscribes to.
func (r *StatefulReader) TopicName() string { return r.topicName }

// Init establishes the transport binding used to reply with ACKNACKs.
func (r *StatefulReader) Init(tr transport.Transport, srcPort uint16) error {
	if tr == nil {
		return fmt.Errorf("endpoint: reader init: %w", errors.New("nil transport"))
	}
	r.proxiesMu.Lock()
	r.tr = tr
	r.srcPort = srcPort
	r.initialized = true
	r.proxiesMu.Unlock()
	r.logger.Info("stateful reader initialized")
	return nil
}

// IsInitialized reports whether Init has completed successfully.
func (r *StatefulReader) IsInitialized() bool {
	r.proxiesMu.Lock()
	defer r.proxiesMu.Unlock()
	return r.initialized
}

// AddMatchedWriter registers a newly discovered remote writer.
func (r *StatefulReader) AddMatchedWriter(wp proxy.WriterProxy) error {
	r.proxiesMu.Lock()
	ok := r.proxies.Add(wp)
	r.proxiesMu.Unlock()
	if !ok {
		return fmt.Errorf("add matched writer %s: %w", wp.RemoteWriterGUID, ErrProxyPoolFull)
	}
	r.logger.Info("matched writer added", "writer", wp.RemoteWriterGUID.String())
	return nil
}

// RemoveMatchedWriter drops the proxy with the given GUID, reporting
// whether one was found.
func (r *StatefulReader) RemoveMatchedWriter(guid rtps.GUID) bool {
	r.proxiesMu.Lock()
	removed := r.proxies.Remove(func(wp *proxy.WriterProxy) bool {
		return wp.RemoteWriterGUID.Equal(guid)
	})
	r.proxiesMu.Unlock()
	if removed {
		r.logger.Info("matched writer removed", "writer", guid.String())
	}
	return removed
}

// RemoveMatchedWritersOf drops every proxy belonging to the participant
// with the given prefix, returning how many were removed.
func (r *StatefulReader) RemoveMatchedWritersOf(prefix rtps.GUIDPrefix) int {
	r.proxiesMu.Lock()
	removed := r.proxies.RemoveAll(func(wp *proxy.WriterProxy) bool {
		return wp.RemoteWriterGUID.SamePrefix(prefix)
	})
	r.proxiesMu.Unlock()
	if removed > 0 {
		r.logger.Info("matched writers removed", "prefix", prefix.String(), "count", removed)
	}
	return removed
}

// NumMatchedWriters returns the current proxy count.
func (r *StatefulReader) NumMatchedWriters() int {
	r.proxiesMu.Lock()
	defer r.proxiesMu.Unlock()
	return r.proxies.NumElements()
}

// RegisterCallback installs a delivery handler, up to MaxReaderCallbacks.
// Handlers fire in registration slot order for every delivered sample.
func (r *StatefulReader) RegisterCallback(fn ReaderCallback, userArg any) (CallbackHandle, error) {
	if fn == nil {
		return 0, fmt.Errorf("register callback: %w", errors.New("nil callback"))
	}
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()
	r.nextHandle++
	h := r.nextHandle
	if !r.callbacks.Add(callbackEntry{handle: h, fn: fn, arg: userArg}) {
		return 0, fmt.Errorf("register callback: %w", ErrCallbacksFull)
	}
	return h, nil
}

// RemoveCallback uninstalls the handler registered under h.
func (r *StatefulReader) RemoveCallback(h CallbackHandle) bool {
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()
	return r.callbacks.Remove(func(e *callbackEntry) bool { return e.handle == h })
}

// NumCallbacks returns the number of installed handlers.
func (r *StatefulReader) NumCallbacks() int {
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()
	return r.callbacks.NumElements()
}

// OnNewChange processes one inbound DATA sample from the transport
// callback thread. The sample fires callbacks only if a handler is
// registered, the writer GUID matches a proxy, and the sequence number is
// exactly the proxy's next expected — anything else is a silent drop; gap
// recovery happens through the heartbeat/acknack dialogue, not here.
func (r *StatefulReader) OnNewChange(writerGUID rtps.GUID, change *history.CacheChange) bool {
	if r.NumCallbacks() == 0 {
		return false
	}

	r.proxiesMu.Lock()
	wp, found := r.proxies.Find(func(p *proxy.WriterProxy) bool {
		return p.RemoteWriterGUID.Equal(writerGUID)
	})
	if !found {
		r.proxiesMu.Unlock()
		r.logger.Warn("data from unknown writer", "writer", writerGUID.String())
		return false
	}
	if change.SequenceNumber != wp.ExpectedSN {
		r.proxiesMu.Unlock()
		r.logger.Debug("out-of-order sample dropped",
			"sn", change.SequenceNumber.String(), "expected", wp.ExpectedSN.String())
		return false
	}

	// proxies before callbacks: the one allowed lock order
	r.callbacksMu.Lock()
	r.callbacks.Iterate(func(_ int, e *callbackEntry) bool {
		e.fn(change, e.arg)
		return true
	})
	r.callbacksMu.Unlock()

	wp.ExpectedSN = wp.ExpectedSN.Next()
	r.proxiesMu.Unlock()

	r.logger.Debug("sample delivered", "writer", writerGUID.String(), "sn", change.SequenceNumber.String())
	return true
}

// OnNewHeartbeat processes an inbound HEARTBEAT from the transport
// callback thread: locate the proxy, drop stale counts, then answer with
// an ACKNACK whose sequence-number-set marks every number in the announced
// window not yet delivered.
func (r *StatefulReader) OnNewHeartbeat(hb wire.Heartbeat, sourcePrefix rtps.GUIDPrefix) bool {
	if !r.reliable {
		r.logger.Debug("heartbeat ignored on best-effort reader")
		return false
	}
	writerGUID := rtps.NewGUID(sourcePrefix, hb.WriterID)

	r.proxiesMu.Lock()
	if !r.initialized {
		r.proxiesMu.Unlock()
		return false
	}
	wp, found := r.proxies.Find(func(p *proxy.WriterProxy) bool {
		return p.RemoteWriterGUID.Equal(writerGUID)
	})
	if !found {
		r.proxiesMu.Unlock()
		r.logger.Warn("heartbeat from unknown writer", "writer", writerGUID.String())
		return false
	}
	if !hb.Count.StrictlyAfter(wp.HBCount) {
		r.proxiesMu.Unlock()
		r.logger.Warn("stale heartbeat dropped", "writer", writerGUID.String(), "count", uint32(hb.Count))
		return false
	}
	wp.HBCount = hb.Count

	missing := wp.GetMissing(hb.FirstSN, hb.LastSN)
	count := wp.GetNextAckNackCount()
	dest := wp.RemoteLocator

	buf := wire.NewHeader(r.guid.Prefix).Encode(nil)
	buf = wire.AckNack{
		ReaderID: r.guid.EID,
		WriterID: hb.WriterID,
		ReaderSNState: wire.SeqNumSet{
			Base:    missing.Base,
			NumBits: missing.NumBits,
			Bitmap:  missing.Bitmap,
		},
		Count: count,
	}.Encode(buf, wireOrder)
	r.proxiesMu.Unlock()

	if err := r.tr.SendPacket(transport.PacketInfoFor(r.srcPort, dest, buf)); err != nil {
		r.logger.Warn("acknack send failed", "dest", dest.String(), "err", err)
	}
	r.logger.Debug("acknack sent", "writer", writerGUID.String(), "base", missing.Base.String(), "bits", missing.NumBits)
	return true
}
