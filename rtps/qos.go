package rtps

import "time"

// ReliabilityKind selects between the two reliability QoS policies this
// core implements. No QoS beyond RELIABLE/BEST_EFFORT and history depth
// is supported.
type ReliabilityKind uint32

const (
	BestEffort ReliabilityKind = 1
	Reliable   ReliabilityKind = 2
)

// ReliabilityQoS mirrors the wire RELIABILITY parameter.
type ReliabilityQoS struct {
	Kind            ReliabilityKind
	MaxBlockingTime time.Duration
}

// HistoryKind selects how a History QoS measures retained depth. This core
// always behaves as KeepLast at Config.HistoryDepth; KeepAll would require
// unbounded storage, which the fixed-capacity resource model forbids, so
// it degrades to KeepLast at full capacity.
type HistoryKind uint32

const (
	KeepLast HistoryKind = 0
	KeepAll  HistoryKind = 1
)

// HistoryQoS mirrors the wire HISTORY parameter.
type HistoryQoS struct {
	Kind  HistoryKind
	Depth uint32
}
