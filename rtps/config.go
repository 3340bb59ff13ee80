package rtps

import "time"

// Config collects the tunables that bound every fixed-capacity structure
// in this module. On an embedded target these would be compile-time
// constants; here they are ordinary struct fields, and every
// fixed-capacity container takes its capacity as a constructor argument
// backed by a slice allocated once up front.
type Config struct {
	// HBPeriod is HB_PERIOD_MS: the writer heartbeat task's wake interval.
	HBPeriod time.Duration
	// HistoryCapacity bounds the writer's history cache.
	HistoryCapacity int
	// MaxProxiesPerEndpoint bounds the reader/writer proxy pools.
	MaxProxiesPerEndpoint int
	// MaxReaderCallbacks bounds the number of registered delivery callbacks
	// per StatefulReader.
	MaxReaderCallbacks int
	// WorkerIdleSleep is the dispatch pool's idle poll backoff.
	WorkerIdleSleep time.Duration
	// Reliability selects the delivery protocol endpoints run. BestEffort
	// endpoints publish and deliver but skip the heartbeat/acknack
	// machinery entirely.
	Reliability ReliabilityQoS
	// History caps the retained window depth. See HistoryDepth.
	History HistoryQoS
}

// DefaultConfig returns the reference constants used throughout this
// module's tests.
func DefaultConfig() Config {
	return Config{
		HBPeriod:              200 * time.Millisecond,
		HistoryCapacity:       32,
		MaxProxiesPerEndpoint: 8,
		MaxReaderCallbacks:    4,
		WorkerIdleSleep:       time.Millisecond,
		Reliability:           ReliabilityQoS{Kind: Reliable, MaxBlockingTime: 100 * time.Millisecond},
		History:               HistoryQoS{Kind: KeepLast, Depth: 32},
	}
}

// IsReliable reports whether endpoints run the heartbeat/acknack protocol.
func (c Config) IsReliable() bool { return c.Reliability.Kind == Reliable }

// HistoryDepth returns the effective history window size: History.Depth
// clamped to HistoryCapacity. A zero depth or a KeepAll kind yields the
// full capacity (KeepAll cannot be honoured literally under the
// fixed-capacity resource model, so it degrades to KeepLast at capacity).
func (c Config) HistoryDepth() int {
	if c.History.Kind == KeepAll || c.History.Depth == 0 {
		return c.HistoryCapacity
	}
	if int(c.History.Depth) < c.HistoryCapacity {
		return int(c.History.Depth)
	}
	return c.HistoryCapacity
}
