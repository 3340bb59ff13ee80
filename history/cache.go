// Package history implements the writer's fixed-capacity window of
// outgoing samples: a ring holding a contiguous run of sequence numbers,
// indexed O(1) by sequence number for retransmission lookups.
package history

import (
	"errors"

	"github.com/mcx/embeddedRTPS/rtps"
)

// ErrNotInWindow is returned by GetChangeBySN when sn is outside
// [SeqMin, SeqMax].
var ErrNotInWindow = errors.New("history: sequence number not in window")

// CacheChange is one published sample with its sequence number and kind.
// Payload is retained as-is for the sample's lifetime — this module copies
// payloads into the change at AddChange time rather than retaining a
// caller-owned buffer, since nothing upstream of the writer in this module
// promises immutability of the caller's slice.
type CacheChange struct {
	Kind           rtps.ChangeKind
	SequenceNumber rtps.SequenceNumber
	Payload        []byte
}

// Cache is a ring of HistoryCapacity CacheChange slots holding a
// contiguous run of sequence numbers [seqMin, seqMax]. It is not
// internally synchronised: all accesses are made under the owning
// StatefulWriter's single mutex.
type Cache struct {
	capacity int
	ring     []CacheChange
	occupied []bool
	seqMin   rtps.SequenceNumber
	seqMax   rtps.SequenceNumber
	count    int
}

// New constructs an empty Cache with the given fixed capacity.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ring:     make([]CacheChange, capacity),
		occupied: make([]bool, capacity),
	}
}

// Capacity returns HISTORY_CAPACITY for this cache.
func (c *Cache) Capacity() int { return c.capacity }

// NumElements returns the number of changes currently retained.
func (c *Cache) NumElements() int { return c.count }

// slot maps a sequence number to its physical ring index. Indexing is by
// sn mod capacity directly — not by offset from the current seqMin — so
// that a change's physical slot never moves for as long as it stays in
// the window, regardless of how many older changes are evicted around it.
func (c *Cache) slot(sn rtps.SequenceNumber) int {
	idx := int64(sn) % int64(c.capacity)
	if idx < 0 {
		idx += int64(c.capacity)
	}
	return int(idx)
}

// GetSeqNumMin returns the lowest retained sequence number, or
// (rtps.SeqNumUnknown, false) if the cache is empty.
func (c *Cache) GetSeqNumMin() (rtps.SequenceNumber, bool) {
	if c.count == 0 {
		return rtps.SeqNumUnknown, false
	}
	return c.seqMin, true
}

// GetSeqNumMax returns the highest retained sequence number, or
// (rtps.SeqNumUnknown, false) if the cache is empty.
func (c *Cache) GetSeqNumMax() (rtps.SequenceNumber, bool) {
	if c.count == 0 {
		return rtps.SeqNumUnknown, false
	}
	return c.seqMax, true
}

// AddChange assigns the next sequence number (seqMax+1, or
// FirstSequenceNumber if empty), stores a copy of payload, and returns a
// pointer to the stored change. If the cache was already full, the oldest
// change (seqMin) is evicted and seqMin advances by one before the new
// change is inserted.
func (c *Cache) AddChange(kind rtps.ChangeKind, payload []byte) *CacheChange {
	var sn rtps.SequenceNumber
	if c.count == 0 {
		sn = rtps.FirstSequenceNumber
		c.seqMin = sn
	} else {
		sn = c.seqMax.Next()
		if c.count == c.capacity {
			// evict the oldest before inserting the new one
			oldSlot := c.slot(c.seqMin)
			c.occupied[oldSlot] = false
			c.count--
			c.seqMin = c.seqMin.Next()
		}
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	idx := c.slot(sn)
	c.ring[idx] = CacheChange{Kind: kind, SequenceNumber: sn, Payload: buf}
	c.occupied[idx] = true
	c.count++
	c.seqMax = sn

	return &c.ring[idx]
}

// GetChangeBySN looks up a change by sequence number in O(1) via the same
// sn-mod-capacity slot mapping AddChange uses. It returns ErrNotInWindow if sn is
// outside [seqMin, seqMax] or the slot has since been evicted.
func (c *Cache) GetChangeBySN(sn rtps.SequenceNumber) (*CacheChange, error) {
	if c.count == 0 || sn.Before(c.seqMin) || c.seqMax.Before(sn) {
		return nil, ErrNotInWindow
	}
	idx := c.slot(sn)
	if !c.occupied[idx] || c.ring[idx].SequenceNumber != sn {
		return nil, ErrNotInWindow
	}
	return &c.ring[idx], nil
}

// SetCacheChangeKind mutates the kind of an already-stored change in
// place, used to mark samples disposed/unregistered after publication.
func (c *Cache) SetCacheChangeKind(sn rtps.SequenceNumber, kind rtps.ChangeKind) bool {
	change, err := c.GetChangeBySN(sn)
	if err != nil {
		return false
	}
	change.Kind = kind
	return true
}

// Clear empties the cache.
func (c *Cache) Clear() {
	for i := range c.occupied {
		c.occupied[i] = false
	}
	c.count = 0
	c.seqMin = rtps.SeqNumUnknown
	c.seqMax = rtps.SeqNumUnknown
}
