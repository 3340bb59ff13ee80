// Package proxy holds the per-matched-peer state kept on each side of a
// reliable endpoint pair: ReaderProxy on the writer side, WriterProxy on
// the reader side.
package proxy

import (
	"github.com/mcx/embeddedRTPS/rtps"
)

// ReaderProxy is the writer-side record of one matched remote reader.
type ReaderProxy struct {
	RemoteReaderGUID       rtps.GUID
	RemoteLocator          rtps.Locator
	RemoteMulticastLocator rtps.Locator
	UseMulticast           bool
	SuppressUnicast        bool

	AckNackCount              rtps.Count
	LastAckNackSequenceNumber rtps.SequenceNumber
	FinalFlag                 bool
}

// NewReaderProxy constructs a ReaderProxy for a freshly matched reader.
func NewReaderProxy(remoteReaderGUID rtps.GUID, remoteLocator rtps.Locator) ReaderProxy {
	return ReaderProxy{
		RemoteReaderGUID:          remoteReaderGUID,
		RemoteLocator:             remoteLocator,
		LastAckNackSequenceNumber: rtps.SeqNumUnknown,
		FinalFlag:                true,
	}
}

// WriterProxy is the reader-side record of one matched remote writer.
type WriterProxy struct {
	RemoteWriterGUID rtps.GUID
	RemoteLocator    rtps.Locator

	HBCount rtps.Count
	// ExpectedSN is the next in-order sequence number this proxy is
	// awaiting from its remote writer. The reader never buffers
	// out-of-order samples: only a sample whose number equals ExpectedSN
	// advances it.
	ExpectedSN rtps.SequenceNumber

	AckNackCount rtps.Count
}

// NewWriterProxy constructs a WriterProxy for a freshly matched writer,
// awaiting the first valid sequence number.
func NewWriterProxy(remoteWriterGUID rtps.GUID, remoteLocator rtps.Locator) WriterProxy {
	return WriterProxy{
		RemoteWriterGUID: remoteWriterGUID,
		RemoteLocator:    remoteLocator,
		ExpectedSN:       rtps.FirstSequenceNumber,
	}
}

// GetNextAckNackCount increments and returns this proxy's local acknack
// counter, for stamping an outbound ACKNACK.
func (wp *WriterProxy) GetNextAckNackCount() rtps.Count {
	wp.AckNackCount++
	return wp.AckNackCount
}

// Missing describes the sequence-number-set a reader should NACK: a base
// plus a bitmap of missing numbers relative to that base.
type Missing struct {
	Base    rtps.SequenceNumber
	NumBits uint32
	Bitmap  []uint32 // ceil(NumBits/32) words
}

// GetMissing builds the sequence-number-set for an inbound heartbeat's
// [firstSN, lastSN] range: base = ExpectedSN, with bit i set iff
// ExpectedSN+i falls in [firstSN, lastSN] and has not yet been delivered.
// Because this reader design never buffers out-of-order samples, every
// number in that range is, by construction, not yet delivered — the
// reader has only advanced past numbers strictly below ExpectedSN.
func (wp *WriterProxy) GetMissing(firstSN, lastSN rtps.SequenceNumber) Missing {
	base := wp.ExpectedSN
	if lastSN.Before(base) {
		return Missing{Base: base, NumBits: 0}
	}

	numBits := uint32(int64(lastSN) - int64(base) + 1)
	words := (numBits + 31) / 32
	bitmap := make([]uint32, words)
	for i := uint32(0); i < numBits; i++ {
		sn := base + rtps.SequenceNumber(i)
		if !sn.Before(firstSN) && !lastSN.Before(sn) {
			bitmap[i/32] |= 1 << (i % 32)
		}
	}

	return Missing{Base: base, NumBits: numBits, Bitmap: bitmap}
}
