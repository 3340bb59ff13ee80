package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mcx/embeddedRTPS/rtps"
)

// Data carries one CacheChange payload and its sequence number. The inline
// QoS parameter list and CDR encapsulation scheme are out of this core's
// scope; Data stores the sample bytes opaquely.
type Data struct {
	ReaderID     rtps.EntityID
	WriterID     rtps.EntityID
	SequenceNumber rtps.SequenceNumber
	Payload      []byte
}

// Encode appends the DATA submessage (header + body) to dst in the given
// byte order.
func (d Data) Encode(dst []byte, order binary.ByteOrder) []byte {
	body := make([]byte, 20+len(d.Payload))
	order.PutUint16(body[0:], 0) // extraflags
	order.PutUint16(body[2:], 16) // octetsToInlineQos: fixed header below is 16 bytes after this field
	binary.BigEndian.PutUint32(body[4:], uint32(d.ReaderID))
	binary.BigEndian.PutUint32(body[8:], uint32(d.WriterID))
	order.PutUint32(body[12:], uint32(d.SequenceNumber.High()))
	order.PutUint32(body[16:], d.SequenceNumber.Low())
	copy(body[20:], d.Payload)

	flags := uint8(FlagDataPresent)
	if order == binary.LittleEndian {
		flags |= FlagEndianLittle
	}
	hdr := SubmessageHeader{ID: SubmsgData, Flags: flags, Length: uint16(len(body))}
	dst = hdr.Encode(dst)
	return append(dst, body...)
}

// DecodeData decodes a DATA submessage body (as produced by DecodeSubmessage).
func DecodeData(raw RawSubmessage) (Data, error) {
	b := raw.Body
	if len(b) < 20 {
		return Data{}, fmt.Errorf("wire: short DATA body: got %d bytes", len(b))
	}
	octetsToInlineQos := raw.Order.Uint16(b[2:])
	d := Data{
		ReaderID: rtps.EntityID(binary.BigEndian.Uint32(b[4:])),
		WriterID: rtps.EntityID(binary.BigEndian.Uint32(b[8:])),
		SequenceNumber: rtps.NewSequenceNumber(
			int32(raw.Order.Uint32(b[12:])),
			raw.Order.Uint32(b[16:]),
		),
	}
	payloadStart := 4 + int(octetsToInlineQos)
	if payloadStart > len(b) {
		payloadStart = len(b)
	}
	d.Payload = append([]byte(nil), b[payloadStart:]...)
	return d, nil
}

// Heartbeat announces a writer's current sequence-number window
// {firstSN, lastSN, count}.
type Heartbeat struct {
	ReaderID rtps.EntityID
	WriterID rtps.EntityID
	FirstSN  rtps.SequenceNumber
	LastSN   rtps.SequenceNumber
	Count    rtps.Count
	Final    bool
}

// Encode appends the HEARTBEAT submessage to dst.
func (h Heartbeat) Encode(dst []byte, order binary.ByteOrder) []byte {
	body := make([]byte, 28)
	binary.BigEndian.PutUint32(body[0:], uint32(h.ReaderID))
	binary.BigEndian.PutUint32(body[4:], uint32(h.WriterID))
	order.PutUint32(body[8:], uint32(h.FirstSN.High()))
	order.PutUint32(body[12:], h.FirstSN.Low())
	order.PutUint32(body[16:], uint32(h.LastSN.High()))
	order.PutUint32(body[20:], h.LastSN.Low())
	order.PutUint32(body[24:], uint32(h.Count))

	flags := uint8(0)
	if order == binary.LittleEndian {
		flags |= FlagEndianLittle
	}
	if h.Final {
		flags |= FlagHeartbeatFinal
	}
	sh := SubmessageHeader{ID: SubmsgHeartbeat, Flags: flags, Length: uint16(len(body))}
	dst = sh.Encode(dst)
	return append(dst, body...)
}

// DecodeHeartbeat decodes a HEARTBEAT submessage body.
func DecodeHeartbeat(raw RawSubmessage) (Heartbeat, error) {
	b := raw.Body
	if len(b) < 28 {
		return Heartbeat{}, fmt.Errorf("wire: short HEARTBEAT body: got %d bytes", len(b))
	}
	return Heartbeat{
		ReaderID: rtps.EntityID(binary.BigEndian.Uint32(b[0:])),
		WriterID: rtps.EntityID(binary.BigEndian.Uint32(b[4:])),
		FirstSN:  rtps.NewSequenceNumber(int32(raw.Order.Uint32(b[8:])), raw.Order.Uint32(b[12:])),
		LastSN:   rtps.NewSequenceNumber(int32(raw.Order.Uint32(b[16:])), raw.Order.Uint32(b[20:])),
		Count:    rtps.Count(raw.Order.Uint32(b[24:])),
		Final:    raw.Header.Flags&FlagHeartbeatFinal != 0,
	}, nil
}

// SeqNumSet is the wire sequence-number-set representation:
// {base, numBits, bits: ceil(numBits/32) x uint32}.
type SeqNumSet struct {
	Base    rtps.SequenceNumber
	NumBits uint32
	Bitmap  []uint32
}

func bitmapWords(numBits uint32) int { return int((numBits + 31) / 32) }

// AckNack is a reader's acknowledgement-plus-negative-acknowledgement:
// {readerSNState = {base, bitmap}, count}.
type AckNack struct {
	ReaderID      rtps.EntityID
	WriterID      rtps.EntityID
	ReaderSNState SeqNumSet
	Count         rtps.Count
	Final         bool
}

// Encode appends the ACKNACK submessage to dst.
func (a AckNack) Encode(dst []byte, order binary.ByteOrder) []byte {
	words := bitmapWords(a.ReaderSNState.NumBits)
	body := make([]byte, 20+words*4+4)
	binary.BigEndian.PutUint32(body[0:], uint32(a.ReaderID))
	binary.BigEndian.PutUint32(body[4:], uint32(a.WriterID))
	order.PutUint32(body[8:], uint32(a.ReaderSNState.Base.High()))
	order.PutUint32(body[12:], a.ReaderSNState.Base.Low())
	order.PutUint32(body[16:], a.ReaderSNState.NumBits)
	for i, w := range a.ReaderSNState.Bitmap {
		order.PutUint32(body[20+i*4:], w)
	}
	order.PutUint32(body[20+words*4:], uint32(a.Count))

	flags := uint8(0)
	if order == binary.LittleEndian {
		flags |= FlagEndianLittle
	}
	if a.Final {
		flags |= FlagAckNackFinal
	}
	sh := SubmessageHeader{ID: SubmsgAckNack, Flags: flags, Length: uint16(len(body))}
	dst = sh.Encode(dst)
	return append(dst, body...)
}

// DecodeAckNack decodes an ACKNACK submessage body.
func DecodeAckNack(raw RawSubmessage) (AckNack, error) {
	b := raw.Body
	if len(b) < 20 {
		return AckNack{}, fmt.Errorf("wire: short ACKNACK body: got %d bytes", len(b))
	}
	numBits := raw.Order.Uint32(b[16:])
	words := bitmapWords(numBits)
	if len(b) < 20+words*4+4 {
		return AckNack{}, fmt.Errorf("wire: ACKNACK bitmap truncated")
	}
	bitmap := make([]uint32, words)
	for i := 0; i < words; i++ {
		bitmap[i] = raw.Order.Uint32(b[20+i*4:])
	}
	return AckNack{
		ReaderID: rtps.EntityID(binary.BigEndian.Uint32(b[0:])),
		WriterID: rtps.EntityID(binary.BigEndian.Uint32(b[4:])),
		ReaderSNState: SeqNumSet{
			Base:    rtps.NewSequenceNumber(int32(raw.Order.Uint32(b[8:])), raw.Order.Uint32(b[12:])),
			NumBits: numBits,
			Bitmap:  bitmap,
		},
		Count: rtps.Count(raw.Order.Uint32(b[20+words*4:])),
		Final: raw.Header.Flags&FlagAckNackFinal != 0,
	}, nil
}

// InfoTS is the optional timestamp prefix submessage.
type InfoTS struct {
	Timestamp  time.Time
	Invalidate bool
}

// Encode appends the INFO_TS submessage to dst.
func (ts InfoTS) Encode(dst []byte, order binary.ByteOrder) []byte {
	flags := uint8(0)
	if order == binary.LittleEndian {
		flags |= FlagEndianLittle
	}
	if ts.Invalidate {
		flags |= FlagInfoTSInvalidate
		sh := SubmessageHeader{ID: SubmsgInfoTS, Flags: flags, Length: 0}
		return sh.Encode(dst)
	}
	body := rtps.TimeToBytes(ts.Timestamp, order)
	sh := SubmessageHeader{ID: SubmsgInfoTS, Flags: flags, Length: uint16(len(body))}
	dst = sh.Encode(dst)
	return append(dst, body...)
}

// DecodeInfoTS decodes an INFO_TS submessage body.
func DecodeInfoTS(raw RawSubmessage) (InfoTS, error) {
	if raw.Header.Flags&FlagInfoTSInvalidate != 0 {
		return InfoTS{Invalidate: true, Timestamp: rtps.TimeInvalid}, nil
	}
	t, err := rtps.TimeFromBytes(raw.Order, raw.Body)
	if err != nil {
		return InfoTS{}, err
	}
	return InfoTS{Timestamp: t}, nil
}
