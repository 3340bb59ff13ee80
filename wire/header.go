// Package wire implements RTPS message and submessage framing: the
// 20-byte Header, the 4-byte submessage header, and encode/decode for
// DATA, HEARTBEAT, ACKNACK and INFO_TS.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/mcx/embeddedRTPS/rtps"
)

// Submessage ids from the RTPS 2.x specification.
const (
	SubmsgPad       = 0x01
	SubmsgAckNack   = 0x06
	SubmsgHeartbeat = 0x07
	SubmsgGap       = 0x08
	SubmsgInfoTS    = 0x09
	SubmsgInfoSrc   = 0x0c
	SubmsgInfoDst   = 0x0e
	SubmsgData      = 0x15
)

// Submessage flag bits. Bit 0 declares little-endian body encoding; the
// remaining bits are submessage-specific.
const (
	FlagEndianLittle = 0x01
	FlagInlineQoS    = 0x02
	FlagDataPresent  = 0x04
	FlagKey          = 0x08

	FlagHeartbeatFinal      = 0x02
	FlagHeartbeatLiveliness = 0x04

	FlagAckNackFinal = 0x02

	FlagInfoTSInvalidate = 0x02
)

const (
	protoVersionMajor = 2
	protoVersionMinor = 1
)

// Header is the fixed 20-byte RTPS message header: 4-byte magic, 2-byte
// protocol version, 2-byte vendor id, 12-byte GUID prefix.
type Header struct {
	ProtocolVersionMajor uint8
	ProtocolVersionMinor uint8
	VendorID             rtps.VendorID
	GUIDPrefix           rtps.GUIDPrefix
}

// NewHeader builds a header for messages originating from a participant
// with the given GUID prefix, stamped with this implementation's vendor id
// and protocol version.
func NewHeader(prefix rtps.GUIDPrefix) Header {
	return Header{
		ProtocolVersionMajor: protoVersionMajor,
		ProtocolVersionMinor: protoVersionMinor,
		VendorID:             rtps.OurVendorID,
		GUIDPrefix:           prefix,
	}
}

// Encode appends the 20-byte wire header to dst and returns the result.
func (h Header) Encode(dst []byte) []byte {
	var b [20]byte
	binary.BigEndian.PutUint32(b[0:], rtps.ProtocolMagic)
	b[4] = h.ProtocolVersionMajor
	b[5] = h.ProtocolVersionMinor
	binary.BigEndian.PutUint16(b[6:], uint16(h.VendorID))
	copy(b[8:], h.GUIDPrefix[:])
	return append(dst, b[:]...)
}

// DecodeHeader parses the fixed 20-byte header from the front of b.
func DecodeHeader(b []byte) (Header, []byte, error) {
	if len(b) < 20 {
		return Header{}, nil, fmt.Errorf("wire: short header: need 20 bytes, got %d", len(b))
	}
	magic := binary.BigEndian.Uint32(b[0:])
	if magic != rtps.ProtocolMagic {
		return Header{}, nil, fmt.Errorf("wire: bad magic 0x%08x", magic)
	}
	h := Header{
		ProtocolVersionMajor: b[4],
		ProtocolVersionMinor: b[5],
		VendorID:             rtps.VendorID(binary.BigEndian.Uint16(b[6:])),
	}
	copy(h.GUIDPrefix[:], b[8:20])
	return h, b[20:], nil
}

// SubmessageHeader is the 4-byte header prefixing every submessage: id,
// flags, and the little/big-endian length of the submessage body that
// follows it.
type SubmessageHeader struct {
	ID     uint8
	Flags  uint8
	Length uint16
}

// ByteOrder returns the byte order the flags declare for this
// submessage's body.
func (h SubmessageHeader) ByteOrder() binary.ByteOrder {
	if h.Flags&FlagEndianLittle != 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Encode appends the 4-byte submessage header to dst.
func (h SubmessageHeader) Encode(dst []byte) []byte {
	var b [4]byte
	b[0], b[1] = h.ID, h.Flags
	h.ByteOrder().PutUint16(b[2:], h.Length)
	return append(dst, b[:]...)
}

// RawSubmessage is a parsed but not yet type-decoded submessage: header
// plus its raw body bytes, in the byte order its flags declare.
type RawSubmessage struct {
	Header SubmessageHeader
	Order  binary.ByteOrder
	Body   []byte
}

// DecodeSubmessage parses one submessage header+body from the front of b
// and returns it along with the remaining bytes.
func DecodeSubmessage(b []byte) (RawSubmessage, []byte, error) {
	if len(b) < 4 {
		return RawSubmessage{}, nil, fmt.Errorf("wire: short submessage header: got %d bytes", len(b))
	}
	hdr := SubmessageHeader{ID: b[0], Flags: b[1]}
	hdr.Length = hdr.ByteOrder().Uint16(b[2:])
	if len(b) < 4+int(hdr.Length) {
		return RawSubmessage{}, nil, fmt.Errorf("wire: submessage body truncated: need %d, got %d", hdr.Length, len(b)-4)
	}
	return RawSubmessage{
		Header: hdr,
		Order:  hdr.ByteOrder(),
		Body:   b[4 : 4+hdr.Length],
	}, b[4+hdr.Length:], nil
}
