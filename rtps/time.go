package rtps

import (
	"encoding/binary"
	"fmt"
	"time"
)

// RTPS timestamps use the IETF NTP representation (RFC 1305): seconds since
// the Unix epoch plus a fractional-second field scaled to 2^32, carried as
// {seconds: uint32, fraction: uint32}.
const nanosPerSecond = 1e9

// TimeInvalid marks an absent/invalidated INFO_TS.
var TimeInvalid = time.Unix(-1, 0xffffffff)

// TimeFromBytes decodes an 8-byte NTP-format timestamp.
func TimeFromBytes(order binary.ByteOrder, b []byte) (time.Time, error) {
	if len(b) < 8 {
		return TimeInvalid, fmt.Errorf("rtps: short timestamp: need 8 bytes, got %d", len(b))
	}
	sec := int64(order.Uint32(b[0:]))
	frac := int64(order.Uint32(b[4:]))
	return time.Unix(sec, (frac*nanosPerSecond)>>32).UTC(), nil
}

// TimeToBytes encodes t in the 8-byte NTP wire format.
func TimeToBytes(t time.Time, order binary.ByteOrder) []byte {
	sec := uint32(t.Unix())
	frac := uint32((nanosPerSecond - 1 + (int64(t.Nanosecond()) << 32)) / nanosPerSecond)

	b := make([]byte, 8)
	order.PutUint32(b[0:], sec)
	order.PutUint32(b[4:], frac)
	return b
}
