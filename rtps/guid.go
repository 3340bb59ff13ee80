// Package rtps holds the RTPS wire-level data model shared by every other
// package in this module: GUIDs, locators, sequence numbers, counts, change
// kinds and the handful of protocol constants that have no natural home
// elsewhere.
package rtps

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

const (
	// GUIDPrefixLen is the size in bytes of the participant-unique portion
	// of a GUID.
	GUIDPrefixLen = 12

	// ProtocolMagic is the 4-byte "RTPS" ASCII marker at the start of every
	// RTPS message header.
	ProtocolMagic = 0x52545053
)

// Entity ID constants from the RTPS spec, retained from the builtin
// discovery entity set even though discovery itself is out of scope here —
// the receive path still needs to recognise a builtin writer/reader id well
// enough to ignore it cleanly.
const (
	EntityIDUnknown     = EntityID(0x0)
	EntityIDParticipant = EntityID(0x1c1)

	entityIDSourceMask       = 0xc0
	entityIDSourceBuiltin    = 0xc0
	entityIDKindMask         = 0x3f
	entityIDKindWriterKey    = 0x02
	entityIDKindWriterNoKey  = 0x03
	entityIDKindReaderNoKey  = 0x04
	entityIDKindReaderKey    = 0x07
	entityIDUserAllocStep    = 0x100
)

var nextUserEntityID int32

// EntityID identifies one endpoint within a participant. It is always
// carried big-endian on the wire regardless of a submessage's declared
// endianness.
type EntityID uint32

// NewUserEntityID allocates the next unused user entity id of the given
// kind (one of the entityIDKind* constants), atomically, so concurrent
// endpoint creation across producer threads never collides.
func NewUserEntityID(kind uint8) EntityID {
	return EntityID(atomic.AddInt32(&nextUserEntityID, entityIDUserAllocStep) | int32(kind))
}

// NewUserWriterID allocates a fresh user writer entity id.
func NewUserWriterID() EntityID { return NewUserEntityID(entityIDKindWriterNoKey) }

// NewUserReaderID allocates a fresh user reader entity id.
func NewUserReaderID() EntityID { return NewUserEntityID(entityIDKindReaderNoKey) }

// IsWriter reports whether eid names a writer endpoint.
func (eid EntityID) IsWriter() bool {
	switch eid & entityIDKindMask {
	case entityIDKindWriterKey, entityIDKindWriterNoKey:
		return true
	}
	return false
}

// IsReader reports whether eid names a reader endpoint.
func (eid EntityID) IsReader() bool {
	switch eid & entityIDKindMask {
	case entityIDKindReaderKey, entityIDKindReaderNoKey:
		return true
	}
	return false
}

// IsBuiltin reports whether eid belongs to the builtin discovery entity set.
func (eid EntityID) IsBuiltin() bool {
	return (eid & entityIDSourceMask) == entityIDSourceBuiltin
}

func (eid EntityID) String() string {
	return fmt.Sprintf("0x%08x", uint32(eid))
}

// GUIDPrefix is the 12-byte participant-unique portion of a GUID.
type GUIDPrefix [GUIDPrefixLen]byte

// String renders the prefix the way RTPS sniffers conventionally do:
// four dash-separated hex groups.
func (gp GUIDPrefix) String() string {
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x%02x%02x-%02x%02x%02x%02x",
		gp[0], gp[1], gp[2], gp[3], gp[4], gp[5], gp[6], gp[7], gp[8], gp[9], gp[10], gp[11])
}

// GUID is a participant prefix plus an entity id: the globally unique
// identifier of one RTPS endpoint.
type GUID struct {
	Prefix GUIDPrefix
	EID    EntityID
}

// NewGUID builds a GUID from its two parts.
func NewGUID(prefix GUIDPrefix, eid EntityID) GUID {
	return GUID{Prefix: prefix, EID: eid}
}

// GUIDFromBytes decodes a 16-byte wire GUID (12-byte prefix, big-endian
// 4-byte entity id).
func GUIDFromBytes(b []byte) (GUID, error) {
	if len(b) < GUIDPrefixLen+4 {
		return GUID{}, fmt.Errorf("rtps: short GUID: need %d bytes, got %d", GUIDPrefixLen+4, len(b))
	}
	var g GUID
	copy(g.Prefix[:], b[:GUIDPrefixLen])
	g.EID = EntityID(binary.BigEndian.Uint32(b[GUIDPrefixLen:]))
	return g, nil
}

// Bytes encodes the GUID in its 16-byte wire form.
func (g GUID) Bytes() []byte {
	b := make([]byte, GUIDPrefixLen+4)
	copy(b, g.Prefix[:])
	binary.BigEndian.PutUint32(b[GUIDPrefixLen:], uint32(g.EID))
	return b
}

// Equal reports whether two GUIDs name the same endpoint.
func (g GUID) Equal(other GUID) bool {
	return g.EID == other.EID && bytes.Equal(g.Prefix[:], other.Prefix[:])
}

// SamePrefix reports whether g belongs to the participant named by prefix —
// used to implement bulk removal "by participant prefix" on matching.
func (g GUID) SamePrefix(prefix GUIDPrefix) bool {
	return bytes.Equal(g.Prefix[:], prefix[:])
}

// Unknown reports whether g is the sentinel unknown GUID.
func (g GUID) Unknown() bool {
	return g.EID == EntityIDUnknown && g.Prefix == GUIDPrefix{}
}

func (g GUID) String() string {
	return fmt.Sprintf("%s:%s", g.Prefix.String(), g.EID.String())
}

// VendorID identifies the implementation that produced a message.
type VendorID uint16

// OurVendorID is this implementation's assigned (unregistered/private) RTPS
// vendor id, carried in every Header this module writes.
const OurVendorID VendorID = 0x1234
