package rtps

import (
	"testing"
)

func TestUserEntityIDKinds(t *testing.T) {
	cases := []struct {
		eid      EntityID
		isReader bool
		isWriter bool
	}{
		{NewUserReaderID(), true, false},
		{NewUserWriterID(), false, true},
	}

	for i, c := range cases {
		if c.eid.IsReader() != c.isReader {
			t.Errorf("[%d] reader mismatch, got %v want %v", i, c.eid.IsReader(), c.isReader)
		}
		if c.eid.IsWriter() != c.isWriter {
			t.Errorf("[%d] writer mismatch, got %v want %v", i, c.eid.IsWriter(), c.isWriter)
		}
		if c.eid.IsBuiltin() {
			t.Errorf("[%d] builtin mismatch, user id should never be builtin", i)
		}
	}
}

func TestUserEntityIDsAreUnique(t *testing.T) {
	a := NewUserWriterID()
	b := NewUserWriterID()
	if a == b {
		t.Errorf("consecutive user entity ids collide: %s", a)
	}
}

func TestParticipantEntityIDIsBuiltin(t *testing.T) {
	if !EntityIDParticipant.IsBuiltin() {
		t.Errorf("participant entity id should be builtin")
	}
	if EntityIDParticipant.IsWriter() || EntityIDParticipant.IsReader() {
		t.Errorf("participant entity id is neither a writer nor a reader")
	}
}

func TestGUIDRoundtrip(t *testing.T) {
	var prefix GUIDPrefix
	copy(prefix[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	g := NewGUID(prefix, NewUserWriterID())

	decoded, err := GUIDFromBytes(g.Bytes())
	if err != nil {
		t.Fatalf("GUIDFromBytes: %v", err)
	}
	if !decoded.Equal(g) {
		t.Errorf("GUID roundtrip mismatch. got %v, want %v", decoded, g)
	}
}

func TestGUIDFromBytesShort(t *testing.T) {
	if _, err := GUIDFromBytes(make([]byte, 10)); err == nil {
		t.Errorf("expected error on short GUID bytes")
	}
}

func TestGUIDEqualAndPrefix(t *testing.T) {
	var pa, pb GUIDPrefix
	pa[0], pb[0] = 0xaa, 0xbb
	eid := NewUserWriterID()

	a := NewGUID(pa, eid)
	a2 := NewGUID(pa, eid)
	b := NewGUID(pb, eid)

	if !a.Equal(a2) {
		t.Errorf("identical GUIDs should compare equal")
	}
	if a.Equal(b) {
		t.Errorf("GUIDs under different prefixes should not compare equal")
	}
	if !a.SamePrefix(pa) || a.SamePrefix(pb) {
		t.Errorf("SamePrefix mismatch for %v", a)
	}
}

func TestGUIDUnknown(t *testing.T) {
	var zero GUID
	if !zero.Unknown() {
		t.Errorf("zero GUID should be unknown")
	}
	if g := NewGUID(GUIDPrefix{1}, EntityIDUnknown); g.Unknown() {
		t.Errorf("GUID with a real prefix should not be unknown")
	}
}
