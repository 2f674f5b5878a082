package document

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is the 12-byte opaque identifier of spec.md §3: 4 bytes of Unix
// timestamp, 5 bytes of process-unique random data, 3 bytes of an
// incrementing counter. Rendered on the wire as a 24-hex-character string.
type ObjectID [12]byte

var objectIDCounter uint32
var objectIDRandom = randomProcessID()

func randomProcessID() [5]byte {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return b
}

// NewObjectID generates a new, effectively-unique ObjectID.
func NewObjectID() ObjectID {
	var id ObjectID
	ts := uint32(time.Now().Unix())
	id[0] = byte(ts >> 24)
	id[1] = byte(ts >> 16)
	id[2] = byte(ts >> 8)
	id[3] = byte(ts)
	copy(id[4:9], objectIDRandom[:])
	c := atomic.AddUint32(&objectIDCounter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// Hex renders the ObjectID as its canonical 24 lowercase hex characters.
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectID) String() string { return id.Hex() }

// IsObjectIDHex reports whether s is a syntactically valid 24-hex-character
// ObjectID string, the test the ClickHouse mapper and the embedded backend
// both use to decide whether a bare string should be re-lifted to an
// ObjectID (spec.md §3, §4.9).
func IsObjectIDHex(s string) bool {
	if len(s) != 24 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// ParseObjectIDHex parses a validated 24-hex-character string into an
// ObjectID. Callers should check IsObjectIDHex first.
func ParseObjectIDHex(s string) (ObjectID, error) {
	if !IsObjectIDHex(s) {
		return ObjectID{}, fmt.Errorf("document: %q is not a valid ObjectID", s)
	}
	var id ObjectID
	b, err := hex.DecodeString(s)
	if err != nil {
		return ObjectID{}, err
	}
	copy(id[:], b)
	return id, nil
}

// ID is the opaque, equality-comparable document identifier of spec.md §3. It
// holds either an ObjectID (IsObjectID true) or a caller-supplied string.
type ID struct {
	IsObjectID bool
	ObjectID   ObjectID
	Str        string
}

// NewObjectIDValue wraps a freshly generated ObjectID as an ID.
func NewObjectIDValue() ID {
	return ID{IsObjectID: true, ObjectID: NewObjectID()}
}

// IDFromString builds an ID from a caller-supplied string, recognizing a
// 24-hex string as an ObjectID so it round-trips losslessly (spec.md §3).
func IDFromString(s string) ID {
	if IsObjectIDHex(s) {
		oid, err := ParseObjectIDHex(s)
		if err == nil {
			return ID{IsObjectID: true, ObjectID: oid}
		}
	}
	return ID{Str: s}
}

// String renders the ID in its canonical wire form.
func (id ID) String() string {
	if id.IsObjectID {
		return id.ObjectID.Hex()
	}
	return id.Str
}

// Value converts the ID to a document Value (ObjectID values render through
// the String kind carrying the hex form; callers needing the BSON ObjectID
// wire type convert at the wire boundary, see internal/wire).
func (id ID) Value() Value {
	return String(id.String())
}

// Equal reports whether two IDs denote the same document identity.
func (id ID) Equal(other ID) bool {
	return id.String() == other.String()
}
