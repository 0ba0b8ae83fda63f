package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PeerId is a 20-byte opaque identifier of a client instance, generated
// once per ClientSession and kept for its lifetime.
type PeerId [20]byte

// clientTag is the two-letter client code used in the Azureus-style
// peer-id prefix "-XXYYYY-".
const clientTag = "GC" // (G)otorrent(C)ore

// clientVersion is the four-digit version code following clientTag.
const clientVersion = "0001"

// NewPeerId generates a fresh Azureus-style peer id: "-XXYYYY-" followed
// by 12 random bytes.
func NewPeerId() (PeerId, error) {
	var id PeerId
	prefix := fmt.Sprintf("-%s%s-", clientTag, clientVersion)
	if len(prefix) != 8 {
		return id, fmt.Errorf("ids: peer-id prefix must be 8 bytes, got %d", len(prefix))
	}
	copy(id[:8], prefix)
	if _, err := rand.Read(id[8:]); err != nil {
		return id, fmt.Errorf("ids: generating random peer-id suffix: %w", err)
	}
	return id, nil
}

// PeerIdFromBytes copies b into a PeerId. b must be exactly 20 bytes.
func PeerIdFromBytes(b []byte) (PeerId, error) {
	var id PeerId
	if len(b) != len(id) {
		return id, fmt.Errorf("peerid: expected %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (p PeerId) String() string { return hex.EncodeToString(p[:]) }

// Bytes returns the raw 20 bytes. The returned slice shares no backing
// array with p.
func (p PeerId) Bytes() []byte {
	b := make([]byte, len(p))
	copy(b, p[:])
	return b
}
