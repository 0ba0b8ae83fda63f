// Package ids implements the opaque 20-byte identifiers shared across the
// tracker and peer-wire protocols: InfoHash and PeerId.
package ids

import (
	"encoding/hex"
	"fmt"
)

// InfoHash is the SHA-1 of a torrent's info dictionary. It identifies a
// torrent across trackers and peers.
type InfoHash [20]byte

// InfoHashFromBytes copies b into an InfoHash. b must be exactly 20 bytes.
func InfoHashFromBytes(b []byte) (InfoHash, error) {
	var h InfoHash
	if len(b) != len(h) {
		return h, fmt.Errorf("infohash: expected %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// InfoHashFromHex parses a 40-character hex string into an InfoHash.
func InfoHashFromHex(s string) (InfoHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return InfoHash{}, fmt.Errorf("infohash: %w", err)
	}
	return InfoHashFromBytes(b)
}

func (h InfoHash) String() string { return hex.EncodeToString(h[:]) }

// Bytes returns the raw 20 bytes. The returned slice shares no backing
// array with h.
func (h InfoHash) Bytes() []byte {
	b := make([]byte, len(h))
	copy(b, h[:])
	return b
}

// Less orders InfoHash values by byte comparison, matching the data
// model's equality-and-ordering-by-byte-comparison invariant.
func (h InfoHash) Less(other InfoHash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}
