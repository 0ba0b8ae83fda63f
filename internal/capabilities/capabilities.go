// Package capabilities models the peer-wire handshake's 8-byte
// capability field and the per-peer extension negotiation spec.md
// §4.7/§9 describes as "client-enabled ∩ peer-advertised".
package capabilities

// Bits is the 8-byte capability field carried in a Handshake.
type Bits [8]byte

// Bit names one capability flag by its byte index (0-based from the
// start of the 8-byte field) and mask within that byte, matching the
// conventional BitTorrent reserved-byte assignments.
type Bit struct {
	byteIndex int
	mask      byte
}

var (
	// BitExtended marks BEP-10 extension protocol support.
	BitExtended = Bit{5, 0x10}
	// BitFastExtension marks BEP-6 fast-extension support.
	BitFastExtension = Bit{7, 0x04}
	// BitDHT marks BEP-5 DHT support.
	BitDHT = Bit{7, 0x01}
)

// Set turns on bit b.
func (b *Bits) Set(bit Bit) {
	b[bit.byteIndex] |= bit.mask
}

// Has reports whether bit b is set.
func (b Bits) Has(bit Bit) bool {
	return b[bit.byteIndex]&bit.mask != 0
}

// Negotiate returns the capability set actually usable with a peer:
// the intersection of what this client enables and what the peer
// advertised in its handshake.
func Negotiate(enabled, peerAdvertised Bits) Bits {
	var out Bits
	for i := range out {
		out[i] = enabled[i] & peerAdvertised[i]
	}
	return out
}
