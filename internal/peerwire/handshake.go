// Package peerwire implements the BitTorrent peer-wire handshake and
// message codecs. It is pure and stateless: no socket I/O lives here,
// only encode/decode of byte slices, so the peer session layer above it
// can stay the only place that touches a net.Conn.
package peerwire

import (
	"errors"
	"fmt"

	"github.com/kasimir-dev/gotorrent-core/internal/ids"
)

// DefaultProtocolName is the fixed protocol identifier string sent by
// every compliant client.
const DefaultProtocolName = "BitTorrent protocol"

// HandshakeLen is the fixed wire length of a Handshake: 1 + 19 + 8 + 20 + 20.
const HandshakeLen = 1 + len(DefaultProtocolName) + 8 + 20 + 20

// Handshake is the first message exchanged on a peer connection, before
// any framed Message.
type Handshake struct {
	ProtocolName   string
	CapabilityBits [8]byte
	InfoHash       ids.InfoHash
	PeerId         ids.PeerId
}

// NewHandshake builds a Handshake using the default protocol name.
func NewHandshake(capabilities [8]byte, infoHash ids.InfoHash, peerId ids.PeerId) Handshake {
	return Handshake{
		ProtocolName:   DefaultProtocolName,
		CapabilityBits: capabilities,
		InfoHash:       infoHash,
		PeerId:         peerId,
	}
}

// ProtocolError reports a malformed handshake or peer-wire message.
// Per spec.md §7 it is fatal to the offending peer session only.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Detail }

func protoErrf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Detail: fmt.Sprintf(format, args...)}
}

// Encode renders h as the fixed 68-byte handshake wire format:
// [u8 len=19]["BitTorrent protocol"][8 bytes capabilities][20 infohash][20 peerid].
func (h Handshake) Encode() ([]byte, error) {
	name := h.ProtocolName
	if name == "" {
		name = DefaultProtocolName
	}
	if len(name) > 255 {
		return nil, protoErrf("protocol name too long: %d bytes", len(name))
	}

	buf := make([]byte, 0, 1+len(name)+8+20+20)
	buf = append(buf, byte(len(name)))
	buf = append(buf, []byte(name)...)
	buf = append(buf, h.CapabilityBits[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerId[:]...)
	return buf, nil
}

// DecodeHandshake parses the fixed 68-byte handshake wire format.
func DecodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) < 1 {
		return Handshake{}, protoErrf("handshake: empty buffer")
	}
	nameLen := int(buf[0])
	if nameLen != len(DefaultProtocolName) {
		return Handshake{}, protoErrf("handshake: unexpected protocol name length %d", nameLen)
	}
	want := 1 + nameLen + 8 + 20 + 20
	if len(buf) != want {
		return Handshake{}, protoErrf("handshake: expected %d bytes, got %d", want, len(buf))
	}

	offset := 1
	name := string(buf[offset : offset+nameLen])
	if name != DefaultProtocolName {
		return Handshake{}, protoErrf("handshake: unexpected protocol name %q", name)
	}
	offset += nameLen

	var h Handshake
	h.ProtocolName = name
	copy(h.CapabilityBits[:], buf[offset:offset+8])
	offset += 8
	copy(h.InfoHash[:], buf[offset:offset+20])
	offset += 20
	copy(h.PeerId[:], buf[offset:offset+20])

	return h, nil
}

// AsProtocolError reports whether err is a *ProtocolError, for callers
// that want to branch on the error kind per spec.md §7's propagation
// rule (peer-level errors never escape the peer task).
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	ok := errors.As(err, &pe)
	return pe, ok
}
