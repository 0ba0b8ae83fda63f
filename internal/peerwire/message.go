package peerwire

import (
	"encoding/binary"
	"math"

	"github.com/kasimir-dev/gotorrent-core/internal/bitfield"
	"github.com/kasimir-dev/gotorrent-core/internal/blocks"
)

// MessageId tags the fixed set of peer-wire message variants. KeepAlive
// has no id byte on the wire (zero-length message).
type MessageId byte

const (
	idChoke MessageId = iota
	idUnchoke
	idInterested
	idNotInterested
	idHave
	idBitfield
	idRequest
	idPiece
	idCancel
	idPort
)

// Kind identifies which variant a decoded Message holds.
type Kind int

const (
	KindKeepAlive Kind = iota
	KindChoke
	KindUnchoke
	KindInterested
	KindNotInterested
	KindHave
	KindBitfield
	KindRequest
	KindPiece
	KindCancel
	KindPort
)

// Message is a tagged variant over the eleven peer-wire message shapes
// (KeepAlive plus the ten id-tagged messages).
// Only the field(s) relevant to Kind are populated.
type Message struct {
	Kind     Kind
	Have     int             // KindHave
	Bitfield bitfield.Bitfield // KindBitfield
	Request  blocks.Ix       // KindRequest, KindCancel
	Piece    blocks.Block    // KindPiece
	Port     uint16          // KindPort
}

func KeepAlive() Message             { return Message{Kind: KindKeepAlive} }
func Choke() Message                 { return Message{Kind: KindChoke} }
func Unchoke() Message               { return Message{Kind: KindUnchoke} }
func Interested() Message            { return Message{Kind: KindInterested} }
func NotInterested() Message         { return Message{Kind: KindNotInterested} }
func Have(index int) Message         { return Message{Kind: KindHave, Have: index} }
func BitfieldMsg(bf bitfield.Bitfield) Message {
	return Message{Kind: KindBitfield, Bitfield: bf}
}
func Request(ix blocks.Ix) Message { return Message{Kind: KindRequest, Request: ix} }
func Piece(b blocks.Block) Message { return Message{Kind: KindPiece, Piece: b} }
func Cancel(ix blocks.Ix) Message  { return Message{Kind: KindCancel, Request: ix} }
func Port(port uint16) Message     { return Message{Kind: KindPort, Port: port} }

// Encode frames m as [length:u32-be][payload], per spec.md §4.2.
// A KindBitfield payload is m.Bitfield.Bytes(), sized by the
// bitfield's own TotalCount.
func Encode(m Message) ([]byte, error) {
	var payload []byte

	switch m.Kind {
	case KindKeepAlive:
		// zero-length message, no id byte
	case KindChoke:
		payload = []byte{byte(idChoke)}
	case KindUnchoke:
		payload = []byte{byte(idUnchoke)}
	case KindInterested:
		payload = []byte{byte(idInterested)}
	case KindNotInterested:
		payload = []byte{byte(idNotInterested)}
	case KindHave:
		payload = make([]byte, 5)
		payload[0] = byte(idHave)
		binary.BigEndian.PutUint32(payload[1:], uint32(m.Have))
	case KindBitfield:
		raw := m.Bitfield.Bytes()
		payload = make([]byte, 1+len(raw))
		payload[0] = byte(idBitfield)
		copy(payload[1:], raw)
	case KindRequest:
		payload = encodeBlockIx(idRequest, m.Request)
	case KindPiece:
		payload = make([]byte, 9+len(m.Piece.Payload))
		payload[0] = byte(idPiece)
		binary.BigEndian.PutUint32(payload[1:], uint32(m.Piece.Piece))
		binary.BigEndian.PutUint32(payload[5:], m.Piece.Offset)
		copy(payload[9:], m.Piece.Payload)
	case KindCancel:
		payload = encodeBlockIx(idCancel, m.Request)
	case KindPort:
		payload = make([]byte, 3)
		payload[0] = byte(idPort)
		binary.BigEndian.PutUint16(payload[1:], m.Port)
	default:
		return nil, protoErrf("encode: unknown message kind %d", m.Kind)
	}

	if uint64(len(payload)) > math.MaxUint32 {
		return nil, protoErrf("encode: payload too large: %d bytes", len(payload))
	}

	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

func encodeBlockIx(id MessageId, ix blocks.Ix) []byte {
	buf := make([]byte, 13)
	buf[0] = byte(id)
	binary.BigEndian.PutUint32(buf[1:], uint32(ix.Piece))
	binary.BigEndian.PutUint32(buf[5:], ix.Offset)
	binary.BigEndian.PutUint32(buf[9:], ix.Length)
	return buf
}

// Decode parses a single framed peer-wire message from payload (the
// bytes following the length prefix; the caller owns framing, see
// ReadFrame). expectedPieceCount sizes a decoded Bitfield via
// bitfield.FromBytes + AdjustSize per spec.md §4.2: peers may pad to a
// byte boundary while our internal piece count is exact.
func Decode(payload []byte, expectedPieceCount int) (Message, error) {
	if len(payload) == 0 {
		return KeepAlive(), nil
	}

	id := MessageId(payload[0])
	body := payload[1:]

	switch id {
	case idChoke:
		return Choke(), nil
	case idUnchoke:
		return Unchoke(), nil
	case idInterested:
		return Interested(), nil
	case idNotInterested:
		return NotInterested(), nil
	case idHave:
		if len(body) != 4 {
			return Message{}, protoErrf("have: expected 4-byte payload, got %d", len(body))
		}
		return Have(int(binary.BigEndian.Uint32(body))), nil
	case idBitfield:
		raw := bitfield.FromBytes(expectedPieceCount, body)
		return BitfieldMsg(raw.AdjustSize(expectedPieceCount)), nil
	case idRequest:
		ix, err := decodeBlockIx(body)
		if err != nil {
			return Message{}, err
		}
		return Request(ix), nil
	case idPiece:
		if len(body) < 8 {
			return Message{}, protoErrf("piece: expected at least 8-byte payload, got %d", len(body))
		}
		b := blocks.Block{
			Piece:   int(binary.BigEndian.Uint32(body[0:4])),
			Offset:  binary.BigEndian.Uint32(body[4:8]),
			Payload: append([]byte(nil), body[8:]...),
		}
		return Piece(b), nil
	case idCancel:
		ix, err := decodeBlockIx(body)
		if err != nil {
			return Message{}, err
		}
		return Cancel(ix), nil
	case idPort:
		if len(body) != 2 {
			return Message{}, protoErrf("port: expected 2-byte payload, got %d", len(body))
		}
		return Port(binary.BigEndian.Uint16(body)), nil
	default:
		return Message{}, protoErrf("unknown message id: %d", id)
	}
}

func decodeBlockIx(body []byte) (blocks.Ix, error) {
	if len(body) != 12 {
		return blocks.Ix{}, protoErrf("expected 12-byte block-index payload, got %d", len(body))
	}
	return blocks.Ix{
		Piece:  int(binary.BigEndian.Uint32(body[0:4])),
		Offset: binary.BigEndian.Uint32(body[4:8]),
		Length: binary.BigEndian.Uint32(body[8:12]),
	}, nil
}
