// Package blocks defines the sub-piece request/response units exchanged
// over the peer-wire protocol and handed to the storage collaborator.
package blocks

// Ix addresses a byte range within a single piece, as carried by the
// Request and Cancel peer-wire messages.
type Ix struct {
	Piece  int
	Offset uint32
	Length uint32
}

// Block is a Piece message payload: the bytes at Ix.Piece/Ix.Offset.
type Block struct {
	Piece   int
	Offset  uint32
	Payload []byte
}

// Ix reports the addressing of b, with Length implied by len(Payload).
func (b Block) Ix() Ix {
	return Ix{Piece: b.Piece, Offset: b.Offset, Length: uint32(len(b.Payload))}
}
