package peerwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLength bounds the length prefix accepted from a peer, guarding
// against a malicious or corrupt peer claiming an enormous payload.
const MaxFrameLength = 1 << 20 // 1 MiB: comfortably above a 16 KiB block plus piece-index overhead.

// ReadFrame reads one length-prefixed peer-wire frame from r and decodes
// it. It blocks until a full frame (or the length prefix for KeepAlive)
// has arrived.
func ReadFrame(r io.Reader, expectedPieceCount int) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return KeepAlive(), nil
	}
	if length > MaxFrameLength {
		return Message{}, protoErrf("frame length %d exceeds maximum %d", length, MaxFrameLength)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, err
	}
	return Decode(payload, expectedPieceCount)
}

// WriteFrame encodes m and writes it to w as a single length-prefixed
// frame.
func WriteFrame(w io.Writer, m Message) error {
	buf, err := Encode(m)
	if err != nil {
		return fmt.Errorf("peerwire: encode: %w", err)
	}
	_, err = w.Write(buf)
	return err
}
