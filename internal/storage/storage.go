// Package storage defines the storage-engine collaborator contract
// spec.md §6 leaves external to the core, plus a minimal in-memory
// reference implementation used by tests and the demo binary.
package storage

import (
	"crypto/sha1"
	"fmt"
	"sync"
)

// Engine is the storage-engine collaborator contract from spec.md §6.
// Implementations must allow concurrent readers; writes to distinct
// pieces may run concurrently but writes to the same piece must be
// serialised by the implementation.
type Engine interface {
	ReadBlock(piece int, offset, length uint32) ([]byte, error)
	// WriteBlock writes payload at offset within piece. verified
	// reports whether the piece's SHA-1 matched its expected hash,
	// computed once the piece is fully received.
	WriteBlock(piece int, offset uint32, payload []byte) (verified bool, err error)
	PieceCount() int
	PieceLength(piece int) int
	TotalLength() int64
}

// Memory is a reference Engine backed by an in-process byte buffer.
// It verifies completed pieces against expectedHashes (SHA-1, one per
// piece) when supplied.
type Memory struct {
	mu             sync.Mutex
	pieceLength    int
	totalLength    int64
	pieceCount     int
	expectedHashes [][20]byte // optional, len 0 disables verification
	data           [][]byte
	received       []uint32 // bytes received per piece, for verification timing
}

// NewMemory allocates a Memory engine for a torrent of totalLength
// bytes split into pieces of pieceLength bytes (the final piece may be
// shorter). expectedHashes may be nil to disable verification.
func NewMemory(totalLength int64, pieceLength int, expectedHashes [][20]byte) *Memory {
	pieceCount := int((totalLength + int64(pieceLength) - 1) / int64(pieceLength))
	m := &Memory{
		pieceLength:    pieceLength,
		totalLength:    totalLength,
		pieceCount:     pieceCount,
		expectedHashes: expectedHashes,
		data:           make([][]byte, pieceCount),
		received:       make([]uint32, pieceCount),
	}
	for i := range m.data {
		m.data[i] = make([]byte, m.PieceLength(i))
	}
	return m
}

func (m *Memory) PieceCount() int       { return m.pieceCount }
func (m *Memory) TotalLength() int64    { return m.totalLength }

func (m *Memory) PieceLength(piece int) int {
	if piece != m.pieceCount-1 {
		return m.pieceLength
	}
	last := int(m.totalLength % int64(m.pieceLength))
	if last == 0 {
		return m.pieceLength
	}
	return last
}

func (m *Memory) ReadBlock(piece int, offset, length uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if piece < 0 || piece >= m.pieceCount {
		return nil, fmt.Errorf("storage: piece %d out of range", piece)
	}
	buf := m.data[piece]
	end := int(offset) + int(length)
	if end > len(buf) {
		return nil, fmt.Errorf("storage: block [%d,%d) out of range for piece %d (len %d)", offset, end, piece, len(buf))
	}
	out := make([]byte, length)
	copy(out, buf[offset:end])
	return out, nil
}

func (m *Memory) WriteBlock(piece int, offset uint32, payload []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if piece < 0 || piece >= m.pieceCount {
		return false, fmt.Errorf("storage: piece %d out of range", piece)
	}
	buf := m.data[piece]
	end := int(offset) + len(payload)
	if end > len(buf) {
		return false, fmt.Errorf("storage: block [%d,%d) out of range for piece %d (len %d)", offset, end, piece, len(buf))
	}
	copy(buf[offset:end], payload)
	m.received[piece] += uint32(len(payload))

	if int(m.received[piece]) < len(buf) {
		return false, nil
	}
	if len(m.expectedHashes) == 0 {
		return true, nil
	}
	got := sha1.Sum(buf)
	return got == m.expectedHashes[piece], nil
}
