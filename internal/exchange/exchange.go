// Package exchange implements the piece/block exchange collaborator
// spec.md §4.3 delegates Request/Cancel/Piece messages to: rarest-first
// piece selection over connected peers' bitfields, block-sized request
// fan-out, and storage-backed serving of incoming requests.
package exchange

import (
	"log/slog"
	"sync"

	"github.com/kasimir-dev/gotorrent-core/internal/bitfield"
	"github.com/kasimir-dev/gotorrent-core/internal/blocks"
	"github.com/kasimir-dev/gotorrent-core/internal/dht"
	"github.com/kasimir-dev/gotorrent-core/internal/peer"
	"github.com/kasimir-dev/gotorrent-core/internal/peerwire"
	"github.com/kasimir-dev/gotorrent-core/internal/storage"
)

// BlockSize is the sub-piece request granularity every mainline
// BitTorrent client uses (16 KiB).
const BlockSize = 16 * 1024

// Swarm is the subset of swarm.Session the exchange needs: a
// completion view to avoid re-requesting what's already held, and the
// piece-complete notification that drives the Completed announce.
type Swarm interface {
	Bitfield() bitfield.Bitfield
	MarkPieceComplete(piece int, downloaded, uploaded uint64)
}

// Exchange is a peer.Exchange collaborator backed by a storage.Engine.
// One Exchange instance is shared by every peer session in a swarm.
type Exchange struct {
	storage storage.Engine
	swarm   Swarm
	dht     dht.Collaborator
	log     *slog.Logger

	mu         sync.Mutex
	inFlight   map[blocks.Ix]struct{}
	downloaded uint64
	uploaded   uint64
	onProgress func(n int)
}

// New builds an Exchange over eng, reporting piece completion to sw.
// dhtCollab may be nil; Port messages are then dropped.
func New(eng storage.Engine, sw Swarm, dhtCollab dht.Collaborator, logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exchange{
		storage:  eng,
		swarm:    sw,
		dht:      dhtCollab,
		log:      logger,
		inFlight: make(map[blocks.Ix]struct{}),
	}
}

// OnProgress registers fn to be called with the byte count of every
// block OnPiece receives, before the block is written to storage and
// whether or not it completes a piece.
// Used by callers (e.g. the demo binary) to drive a progress bar.
func (e *Exchange) OnProgress(fn func(n int)) {
	e.mu.Lock()
	e.onProgress = fn
	e.mu.Unlock()
}

// OnRequest serves an incoming block request by reading it from
// storage and enqueueing a Piece message, per spec.md §4.3's
// "Request/Cancel/Piece delegated to exchange collaborator".
func (e *Exchange) OnRequest(p *peer.Session, ix blocks.Ix) {
	payload, err := e.storage.ReadBlock(ix.Piece, ix.Offset, ix.Length)
	if err != nil {
		e.log.Debug("exchange: cannot serve request", slog.Any("ix", ix), slog.Any("err", err))
		return
	}
	e.mu.Lock()
	e.uploaded += uint64(len(payload))
	e.mu.Unlock()
	p.Enqueue(peerwire.Piece(blocks.Block{Piece: ix.Piece, Offset: ix.Offset, Payload: payload}))
}

// OnCancel drops a pending request for ix. Since OnRequest above
// answers synchronously there is nothing in flight to cancel; this
// exists to satisfy peer.Exchange and to log the signal.
func (e *Exchange) OnCancel(p *peer.Session, ix blocks.Ix) {
	e.log.Debug("exchange: cancel received", slog.Any("ix", ix))
}

// OnPiece writes a received block to storage. Whenever a write leaves
// the owning piece fully received and its SHA-1 verifies, it notifies
// the swarm via MarkPieceComplete, per spec.md §4.4 ("On piece completion reaching
// 100%: send Completed announce once" is the swarm's job; this only
// supplies the per-piece trigger).
func (e *Exchange) OnPiece(p *peer.Session, b blocks.Block) {
	ix := b.Ix()
	e.mu.Lock()
	delete(e.inFlight, ix)
	e.downloaded += uint64(len(b.Payload))
	onProgress := e.onProgress
	e.mu.Unlock()
	if onProgress != nil {
		onProgress(len(b.Payload))
	}

	verified, err := e.storage.WriteBlock(b.Piece, b.Offset, b.Payload)
	if err != nil {
		e.log.Warn("exchange: failed to write block", slog.Any("ix", ix), slog.Any("err", err))
		return
	}
	if !verified {
		return
	}

	e.mu.Lock()
	downloaded, uploaded := e.downloaded, e.uploaded
	e.mu.Unlock()
	e.swarm.MarkPieceComplete(b.Piece, downloaded, uploaded)
}

// OnPort handles the DHT port-advertisement extension message. When a
// DHT collaborator is configured it logs the advertised port at Debug
// level; the port is not passed to the collaborator, whose interface
// has no method that accepts it.
func (e *Exchange) OnPort(p *peer.Session, port uint16) {
	if e.dht == nil {
		return
	}
	e.log.Debug("exchange: peer advertised DHT port", slog.String("peer", p.Address.String()), slog.Int("port", int(port)))
}

// RequestNext picks the lowest-indexed piece present in p's bitfield
// but absent from our own completion view and enqueues Request
// messages for every block in it that isn't already in flight. It is
// a no-op if p has nothing we lack. Swarm-wide rarest-first ranking
// (spec.md §4.1's rarest(bfs) across every connected peer) is the
// caller's responsibility: RequestNext only handles the per-peer
// fan-out once a piece has been chosen.
func (e *Exchange) RequestNext(p *peer.Session, pieceLength int, totalLength int64) {
	ours := e.swarm.Bitfield()
	theirs := p.TheirBitfield()
	wanted := theirs.Difference(ours.AdjustSize(theirs.TotalCount()))

	piece, ok := wanted.FindMin()
	if !ok {
		return
	}

	length := pieceLengthFor(piece, pieceLength, totalLength)
	for offset := uint32(0); int(offset) < length; offset += BlockSize {
		blockLen := BlockSize
		if remaining := length - int(offset); remaining < blockLen {
			blockLen = remaining
		}
		ix := blocks.Ix{Piece: piece, Offset: offset, Length: uint32(blockLen)}

		e.mu.Lock()
		if _, already := e.inFlight[ix]; already {
			e.mu.Unlock()
			continue
		}
		e.inFlight[ix] = struct{}{}
		e.mu.Unlock()

		p.Enqueue(peerwire.Request(ix))
	}
}

func pieceLengthFor(piece, pieceLength int, totalLength int64) int {
	offset := int64(piece) * int64(pieceLength)
	remaining := totalLength - offset
	if remaining < int64(pieceLength) {
		return int(remaining)
	}
	return pieceLength
}
