// Package swarm implements the per-torrent coordinator of spec.md
// §4.4: a bounded set of peer sessions for one info-hash, the ordered
// two-semaphore admission rule of spec.md §4.4/§5, and the tracker
// announce loop that feeds peer addresses into that admission path.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kasimir-dev/gotorrent-core/internal/bitfield"
	"github.com/kasimir-dev/gotorrent-core/internal/capabilities"
	"github.com/kasimir-dev/gotorrent-core/internal/ids"
	"github.com/kasimir-dev/gotorrent-core/internal/peer"
	"github.com/kasimir-dev/gotorrent-core/internal/peerwire"
	"github.com/kasimir-dev/gotorrent-core/internal/tracker"
	"golang.org/x/sync/semaphore"
)

// PeerHandle identifies a slot in the swarm's connected-peer arena.
// Peers churn constantly; keying the arena by a fresh generational id
// rather than the *peer.Session pointer means a stale handle a caller
// forgot to drop can never alias a newer, unrelated peer occupying the
// same freed slot.
type PeerHandle uuid.UUID

// DefaultSeederSlots and DefaultLeecherSlots are spec.md §4.4's
// default per-swarm vacancy limits.
const (
	DefaultSeederSlots  = 4
	DefaultLeecherSlots = 50
)

// stopAnnounceDeadline bounds how long the Stop announce may block
// shutdown, per spec.md §4.4 ("best-effort, do not block shutdown more
// than a small bounded deadline").
const stopAnnounceDeadline = 3 * time.Second

// ClientPermits is the client-wide semaphore a Session must acquire
// before its own vacancy permit, per spec.md §4.4/§5's fixed
// acquisition order.
type ClientPermits interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// Session is the per-info-hash swarm coordinator.
type Session struct {
	InfoHash   ids.InfoHash
	AnnounceURL string

	client       ClientPermits
	trackerClient tracker.Client
	log          *slog.Logger
	peerId       ids.PeerId
	caps         capabilities.Bits

	vacancy *semaphore.Weighted

	mu            sync.Mutex
	ourBitfield   bitfield.Bitfield
	connectedPeers map[PeerHandle]*peer.Session
	completedOnce bool
	interval      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession builds a Session for infoHash, announcing to
// announceURL, with an empty local bitfield sized to pieceCount.
// slots defaults to
// DefaultLeecherSlots when 0.
func NewSession(infoHash ids.InfoHash, announceURL string, trackerClient tracker.Client, clientPermits ClientPermits, peerId ids.PeerId, caps capabilities.Bits, pieceCount int, slots int64, logger *slog.Logger) *Session {
	if slots == 0 {
		slots = DefaultLeecherSlots
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		InfoHash:       infoHash,
		AnnounceURL:    announceURL,
		client:         clientPermits,
		trackerClient:  trackerClient,
		log:            logger,
		peerId:         peerId,
		caps:           caps,
		vacancy:        semaphore.NewWeighted(slots),
		ourBitfield:    bitfield.New(pieceCount),
		connectedPeers: make(map[PeerHandle]*peer.Session),
		interval:       time.Minute,
	}
}

// PeerCount returns the number of currently connected peer sessions.
func (s *Session) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connectedPeers)
}

// Bitfield returns a copy of the swarm's completion view.
func (s *Session) Bitfield() bitfield.Bitfield {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ourBitfield.Clone()
}

// waitVacancy acquires both the client-wide and swarm-wide permits in
// the order spec.md §4.4 mandates, runs action, and releases both
// permits on every exit path.
func (s *Session) waitVacancy(ctx context.Context, action func(ctx context.Context) error) error {
	if err := s.client.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.client.Release(1)

	if err := s.vacancy.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.vacancy.Release(1)

	return action(ctx)
}

// Start runs the tracker interaction loop of spec.md §4.4 until ctx
// is cancelled: a Started announce, then periodic re-announces
// spaced by the tracker's interval, fanning discovered peer
// addresses into admission-gated sessions via connectFn.
func (s *Session) Start(ctx context.Context, downloaded, uploaded, left uint64, connectFn func(ctx context.Context, addr tracker.PeerAddress) error) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	defer close(s.done)

	info, err := s.announceWithBackoff(ctx, tracker.EventStarted, downloaded, uploaded, left)
	if err != nil {
		s.log.Warn("swarm: started announce gave up", slog.Any("err", err))
	} else {
		s.fanOutPeers(ctx, info.Peers, connectFn)
		if info.Interval > 0 {
			s.interval = time.Duration(info.Interval) * time.Second
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.stop(downloaded, uploaded, left)
		case <-ticker.C:
			info, err := s.announce(tracker.EventRegular, downloaded, uploaded, left)
			if err != nil {
				s.log.Warn("swarm: announce failed", slog.Any("err", err))
				continue
			}
			s.fanOutPeers(ctx, info.Peers, connectFn)
			if info.Interval > 0 && time.Duration(info.Interval)*time.Second != s.interval {
				s.interval = time.Duration(info.Interval) * time.Second
				ticker.Reset(s.interval)
			}
		}
	}
}

func (s *Session) fanOutPeers(ctx context.Context, addrs []tracker.PeerAddress, connectFn func(ctx context.Context, addr tracker.PeerAddress) error) {
	for _, addr := range addrs {
		addr := addr
		go func() {
			err := s.waitVacancy(ctx, func(ctx context.Context) error {
				return connectFn(ctx, addr)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Debug("swarm: peer admission failed", slog.String("peer", addr.String()), slog.Any("err", err))
			}
		}()
	}
}

// announceWithBackoff retries a TrackerError with the exponential
// schedule of spec.md §7 until ctx is cancelled; any error that
// errors.As does not match as a *TrackerError ends the retries at
// once and is returned. It is
// used for the Started announce, since a failure there would
// otherwise leave the swarm with no peers until the next tick.
func (s *Session) announceWithBackoff(ctx context.Context, event tracker.Event, downloaded, uploaded, left uint64) (tracker.AnnounceInfo, error) {
	var info tracker.AnnounceInfo
	policy := backoff.WithContext(tracker.NewRetryPolicy(), ctx)
	err := backoff.Retry(func() error {
		var announceErr error
		info, announceErr = s.announce(event, downloaded, uploaded, left)
		var trackerErr *tracker.TrackerError
		if errors.As(announceErr, &trackerErr) {
			return announceErr // retryable
		}
		if announceErr != nil {
			return backoff.Permanent(announceErr)
		}
		return nil
	}, policy)
	return info, err
}

func (s *Session) announce(event tracker.Event, downloaded, uploaded, left uint64) (tracker.AnnounceInfo, error) {
	q := tracker.AnnounceQuery{
		InfoHash:   s.InfoHash,
		PeerId:     s.peerId,
		Downloaded: downloaded,
		Uploaded:   uploaded,
		Left:       left,
		Event:      event,
	}
	return s.trackerClient.Announce(q)
}

// Stop cancels the running tracker loop (if any) and waits for it to
// finish. Calling Stop without a prior Start is a safe no-op.
func (s *Session) Stop(downloaded, uploaded, left uint64) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

func (s *Session) stop(downloaded, uploaded, left uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopAnnounceDeadline)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.announce(tracker.EventStopped, downloaded, uploaded, left)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("swarm: stopped announce did not complete within deadline")
	}
}

// AddPeer registers a connected peer session, sends our bitfield, and
// returns the PeerHandle identifying its slot in the arena so the
// caller can later RemovePeer without holding onto the *peer.Session
// itself.
func (s *Session) AddPeer(p *peer.Session) (PeerHandle, error) {
	h := PeerHandle(uuid.New())

	s.mu.Lock()
	s.connectedPeers[h] = p
	bf := s.ourBitfield.Clone()
	s.mu.Unlock()

	return h, p.SendInitialBitfield(bf)
}

// RemovePeer drops the peer occupying h from the connected set,
// typically called when its session reaches Closed. Removing an
// already-removed or unknown handle is a no-op.
func (s *Session) RemovePeer(h PeerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connectedPeers, h)
}

// MarkPieceComplete records piece as verified, broadcasts a Have
// message to every connected peer within the same critical section
// (spec.md §5's invariant that peers learn of completion at-or-after
// it happens), and announces Completed exactly once when the
// bitfield reaches haveAll.
func (s *Session) MarkPieceComplete(piece int, downloaded, uploaded uint64) {
	s.mu.Lock()
	s.ourBitfield.Insert(piece)
	for _, p := range s.connectedPeers {
		p.Enqueue(peerwire.Have(piece))
	}
	becameComplete := s.ourBitfield.HaveAll() && !s.completedOnce
	if becameComplete {
		s.completedOnce = true
	}
	s.mu.Unlock()

	if becameComplete {
		if _, err := s.announce(tracker.EventCompleted, downloaded, uploaded, 0); err != nil {
			s.log.Warn("swarm: completed announce failed", slog.Any("err", err))
		}
	}
}
