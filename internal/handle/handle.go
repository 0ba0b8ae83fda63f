// Package handle implements the user-facing control surface of
// spec.md §4.8: per-torrent open/start/pause/stop/close, owned by the
// client's handle map keyed by InfoHash.
package handle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kasimir-dev/gotorrent-core/internal/decoder"
	"github.com/kasimir-dev/gotorrent-core/internal/dht"
	"github.com/kasimir-dev/gotorrent-core/internal/events"
	"github.com/kasimir-dev/gotorrent-core/internal/ids"
	"github.com/kasimir-dev/gotorrent-core/internal/session"
	"github.com/kasimir-dev/gotorrent-core/internal/swarm"
	"github.com/kasimir-dev/gotorrent-core/internal/tracker"
)

// Handle is a single torrent's control surface.
type Handle struct {
	InfoHash ids.InfoHash
	Private  bool

	swarm   *swarm.Session
	dht     dht.Collaborator
	events  *events.Broadcaster
	log     *slog.Logger

	mu     sync.Mutex
	status events.Status
	cancel context.CancelFunc
}

// Manager owns every Handle for a ClientSession, keyed by InfoHash,
// per spec.md §3's ownership rule ("Handles are owned by the Client's
// handle map keyed by InfoHash (unique)").
type Manager struct {
	client     *session.ClientSession
	trackerNew func(announceURL string, logger *slog.Logger) (tracker.Client, error)
	dhtCollab  dht.Collaborator
	broadcaster *events.Broadcaster
	log        *slog.Logger

	mu      sync.Mutex
	handles map[ids.InfoHash]*Handle
}

// NewManager builds a Manager whose trackers are built with
// tracker.NewClient. Tests in this package replace the unexported
// trackerNew field with a fake.
func NewManager(client *session.ClientSession, dhtCollab dht.Collaborator, broadcaster *events.Broadcaster, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		client:      client,
		trackerNew:  tracker.NewClient,
		dhtCollab:   dhtCollab,
		broadcaster: broadcaster,
		log:         logger,
		handles:     make(map[ids.InfoHash]*Handle),
	}
}

// OpenTorrent allocates a handle idempotently by info-hash, per
// spec.md §4.8: an existing handle is returned unchanged with no
// event; otherwise tracker + swarm state is created, status is set
// Stopped, and a TorrentAdded event is published.
func (m *Manager) OpenTorrent(meta decoder.Metainfo) (*Handle, error) {
	m.mu.Lock()
	if existing, ok := m.handles[meta.InfoHash]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	trackerClient, err := m.trackerNew(meta.Announce, m.log)
	if err != nil {
		return nil, err
	}

	pieceCount := len(meta.Info.PieceHashes)
	sw := swarm.NewSession(meta.InfoHash, meta.Announce, trackerClient, m.client, m.client.PeerId, m.client.EnabledCapabilities(), pieceCount, 0, m.log)
	m.client.AddSwarm(sw)

	h := &Handle{
		InfoHash: meta.InfoHash,
		Private:  meta.Info.Private,
		swarm:    sw,
		dht:      m.dhtCollab,
		events:   m.broadcaster,
		log:      m.log,
		status:   events.Stopped,
	}

	m.mu.Lock()
	if existing, ok := m.handles[meta.InfoHash]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.handles[meta.InfoHash] = h
	m.mu.Unlock()

	m.publish(events.Event{Kind: events.TorrentAdded, InfoHash: meta.InfoHash})
	return h, nil
}

// OpenMagnet is OpenTorrent with only an info-hash known so far; the
// resulting handle is never private, per spec.md §4.8.
func (m *Manager) OpenMagnet(infoHash ids.InfoHash, announceURL string) (*Handle, error) {
	m.mu.Lock()
	if existing, ok := m.handles[infoHash]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	trackerClient, err := m.trackerNew(announceURL, m.log)
	if err != nil {
		return nil, err
	}

	sw := swarm.NewSession(infoHash, announceURL, trackerClient, m.client, m.client.PeerId, m.client.EnabledCapabilities(), 0, 0, m.log)
	m.client.AddSwarm(sw)

	h := &Handle{
		InfoHash: infoHash,
		Private:  false,
		swarm:    sw,
		dht:      m.dhtCollab,
		events:   m.broadcaster,
		log:      m.log,
		status:   events.Stopped,
	}

	m.mu.Lock()
	if existing, ok := m.handles[infoHash]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.handles[infoHash] = h
	m.mu.Unlock()

	m.publish(events.Event{Kind: events.TorrentAdded, InfoHash: infoHash})
	return h, nil
}

// Get returns the handle registered for infoHash, if any.
func (m *Manager) Get(infoHash ids.InfoHash) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[infoHash]
	return h, ok
}

// CloseHandle stops h and removes it from the manager, per spec.md
// §4.8.
func (m *Manager) CloseHandle(h *Handle, downloaded, uploaded, left uint64) error {
	err := h.Stop(downloaded, uploaded, left)

	m.mu.Lock()
	m.client.RemoveSwarm(h.InfoHash)
	delete(m.handles, h.InfoHash)
	m.mu.Unlock()

	return err
}

func (m *Manager) publish(ev events.Event) {
	if m.broadcaster != nil {
		m.broadcaster.Publish(ev)
	}
}

// Status returns the handle's current lifecycle status.
func (h *Handle) Status() events.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Start transitions Stopped -> Running: registers with the DHT (if
// not private), notifies trackers with Started, begins pumping peers
// from the tracker into the exchange via connectFn, and publishes
// StatusChanged(Running) unconditionally on that transition. Running
// -> Running is a true no-op — no announce, no DHT call, no event —
// per spec.md §8's concrete scenario ("calling start twice in
// succession emits exactly one Started announce and exactly one
// StatusChanged(Running) event").
func (h *Handle) Start(downloaded, uploaded, left uint64, connectFn func(ctx context.Context, addr tracker.PeerAddress) error) {
	h.mu.Lock()
	if h.status == events.Running {
		h.mu.Unlock()
		return
	}
	h.status = events.Running
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		if err := h.swarm.Start(ctx, downloaded, uploaded, left, connectFn); err != nil {
			h.log.Warn("handle: swarm loop exited", slog.Any("err", err))
		}
	}()
	if !h.Private && h.dht != nil {
		h.dht.Insert(h.InfoHash, nil)
	}

	h.publish(events.Event{Kind: events.StatusChanged, InfoHash: h.InfoHash, Status: events.Running})
}

// Stop transitions Running -> Stopped: deregisters from the DHT (if
// applicable) and notifies trackers with Stopped. Idempotent.
func (h *Handle) Stop(downloaded, uploaded, left uint64) error {
	h.mu.Lock()
	wasRunning := h.status == events.Running
	h.status = events.Stopped
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if !wasRunning {
		return nil
	}

	if !h.Private && h.dht != nil {
		h.dht.Delete(h.InfoHash)
	}
	if cancel != nil {
		cancel()
	}
	err := h.swarm.Stop(downloaded, uploaded, left)
	h.publish(events.Event{Kind: events.StatusChanged, InfoHash: h.InfoHash, Status: events.Stopped})
	return err
}

// Pause transitions Running -> Paused without notifying trackers or
// the DHT (peers stay connected but exchange halts at the collaborator
// level; this Handle only tracks the status).
func (h *Handle) Pause() {
	h.mu.Lock()
	h.status = events.Paused
	h.mu.Unlock()
	h.publish(events.Event{Kind: events.StatusChanged, InfoHash: h.InfoHash, Status: events.Paused})
}

func (h *Handle) publish(ev events.Event) {
	if h.events != nil {
		h.events.Publish(ev)
	}
}
