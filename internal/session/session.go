// Package session implements the client-wide coordinator of spec.md
// §4.7: PeerId generation, the client-wide threadPermits semaphore,
// the swarm set, aggregate Progress, and the observability surface
// (getCurrentProgress, getSwarmCount, getPeerCount).
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kasimir-dev/gotorrent-core/internal/capabilities"
	"github.com/kasimir-dev/gotorrent-core/internal/ids"
	"github.com/kasimir-dev/gotorrent-core/internal/swarm"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxThreads is spec.md §4.7's default ThreadCount.
const DefaultMaxThreads = 1000

// Option configures a ClientSession at construction time, following
// the teacher's functional-options style (Tracker.WithHTTPClient).
type Option func(*ClientSession)

// WithMaxThreads overrides DefaultMaxThreads.
func WithMaxThreads(n int64) Option {
	return func(c *ClientSession) { c.maxThreads = n }
}

// WithEnabledCapabilities sets the client-wide advertised capability
// bits used when negotiating with each peer (spec.md §4.7).
func WithEnabledCapabilities(caps capabilities.Bits) Option {
	return func(c *ClientSession) { c.enabled = caps }
}

// WithLogger injects a structured logger; the default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientSession) { c.log = logger }
}

// ClientSession is the top-level container over many swarms.
type ClientSession struct {
	PeerId ids.PeerId

	enabled     capabilities.Bits
	maxThreads  int64
	threads     *semaphore.Weighted
	activeCount atomic.Int64
	log         *slog.Logger

	mu       sync.Mutex
	swarms   map[ids.InfoHash]*swarm.Session
	progress Progress
}

// New builds a ClientSession, generating a fresh PeerId per spec.md
// §4.7. maxThreads defaults to DefaultMaxThreads.
func New(opts ...Option) (*ClientSession, error) {
	peerId, err := ids.NewPeerId()
	if err != nil {
		return nil, err
	}

	c := &ClientSession{
		PeerId:     peerId,
		maxThreads: DefaultMaxThreads,
		log:        slog.New(slog.DiscardHandler),
		swarms:     make(map[ids.InfoHash]*swarm.Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.threads = semaphore.NewWeighted(c.maxThreads)
	return c, nil
}

// Acquire and Release implement swarm.ClientPermits: the client-wide
// threadPermits semaphore that must be acquired before a swarm's own
// vacancy permit, per spec.md §4.4/§5.
func (c *ClientSession) Acquire(ctx context.Context, n int64) error {
	if err := c.threads.Acquire(ctx, n); err != nil {
		return err
	}
	c.activeCount.Add(n)
	return nil
}

func (c *ClientSession) Release(n int64) {
	c.activeCount.Add(-n)
	c.threads.Release(n)
}

// EnabledCapabilities returns the client-wide advertised capability
// bits.
func (c *ClientSession) EnabledCapabilities() capabilities.Bits { return c.enabled }

// AddSwarm registers sw under its info-hash. Replacing an existing
// swarm for the same info-hash is the caller's responsibility to
// avoid (Handle enforces idempotent-by-info-hash opens).
func (c *ClientSession) AddSwarm(sw *swarm.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.swarms[sw.InfoHash] = sw
}

// RemoveSwarm drops the swarm registered for infoHash, if any.
func (c *ClientSession) RemoveSwarm(infoHash ids.InfoHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.swarms, infoHash)
}

// Swarm returns the swarm registered for infoHash, if any.
func (c *ClientSession) Swarm(infoHash ids.InfoHash) (*swarm.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sw, ok := c.swarms[infoHash]
	return sw, ok
}

// GetSwarmCount reports how many swarms are currently registered,
// per spec.md §4.7's observability surface.
func (c *ClientSession) GetSwarmCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.swarms)
}

// GetPeerCount reports maxActive - availableThreadPermits, per
// spec.md §4.7 — equivalently, the number of thread permits currently
// held, which is exactly the number of peer sessions in flight across
// every swarm.
func (c *ClientSession) GetPeerCount() int {
	return int(c.activeCount.Load())
}

// GetCurrentProgress returns a snapshot of the aggregate Progress.
func (c *ClientSession) GetCurrentProgress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// AddDownloaded and AddUploaded apply an atomic add to the aggregate
// Progress, per spec.md §5 ("Progress is updated via atomic add from
// exchange worker threads").
func (c *ClientSession) AddDownloaded(n uint64) {
	c.mu.Lock()
	c.progress.Downloaded += n
	c.mu.Unlock()
}

func (c *ClientSession) AddUploaded(n uint64) {
	c.mu.Lock()
	c.progress.Uploaded += n
	c.mu.Unlock()
}

func (c *ClientSession) SetLeft(n uint64) {
	c.mu.Lock()
	c.progress.Left = n
	c.mu.Unlock()
}
