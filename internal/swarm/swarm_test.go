package swarm

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"

	"github.com/kasimir-dev/gotorrent-core/internal/capabilities"
	"github.com/kasimir-dev/gotorrent-core/internal/ids"
	"github.com/kasimir-dev/gotorrent-core/internal/peer"
	"github.com/kasimir-dev/gotorrent-core/internal/peerwire"
	"github.com/kasimir-dev/gotorrent-core/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

type countingPermits struct {
	sem          *semaphore.Weighted
	acquireCalls atomic.Int32
}

func newCountingPermits(n int64) *countingPermits {
	return &countingPermits{sem: semaphore.NewWeighted(n)}
}

func (c *countingPermits) Acquire(ctx context.Context, n int64) error {
	c.acquireCalls.Add(1)
	return c.sem.Acquire(ctx, n)
}

func (c *countingPermits) Release(n int64) { c.sem.Release(n) }

type fakeTracker struct {
	completedCount atomic.Int32
	startedCount   atomic.Int32
}

func (f *fakeTracker) Announce(q tracker.AnnounceQuery) (tracker.AnnounceInfo, error) {
	switch q.Event {
	case tracker.EventStarted:
		f.startedCount.Add(1)
	case tracker.EventCompleted:
		f.completedCount.Add(1)
	}
	return tracker.AnnounceInfo{Interval: 3600}, nil
}

func (f *fakeTracker) Scrape(ids.InfoHash) (tracker.ScrapeInfo, error) {
	return tracker.ScrapeInfo{}, nil
}

func TestWaitVacancyAcquiresClientBeforeSwarmPermit(t *testing.T) {
	client := newCountingPermits(10)
	sw := NewSession(ids.InfoHash{}, "http://tracker.example.com/announce", &fakeTracker{}, client, ids.PeerId{}, capabilities.Bits{}, 10, 1, nil)

	ran := false
	err := sw.waitVacancy(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(1), client.acquireCalls.Load())
}

func TestWaitVacancyReleasesPermitsOnActionError(t *testing.T) {
	client := newCountingPermits(1)
	sw := NewSession(ids.InfoHash{}, "http://tracker.example.com/announce", &fakeTracker{}, client, ids.PeerId{}, capabilities.Bits{}, 10, 1, nil)

	boom := assert.AnError
	err := sw.waitVacancy(context.Background(), func(ctx context.Context) error { return boom })
	assert.Equal(t, boom, err)

	// Permits must have been released: a second acquisition succeeds immediately.
	err = sw.waitVacancy(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
}

func TestMarkPieceCompleteAnnouncesCompletedExactlyOnce(t *testing.T) {
	ft := &fakeTracker{}
	client := newCountingPermits(10)
	sw := NewSession(ids.InfoHash{}, "http://tracker.example.com/announce", ft, client, ids.PeerId{}, capabilities.Bits{}, 2, 1, nil)

	sw.MarkPieceComplete(0, 0, 0)
	assert.Equal(t, int32(0), ft.completedCount.Load())

	sw.MarkPieceComplete(1, 0, 0)
	assert.Equal(t, int32(1), ft.completedCount.Load())

	// Re-marking (e.g. a duplicate Have) must not re-announce Completed.
	sw.MarkPieceComplete(1, 0, 0)
	assert.Equal(t, int32(1), ft.completedCount.Load())
}

// establishedPeer builds a real *peer.Session over an in-memory pipe and
// drives the handshake to completion, returning the session paired with
// the far end of the pipe for the test to act as the remote peer.
func establishedPeer(t *testing.T, infoHash ids.InfoHash) (*peer.Session, net.Conn) {
	t.Helper()

	ours, theirs := net.Pipe()
	t.Cleanup(func() { theirs.Close() })

	var ourId, theirId ids.PeerId
	ourId[0], theirId[0] = 1, 2

	sess := peer.Accept(ours, tracker.PeerAddress{}, infoHash, ourId, capabilities.Bits{}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- sess.Handshake() }()

	buf := make([]byte, peerwire.HandshakeLen)
	_, err := io.ReadFull(theirs, buf)
	require.NoError(t, err)

	reply, err := peerwire.NewHandshake(capabilities.Bits{}, infoHash, theirId).Encode()
	require.NoError(t, err)
	_, err = theirs.Write(reply)
	require.NoError(t, err)
	require.NoError(t, <-done)

	go sess.RunWriteLoop()

	return sess, theirs
}

func TestMarkPieceCompleteBroadcastsHaveToConnectedPeer(t *testing.T) {
	infoHash := ids.InfoHash{}
	sess, theirs := establishedPeer(t, infoHash)

	ft := &fakeTracker{}
	client := newCountingPermits(10)
	sw := NewSession(infoHash, "http://tracker.example.com/announce", ft, client, ids.PeerId{}, capabilities.Bits{}, 2, 1, nil)

	// AddPeer's initial bitfield write and the pipe's matching read must
	// run concurrently: net.Pipe has no buffering, so a synchronous
	// AddPeer call here would block forever waiting for a reader.
	addDone := make(chan error, 1)
	go func() {
		_, err := sw.AddPeer(sess)
		addDone <- err
	}()

	_, err := peerwire.ReadFrame(theirs, 2)
	require.NoError(t, err)
	require.NoError(t, <-addDone)

	sw.MarkPieceComplete(0, 0, 0)

	m, err := peerwire.ReadFrame(theirs, 2)
	require.NoError(t, err)
	assert.Equal(t, peerwire.KindHave, m.Kind)
	assert.Equal(t, 0, m.Have)
}
