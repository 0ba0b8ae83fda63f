package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kasimir-dev/gotorrent-core/internal/capabilities"
	"github.com/kasimir-dev/gotorrent-core/internal/ids"
	"github.com/kasimir-dev/gotorrent-core/internal/swarm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProgressMissingFileDefaultsFresh(t *testing.T) {
	p, err := LoadProgress(filepath.Join(t.TempDir(), "missing.resume"), 12345)
	require.NoError(t, err)
	assert.Equal(t, Progress{Left: 12345}, p)
}

func TestSaveLoadProgressRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.resume")
	want := Progress{Uploaded: 10, Downloaded: 20, Left: 30}
	require.NoError(t, SaveProgress(path, want))

	got, err := LoadProgress(path, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNewGeneratesDistinctPeerIds(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)
	assert.NotEqual(t, a.PeerId, b.PeerId)
}

func TestAcquireReleaseTracksPeerCount(t *testing.T) {
	c, err := New(WithMaxThreads(2))
	require.NoError(t, err)

	assert.Equal(t, 0, c.GetPeerCount())
	require.NoError(t, c.Acquire(context.Background(), 1))
	assert.Equal(t, 1, c.GetPeerCount())
	c.Release(1)
	assert.Equal(t, 0, c.GetPeerCount())
}

func TestSwarmCountTracksAddRemove(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, 0, c.GetSwarmCount())

	sw := swarm.NewSession(ids.InfoHash{}, "http://tracker.example.com/announce", nil, c, c.PeerId, capabilities.Bits{}, 0, 0, nil)
	c.AddSwarm(sw)
	assert.Equal(t, 1, c.GetSwarmCount())
	c.RemoveSwarm(sw.InfoHash)
	assert.Equal(t, 0, c.GetSwarmCount())
}
