package dht

import (
	"testing"

	"github.com/kasimir-dev/gotorrent-core/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ alive bool }

func (f fakePinger) Ping(Node) bool { return f.alive }

func nodeWithID(b byte) Node {
	var id [20]byte
	id[19] = b
	return Node{ID: id}
}

func TestBucketMoveToFrontWhenKeyAlreadyPresent(t *testing.T) {
	b := NewBucket(2, fakePinger{alive: true})
	a, c := nodeWithID(1), nodeWithID(2)
	b.Seen(a)
	b.Seen(c)

	// Re-seeing 'a' should move it to front, not grow or evict.
	b.Seen(a)
	require.Equal(t, 2, b.Len())
	assert.Equal(t, a, b.Nodes()[0])
}

func TestBucketPingAndEvictWhenFullAndTailDead(t *testing.T) {
	b := NewBucket(1, fakePinger{alive: false})
	a := nodeWithID(1)
	b.Seen(a)

	newcomer := nodeWithID(2)
	b.Seen(newcomer)

	require.Equal(t, 1, b.Len())
	assert.Equal(t, newcomer, b.Nodes()[0])
}

func TestBucketKeepsTailWhenAliveAndFull(t *testing.T) {
	b := NewBucket(1, fakePinger{alive: true})
	a := nodeWithID(1)
	b.Seen(a)

	newcomer := nodeWithID(2)
	b.Seen(newcomer)

	require.Equal(t, 1, b.Len())
	assert.Equal(t, a, b.Nodes()[0])
}

func TestStubInsertLookupDelete(t *testing.T) {
	s := NewStub(8, fakePinger{alive: true})
	var ih [20]byte
	ih[0] = 7

	sample := []tracker.PeerAddress{{Port: 6881}}
	s.Insert(ih, sample)

	got := <-s.Lookup(ih)
	assert.Equal(t, uint16(6881), got.Port)

	s.Delete(ih)
	_, ok := <-s.Lookup(ih)
	assert.False(t, ok)
}
