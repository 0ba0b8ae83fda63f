package dht

import (
	"sync"

	"github.com/kasimir-dev/gotorrent-core/internal/ids"
	"github.com/kasimir-dev/gotorrent-core/internal/tracker"
)

// Stub is a single-process Collaborator: it keeps announced peers in
// memory and routes lookups through a Bucket of known nodes. It is
// not a real Kademlia network client — good enough for a Handle to
// register/deregister against and for tests, per spec.md §1's framing
// of DHT routing as a separate concern.
type Stub struct {
	routing *Bucket

	mu        sync.Mutex
	announced map[ids.InfoHash][]tracker.PeerAddress
}

// NewStub builds a Stub backed by a routing table of the given
// bucket capacity.
func NewStub(bucketCapacity int, pinger Pinger) *Stub {
	return &Stub{
		routing:   NewBucket(bucketCapacity, pinger),
		announced: make(map[ids.InfoHash][]tracker.PeerAddress),
	}
}

// Insert announces infoHash with the supplied peer sample, per
// spec.md §6.
func (s *Stub) Insert(infoHash ids.InfoHash, sample []tracker.PeerAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announced[infoHash] = append(append([]tracker.PeerAddress{}, s.announced[infoHash]...), sample...)
}

// Delete deregisters infoHash, per spec.md §6.
func (s *Stub) Delete(infoHash ids.InfoHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.announced, infoHash)
}

// Lookup streams whatever peers are on record for infoHash. The
// channel is closed once every known peer has been sent.
func (s *Stub) Lookup(infoHash ids.InfoHash) <-chan tracker.PeerAddress {
	s.mu.Lock()
	peers := append([]tracker.PeerAddress{}, s.announced[infoHash]...)
	s.mu.Unlock()

	out := make(chan tracker.PeerAddress, len(peers))
	for _, p := range peers {
		out <- p
	}
	close(out)
	return out
}

// SeenNode records contact with a routing-table node, applying the
// bucket's tie-break rule.
func (s *Stub) SeenNode(node Node) {
	s.routing.Seen(node)
}
