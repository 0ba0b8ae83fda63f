// Package dht defines the DHT collaborator contract from spec.md §6
// and a minimal Kademlia-bucket stub implementing the tie-break rule
// spec.md §9 resolves as an open question: if the key is already
// present, move it to the most-recently-seen end (the front of the
// bucket's list) and ignore the ping; otherwise ping-and-evict the
// least-recently-seen node at the back. Full Kademlia routing
// is out of scope per spec.md §1.
package dht

import (
	"container/list"
	"sync"

	"github.com/kasimir-dev/gotorrent-core/internal/ids"
	"github.com/kasimir-dev/gotorrent-core/internal/tracker"
)

// Collaborator is the DHT contract a Handle deregisters/registers
// against, per spec.md §6.
type Collaborator interface {
	Insert(infoHash ids.InfoHash, sample []tracker.PeerAddress)
	Delete(infoHash ids.InfoHash)
	Lookup(infoHash ids.InfoHash) <-chan tracker.PeerAddress
}

// Pinger probes a node and reports whether it is still reachable.
// Swapped out in tests; a real implementation would send a DHT ping.
type Pinger interface {
	Ping(node Node) bool
}

// Node is a single DHT routing-table entry.
type Node struct {
	ID   ids.InfoHash // reused as a 20-byte node id, per BEP-5's shape
	Addr tracker.PeerAddress
}

// Bucket is one fixed-capacity Kademlia bucket.
type Bucket struct {
	capacity int
	pinger   Pinger
	mu       sync.Mutex
	order    *list.List // front = most-recently-seen
	byID     map[ids.InfoHash]*list.Element
}

// NewBucket creates an empty bucket of the given capacity.
func NewBucket(capacity int, pinger Pinger) *Bucket {
	return &Bucket{
		capacity: capacity,
		pinger:   pinger,
		order:    list.New(),
		byID:     make(map[ids.InfoHash]*list.Element),
	}
}

// Seen records contact with node, applying spec.md §9's tie-break
// rule when the bucket is full.
func (b *Bucket) Seen(node Node) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.byID[node.ID]; ok {
		el.Value = node
		b.order.MoveToFront(el)
		return
	}

	if b.order.Len() < b.capacity {
		b.insertFront(node)
		return
	}

	tail := b.order.Back()
	tailNode := tail.Value.(Node)
	if b.pinger != nil && b.pinger.Ping(tailNode) {
		// Still alive: refresh its position and drop the newcomer.
		b.order.MoveToFront(tail)
		return
	}

	b.order.Remove(tail)
	delete(b.byID, tailNode.ID)
	b.insertFront(node)
}

func (b *Bucket) insertFront(node Node) {
	el := b.order.PushFront(node)
	b.byID[node.ID] = el
}

// Nodes returns a snapshot ordered most-recently-seen first.
func (b *Bucket) Nodes() []Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Node, 0, b.order.Len())
	for el := b.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(Node))
	}
	return out
}

// Len reports the current number of nodes in the bucket.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order.Len()
}
