// Package events implements the channel-based broadcaster spec.md §7
// calls "the event stream", carrying TorrentAdded, StatusChanged, and
// Warning notifications out of a Handle.
package events

import (
	"fmt"

	"github.com/kasimir-dev/gotorrent-core/internal/ids"
)

// Kind identifies the category of an Event.
type Kind int

const (
	TorrentAdded Kind = iota
	StatusChanged
	Warning
)

func (k Kind) String() string {
	switch k {
	case TorrentAdded:
		return "TorrentAdded"
	case StatusChanged:
		return "StatusChanged"
	case Warning:
		return "Warning"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Status mirrors a Handle's lifecycle status, carried on StatusChanged.
type Status int

const (
	Stopped Status = iota
	Running
	Paused
)

// Event is a single notification published on the broadcaster.
type Event struct {
	Kind     Kind
	InfoHash ids.InfoHash
	Status   Status       // valid when Kind == StatusChanged
	WarnKind string       // valid when Kind == Warning
	Detail   string       // valid when Kind == Warning
}

// Broadcaster fans a sequence of events out to any number of
// subscribers. It never blocks a publisher on a slow subscriber: each
// subscriber gets its own buffered channel, and a full channel drops
// the event for that subscriber rather than stalling Publish.
type Broadcaster struct {
	subscribe   chan chan Event
	unsubscribe chan chan Event
	publish     chan Event
	done        chan struct{}
}

// NewBroadcaster starts the broadcaster's dispatch loop and returns a
// handle to it. Call Close to stop the loop.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		subscribe:   make(chan chan Event),
		unsubscribe: make(chan chan Event),
		publish:     make(chan Event),
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	subscribers := make(map[chan Event]struct{})
	for {
		select {
		case ch := <-b.subscribe:
			subscribers[ch] = struct{}{}
		case ch := <-b.unsubscribe:
			delete(subscribers, ch)
		case ev := <-b.publish:
			for ch := range subscribers {
				select {
				case ch <- ev:
				default:
				}
			}
		case <-b.done:
			return
		}
	}
}

// Subscribe returns a buffered channel that receives every event
// published after this call. Call Unsubscribe when done listening.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 32)
	b.subscribe <- ch
	return ch
}

// Unsubscribe stops delivering events to ch.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.unsubscribe <- ch
}

// Publish emits ev to all current subscribers.
func (b *Broadcaster) Publish(ev Event) {
	b.publish <- ev
}

// Close stops the dispatch loop. Subsequent Publish calls block
// forever; callers must not publish after Close.
func (b *Broadcaster) Close() {
	close(b.done)
}
