// Package tracker implements the HTTP(S) and UDP (BEP-15) announce/scrape
// transports, and the shared wire types (compact/dictionary peer address
// encodings, announce query/response, scrape response) they both speak.
package tracker

import (
	"fmt"
	"net"

	"github.com/kasimir-dev/gotorrent-core/internal/ids"
)

// Event is the announce lifecycle marker sent with an announce request.
type Event uint8

const (
	// EventRegular marks a periodic re-announce; the "event" key is
	// omitted entirely on the wire.
	EventRegular Event = iota
	EventStarted
	EventCompleted
	EventStopped
)

func (e Event) httpValue() string {
	switch e {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventStopped:
		return "stopped"
	default:
		return ""
	}
}

// udpActionCode returns the BEP-15 numeric event code: 0 none, 1
// completed, 2 started, 3 stopped. This numbering is specific to the
// UDP wire protocol and differs from any internal enum ordering.
func (e Event) udpActionCode() uint32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}

func eventFromHTTPValue(v string) (Event, error) {
	switch v {
	case "":
		return EventRegular, nil
	case "started":
		return EventStarted, nil
	case "completed":
		return EventCompleted, nil
	case "stopped":
		return EventStopped, nil
	default:
		return 0, fmt.Errorf("tracker: unknown event %q", v)
	}
}

// AnnounceQuery is the client's request to a tracker for peers and
// lifecycle bookkeeping.
type AnnounceQuery struct {
	InfoHash   ids.InfoHash
	PeerId     ids.PeerId
	ListenPort uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Event      Event
}

// AnnounceInfo is a tracker's response to an AnnounceQuery.
type AnnounceInfo struct {
	Interval    int // seconds
	MinInterval *int
	Peers       []PeerAddress
	Complete    *int
	Incomplete  *int
	Warning     *string
	TrackerId   *string
}

// ScrapeInfo is the per-info-hash statistics block of a scrape response.
type ScrapeInfo struct {
	Complete   int
	Downloaded int
	Incomplete int
	Name       *string
}

// PeerAddress is an endpoint returned by a tracker, in either the
// dictionary form (HTTP announce response peer list) or the compact
// form (BEP-23, 6 or 18 bytes). PeerId is always absent from the
// compact form.
type PeerAddress struct {
	PeerId *ids.PeerId
	IP     net.IP
	Port   uint16
}

func (p PeerAddress) String() string {
	return net.JoinHostPort(p.IP.String(), fmt.Sprintf("%d", p.Port))
}

// TrackerError reports a tracker-level failure: a "failure reason" key
// in an HTTP response, an unreachable tracker, or a UDP error packet.
// Per spec.md §7 it is never fatal to the owning swarm.
type TrackerError struct {
	Reason string
}

func (e *TrackerError) Error() string { return "tracker error: " + e.Reason }

// TransactionMismatch reports a UDP response whose transaction id or
// sender address did not match the outstanding request. The caller
// should discard the packet and keep waiting.
type TransactionMismatch struct {
	Detail string
}

func (e *TransactionMismatch) Error() string { return "transaction mismatch: " + e.Detail }

// DecodeError reports a bencode or URL decoding failure. Per spec.md
// §7 it surfaces to callers as a TrackerError: errors.As matches it
// against *TrackerError (see As).
type DecodeError struct {
	Detail string
	Cause  error
}

// As lets errors.As treat e as a *TrackerError whose Reason is e's
// message.
func (e *DecodeError) As(target any) bool {
	t, ok := target.(**TrackerError)
	if !ok {
		return false
	}
	*t = &TrackerError{Reason: e.Error()}
	return true
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode error: %s: %v", e.Detail, e.Cause)
	}
	return "decode error: " + e.Detail
}

func (e *DecodeError) Unwrap() error { return e.Cause }
