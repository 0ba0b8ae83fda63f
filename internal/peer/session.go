// Package peer implements the per-connection state machine from
// spec.md §4.3: Connecting → Handshaking → Established → Closed over
// a single TCP socket, with the incoming/outgoing keepalive timers and
// the broadcast queue the owning swarm enqueues onto.
package peer

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kasimir-dev/gotorrent-core/internal/bitfield"
	"github.com/kasimir-dev/gotorrent-core/internal/blocks"
	"github.com/kasimir-dev/gotorrent-core/internal/capabilities"
	"github.com/kasimir-dev/gotorrent-core/internal/ids"
	"github.com/kasimir-dev/gotorrent-core/internal/peerwire"
	"github.com/kasimir-dev/gotorrent-core/internal/tracker"
)

// State is a position in the session state machine of spec.md §4.3.
type State int

const (
	Connecting State = iota
	Handshaking
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Established:
		return "Established"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// IncomingTimeout and OutgoingTimeout are spec.md §4.3's fixed timer
// durations: 120s since the last received byte raises PeerDisconnected;
// 1s since the last sent message triggers a KeepAlive.
const (
	IncomingTimeout = 120 * time.Second
	OutgoingTimeout = 1 * time.Second
)

// ErrDisconnected is raised when the incoming timer expires.
var ErrDisconnected = errors.New("peer: disconnected (incoming timer expired)")

// Status tracks the choke/interest flags of spec.md §3, initial value
// {amChoking: true, amInterested: false, peerChoking: true, peerInterested: false}.
type Status struct {
	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool
}

func initialStatus() Status {
	return Status{AmChoking: true, AmInterested: false, PeerChoking: true, PeerInterested: false}
}

// Exchange is the collaborator that consumes Request/Cancel/Piece
// messages and the Port extension message, per spec.md §4.3/§6.
type Exchange interface {
	OnRequest(p *Session, ix blocks.Ix)
	OnCancel(p *Session, ix blocks.Ix)
	OnPiece(p *Session, b blocks.Block)
	OnPort(p *Session, port uint16)
}

// Session is one peer-wire connection. Its zero value is not usable;
// build one with Dial or Accept.
type Session struct {
	Address tracker.PeerAddress

	conn         net.Conn
	infoHash     ids.InfoHash
	peerId       ids.PeerId
	capabilities capabilities.Bits
	exchange     Exchange
	log          *slog.Logger

	broadcast chan peerwire.Message

	mu            sync.Mutex
	state         State
	status        Status
	theirBitfield bitfield.Bitfield
	theirPeerId   ids.PeerId
	bitfieldSent  bool

	incomingTimer *time.Timer
	outgoingTimer *time.Timer

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Dial opens a TCP connection to addr and returns a Session in the
// Connecting state. The caller must call Handshake next.
func Dial(addr tracker.PeerAddress, infoHash ids.InfoHash, peerId ids.PeerId, caps capabilities.Bits, exchange Exchange, logger *slog.Logger) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), 10*time.Second)
	if err != nil {
		return nil, err
	}
	return newSession(conn, addr, infoHash, peerId, caps, exchange, logger), nil
}

// Accept wraps an already-open inbound connection into a Session in
// the Connecting state.
func Accept(conn net.Conn, addr tracker.PeerAddress, infoHash ids.InfoHash, peerId ids.PeerId, caps capabilities.Bits, exchange Exchange, logger *slog.Logger) *Session {
	return newSession(conn, addr, infoHash, peerId, caps, exchange, logger)
}

func newSession(conn net.Conn, addr tracker.PeerAddress, infoHash ids.InfoHash, peerId ids.PeerId, caps capabilities.Bits, exchange Exchange, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		Address:      addr,
		conn:         conn,
		infoHash:     infoHash,
		peerId:       peerId,
		capabilities: caps,
		exchange:     exchange,
		log:          logger,
		broadcast:    make(chan peerwire.Message, 64),
		state:        Connecting,
		status:       initialStatus(),
		closed:       make(chan struct{}),
	}
}

// State returns the current state under lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a copy of the current choke/interest flags.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TheirBitfield returns a copy of the peer's most recently announced
// have-set.
func (s *Session) TheirBitfield() bitfield.Bitfield {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theirBitfield.Clone()
}

// Handshake performs the handshake exchange of spec.md §4.3: send our
// handshake, read theirs, and transition Connecting → Handshaking →
// Established, or → Closed on a mismatched info-hash.
func (s *Session) Handshake() error {
	s.setState(Handshaking)

	ours := peerwire.NewHandshake(s.capabilities, s.infoHash, s.peerId)
	buf, err := ours.Encode()
	if err != nil {
		s.fail(err)
		return err
	}
	if _, err := s.conn.Write(buf); err != nil {
		s.fail(err)
		return err
	}

	resp := make([]byte, peerwire.HandshakeLen)
	if _, err := readFull(s.conn, resp); err != nil {
		s.fail(err)
		return err
	}

	theirs, err := peerwire.DecodeHandshake(resp)
	if err != nil {
		s.fail(err)
		return err
	}
	if theirs.InfoHash != s.infoHash {
		err := &peerwire.ProtocolError{Detail: "handshake info_hash mismatch"}
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.theirPeerId = theirs.PeerId
	s.state = Established
	s.mu.Unlock()

	s.armIncoming()
	s.armOutgoing()
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SendInitialBitfield sends our bitfield immediately after the
// handshake completes, per spec.md §4.3. It is an error to call this
// more than once or before Established.
func (s *Session) SendInitialBitfield(bf bitfield.Bitfield) error {
	s.mu.Lock()
	if s.state != Established {
		s.mu.Unlock()
		return errors.New("peer: SendInitialBitfield called outside Established")
	}
	if s.bitfieldSent {
		s.mu.Unlock()
		return errors.New("peer: bitfield already sent")
	}
	s.bitfieldSent = true
	s.mu.Unlock()

	return s.send(peerwire.BitfieldMsg(bf))
}

// Enqueue places a message on the broadcast queue for the session's
// write loop to drain and forward, per spec.md §4.3.
func (s *Session) Enqueue(m peerwire.Message) {
	select {
	case s.broadcast <- m:
	default:
		s.log.Warn("peer: broadcast queue full, dropping message", slog.String("peer", s.Address.String()))
	}
}

func (s *Session) send(m peerwire.Message) error {
	if err := peerwire.WriteFrame(s.conn, m); err != nil {
		return err
	}
	s.armOutgoing()
	return nil
}

// RunWriteLoop drains the broadcast queue and the outgoing keepalive
// timer until the session closes. Intended to run in its own
// goroutine, one per established session (spec.md §5's "each peer
// session owns one I/O task").
func (s *Session) RunWriteLoop() {
	for {
		select {
		case m := <-s.broadcast:
			if err := s.send(m); err != nil {
				s.fail(err)
				return
			}
		case <-s.outgoingFired():
			if err := s.send(peerwire.KeepAlive()); err != nil {
				s.fail(err)
				return
			}
		case <-s.closedSignal():
			return
		}
	}
}

// RunReadLoop reads frames until the connection closes or a protocol
// error occurs, dispatching each to applyMessage. Intended to run in
// its own goroutine alongside RunWriteLoop.
func (s *Session) RunReadLoop(expectedPieceCount int) {
	for {
		m, err := peerwire.ReadFrame(s.conn, expectedPieceCount)
		if err != nil {
			s.fail(err)
			return
		}
		s.armIncoming()
		s.applyMessage(m)
	}
}

func (s *Session) applyMessage(m peerwire.Message) {
	s.mu.Lock()
	switch m.Kind {
	case peerwire.KindChoke:
		s.status.PeerChoking = true
	case peerwire.KindUnchoke:
		s.status.PeerChoking = false
	case peerwire.KindInterested:
		s.status.PeerInterested = true
	case peerwire.KindNotInterested:
		s.status.PeerInterested = false
	case peerwire.KindHave:
		s.theirBitfield.Insert(m.Have)
	case peerwire.KindBitfield:
		s.theirBitfield = m.Bitfield
	}
	s.mu.Unlock()

	if s.exchange == nil {
		return
	}
	switch m.Kind {
	case peerwire.KindRequest:
		s.exchange.OnRequest(s, m.Request)
	case peerwire.KindCancel:
		s.exchange.OnCancel(s, m.Request)
	case peerwire.KindPiece:
		s.exchange.OnPiece(s, m.Piece)
	case peerwire.KindPort:
		s.exchange.OnPort(s, m.Port)
	}
}

func (s *Session) armIncoming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incomingTimer == nil {
		s.incomingTimer = time.NewTimer(IncomingTimeout)
		go s.watchIncoming()
		return
	}
	s.incomingTimer.Reset(IncomingTimeout)
}

func (s *Session) watchIncoming() {
	s.mu.Lock()
	timer := s.incomingTimer
	s.mu.Unlock()
	<-timer.C
	s.fail(ErrDisconnected)
}

func (s *Session) armOutgoing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outgoingTimer == nil {
		s.outgoingTimer = time.NewTimer(OutgoingTimeout)
		return
	}
	s.outgoingTimer.Reset(OutgoingTimeout)
}

func (s *Session) outgoingFired() <-chan time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outgoingTimer == nil {
		s.outgoingTimer = time.NewTimer(OutgoingTimeout)
	}
	return s.outgoingTimer.C
}

func (s *Session) closedSignal() <-chan struct{} {
	return s.closed
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// fail transitions the session to Closed and releases the socket, per
// spec.md §4.3's "* → Closed on: socket error, ProtocolError, ...".
func (s *Session) fail(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeErr = err
		s.state = Closed
		s.mu.Unlock()
		s.log.Debug("peer session closed", slog.String("peer", s.Address.String()), slog.Any("reason", err))
		s.conn.Close()
		close(s.closed)
	})
}

// Close terminates the session cleanly, as if by a session-exception
// signal from the owning swarm.
func (s *Session) Close() error {
	s.fail(nil)
	return nil
}

// Err returns the error that caused the session to close, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}
