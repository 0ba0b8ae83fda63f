package tracker

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/kasimir-dev/gotorrent-core/internal/ids"
)

// protocolConnectId is the fixed connection id carried on every
// connect request, per BEP-15.
const protocolConnectId uint64 = 0x41727101980

const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
	actionScrape   uint32 = 2
	actionError    uint32 = 3
)

// connIdLifetime is how long a connection id returned by a connect
// transaction remains usable before a fresh one must be negotiated.
const connIdLifetime = 60 * time.Second

// maxRetransmitAttempt is the last attempt index n of the 15*2^n
// second retransmission schedule: attempts 0 through
// maxRetransmitAttempt (nine sends) go unanswered before the
// transaction gives up.
const maxRetransmitAttempt = 8

// recvBufferSize follows BEP-15's guidance that a reply never exceeds
// roughly 1500 bytes.
const recvBufferSize = 1500

// UDPClient announces and scrapes against a udp:// tracker per BEP-15.
type UDPClient struct {
	addr *net.UDPAddr
	conn *net.UDPConn
	log  *slog.Logger
	key  uint32

	mu     sync.Mutex
	connId uint64
	expiry time.Time
}

// NewUDPClient resolves announceURL's host and opens a UDP socket to
// it. The connection id is negotiated lazily on first use.
func NewUDPClient(announceURL string, logger *slog.Logger) (*UDPClient, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, &DecodeError{Detail: "parsing udp tracker url", Cause: err}
	}
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, &TrackerError{Reason: err.Error()}
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, &TrackerError{Reason: err.Error()}
	}

	var keyBuf [4]byte
	if _, err := rand.Read(keyBuf[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tracker: generating udp key: %w", err)
	}

	return &UDPClient{
		addr: addr,
		conn: conn,
		log:  logger,
		key:  binary.BigEndian.Uint32(keyBuf[:]),
	}, nil
}

// Close releases the underlying UDP socket.
func (c *UDPClient) Close() error { return c.conn.Close() }

func newTransactionId() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("tracker: generating transaction id: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// roundTrip sends req and retries on the 15*2^n second schedule until
// a reply for the same transaction id arrives or the schedule is
// exhausted. Replies carrying a different transaction id are discarded
// and the attempt keeps listening, per BEP-15.
func (c *UDPClient) roundTrip(req []byte, txId uint32) ([]byte, error) {
	buf := make([]byte, recvBufferSize)

	for attempt := 0; attempt <= maxRetransmitAttempt; attempt++ {
		timeout := time.Duration(15*(1<<uint(attempt))) * time.Second

		if _, err := c.conn.Write(req); err != nil {
			return nil, &TrackerError{Reason: err.Error()}
		}

		deadline := time.Now().Add(timeout)
		for {
			if err := c.conn.SetReadDeadline(deadline); err != nil {
				return nil, &TrackerError{Reason: err.Error()}
			}
			n, err := c.conn.Read(buf)
			if err != nil {
				if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
					break // retransmit on the next schedule step
				}
				return nil, &TrackerError{Reason: err.Error()}
			}
			if n < 8 {
				continue
			}
			if binary.BigEndian.Uint32(buf[4:8]) != txId {
				continue // stale reply, keep waiting within this attempt
			}
			out := make([]byte, n)
			copy(out, buf[:n])
			return out, nil
		}
	}

	return nil, &TrackerError{Reason: "udp tracker did not respond within the retransmission schedule"}
}

func decodeErrorPacket(body []byte) error {
	return &TrackerError{Reason: string(body)}
}

// ensureConnection negotiates a connection id if none is cached or the
// cached one has expired, per BEP-15 §2.
func (c *UDPClient) ensureConnection() (uint64, error) {
	c.mu.Lock()
	if time.Now().Before(c.expiry) {
		id := c.connId
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	txId, err := newTransactionId()
	if err != nil {
		return 0, err
	}

	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], protocolConnectId)
	binary.BigEndian.PutUint32(req[8:12], actionConnect)
	binary.BigEndian.PutUint32(req[12:16], txId)

	resp, err := c.roundTrip(req, txId)
	if err != nil {
		return 0, err
	}
	if len(resp) < 16 {
		return 0, &DecodeError{Detail: "udp connect response too short"}
	}
	action := binary.BigEndian.Uint32(resp[0:4])
	if action == actionError {
		return 0, decodeErrorPacket(resp[8:])
	}
	if action != actionConnect {
		return 0, &TransactionMismatch{Detail: fmt.Sprintf("expected connect action, got %d", action)}
	}

	connId := binary.BigEndian.Uint64(resp[8:16])
	c.mu.Lock()
	c.connId = connId
	c.expiry = time.Now().Add(connIdLifetime)
	c.mu.Unlock()

	return connId, nil
}

// Announce performs a UDP announce transaction, per BEP-15 §2.3.
func (c *UDPClient) Announce(q AnnounceQuery) (AnnounceInfo, error) {
	connId, err := c.ensureConnection()
	if err != nil {
		return AnnounceInfo{}, err
	}

	txId, err := newTransactionId()
	if err != nil {
		return AnnounceInfo{}, err
	}

	req := make([]byte, 98)
	binary.BigEndian.PutUint64(req[0:8], connId)
	binary.BigEndian.PutUint32(req[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(req[12:16], txId)
	copy(req[16:36], q.InfoHash.Bytes())
	copy(req[36:56], q.PeerId.Bytes())
	binary.BigEndian.PutUint64(req[56:64], q.Downloaded)
	binary.BigEndian.PutUint64(req[64:72], q.Left)
	binary.BigEndian.PutUint64(req[72:80], q.Uploaded)
	binary.BigEndian.PutUint32(req[80:84], q.Event.udpActionCode())
	binary.BigEndian.PutUint32(req[84:88], 0) // ip, 0 lets the tracker use the sender address
	binary.BigEndian.PutUint32(req[88:92], c.key)
	binary.BigEndian.PutUint32(req[92:96], 0xFFFFFFFF) // num_want, -1 requests the tracker's default
	binary.BigEndian.PutUint16(req[96:98], q.ListenPort)

	resp, err := c.roundTrip(req, txId)
	if err != nil {
		return AnnounceInfo{}, err
	}
	if len(resp) < 20 {
		return AnnounceInfo{}, &DecodeError{Detail: "udp announce response too short"}
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	if action == actionError {
		return AnnounceInfo{}, decodeErrorPacket(resp[8:])
	}
	if action != actionAnnounce {
		return AnnounceInfo{}, &TransactionMismatch{Detail: fmt.Sprintf("expected announce action, got %d", action)}
	}

	interval := int(binary.BigEndian.Uint32(resp[8:12]))
	incomplete := int(binary.BigEndian.Uint32(resp[12:16]))
	complete := int(binary.BigEndian.Uint32(resp[16:20]))

	peers, err := DecodeCompactPeers(resp[20:], false)
	if err != nil {
		return AnnounceInfo{}, err
	}

	return AnnounceInfo{
		Interval:   interval,
		Peers:      peers,
		Complete:   &complete,
		Incomplete: &incomplete,
	}, nil
}

// Scrape performs a UDP scrape transaction for a single info-hash,
// per BEP-15 §2.4.
func (c *UDPClient) Scrape(infoHash ids.InfoHash) (ScrapeInfo, error) {
	connId, err := c.ensureConnection()
	if err != nil {
		return ScrapeInfo{}, err
	}

	txId, err := newTransactionId()
	if err != nil {
		return ScrapeInfo{}, err
	}

	req := make([]byte, 16+20)
	binary.BigEndian.PutUint64(req[0:8], connId)
	binary.BigEndian.PutUint32(req[8:12], actionScrape)
	binary.BigEndian.PutUint32(req[12:16], txId)
	copy(req[16:36], infoHash.Bytes())

	resp, err := c.roundTrip(req, txId)
	if err != nil {
		return ScrapeInfo{}, err
	}
	if len(resp) < 8 {
		return ScrapeInfo{}, &DecodeError{Detail: "udp scrape response too short"}
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	if action == actionError {
		return ScrapeInfo{}, decodeErrorPacket(resp[8:])
	}
	if action != actionScrape {
		return ScrapeInfo{}, &TransactionMismatch{Detail: fmt.Sprintf("expected scrape action, got %d", action)}
	}
	if len(resp) < 20 {
		return ScrapeInfo{}, &DecodeError{Detail: "udp scrape response missing stats block"}
	}

	return ScrapeInfo{
		Complete:   int(binary.BigEndian.Uint32(resp[8:12])),
		Downloaded: int(binary.BigEndian.Uint32(resp[12:16])),
		Incomplete: int(binary.BigEndian.Uint32(resp[16:20])),
	}, nil
}
