package tracker

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jackpal/bencode-go"
	"github.com/kasimir-dev/gotorrent-core/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type RoundTripFunc func(req *http.Request) *http.Response

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func newTestHTTPClient(fn RoundTripFunc) *HTTPClient {
	return NewHTTPClient(&http.Client{Transport: fn}, nil)
}

func testQuery() AnnounceQuery {
	var ih ids.InfoHash
	var pid ids.PeerId
	copy(ih[:], []byte("01234567891012345678"))
	copy(pid[:], []byte("01234567891012345678"))
	return AnnounceQuery{InfoHash: ih, PeerId: pid, ListenPort: 6881, Left: 100, Event: EventStarted}
}

func TestHTTPClientAnnounceSuccess(t *testing.T) {
	c := newTestHTTPClient(func(req *http.Request) *http.Response {
		assert.Contains(t, req.URL.String(), "event=started")
		assert.Contains(t, req.URL.String(), "compact=1")

		ip := net.ParseIP("192.168.100.100").To4()
		port := make([]byte, 2)
		binary.BigEndian.PutUint16(port, 6889)
		peerBytes := append(append([]byte{}, ip...), port...)

		resp := struct {
			Interval int    `bencode:"interval"`
			Peers    string `bencode:"peers"`
		}{Interval: 60, Peers: string(peerBytes)}

		buf := &bytes.Buffer{}
		require.NoError(t, bencode.Marshal(buf, resp))
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(buf)}
	})

	info, err := c.Announce("http://tracker.example.com/announce", testQuery())
	require.NoError(t, err)
	assert.Equal(t, 60, info.Interval)
	require.Len(t, info.Peers, 1)
	assert.True(t, info.Peers[0].IP.Equal(net.ParseIP("192.168.100.100")))
	assert.Equal(t, uint16(6889), info.Peers[0].Port)
}

func TestHTTPClientAnnounceFailureReason(t *testing.T) {
	c := newTestHTTPClient(func(req *http.Request) *http.Response {
		resp := struct {
			Reason string `bencode:"failure reason"`
		}{Reason: "torrent not registered"}
		buf := &bytes.Buffer{}
		require.NoError(t, bencode.Marshal(buf, resp))
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(buf)}
	})

	_, err := c.Announce("http://tracker.example.com/announce", testQuery())
	require.Error(t, err)
	var trackerErr *TrackerError
	require.ErrorAs(t, err, &trackerErr)
	assert.Equal(t, "torrent not registered", trackerErr.Reason)
}

func TestHTTPClientScrapeUnsupported(t *testing.T) {
	c := newTestHTTPClient(func(req *http.Request) *http.Response {
		t.Fatal("scrape should not reach the transport when the url is unsupported")
		return nil
	})

	_, err := c.Scrape("http://tracker.example.com/x", make([]byte, 20))
	require.Error(t, err)
	assert.True(t, IsScrapeUnsupported(err))
}

func TestNewClientRejectsUnknownScheme(t *testing.T) {
	_, err := NewClient("ftp://tracker.example.com/announce", nil)
	require.Error(t, err)
}

func TestNewClientDispatchesHTTP(t *testing.T) {
	c, err := NewClient("http://tracker.example.com/announce", nil)
	require.NoError(t, err)
	_, ok := c.(*client)
	require.True(t, ok)
}

// fakeUDPTracker runs a minimal BEP-15 server on loopback for one
// connect followed by one announce transaction, first replying to the
// connect request with a packet carrying a stale transaction id that
// the client must discard before accepting the real reply.
func fakeUDPTracker(t *testing.T) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		const fixedConnId uint64 = 0xAABBCCDDEEFF0011

		// connect
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil || n < 16 {
			return
		}
		txId := binary.BigEndian.Uint32(buf[12:16])

		stale := make([]byte, 16)
		binary.BigEndian.PutUint32(stale[0:4], actionConnect)
		binary.BigEndian.PutUint32(stale[4:8], txId+1)
		binary.BigEndian.PutUint64(stale[8:16], 0)
		conn.WriteToUDP(stale, raddr)

		reply := make([]byte, 16)
		binary.BigEndian.PutUint32(reply[0:4], actionConnect)
		binary.BigEndian.PutUint32(reply[4:8], txId)
		binary.BigEndian.PutUint64(reply[8:16], fixedConnId)
		conn.WriteToUDP(reply, raddr)

		// announce
		n, raddr, err = conn.ReadFromUDP(buf)
		if err != nil || n < 98 {
			return
		}
		gotConnId := binary.BigEndian.Uint64(buf[0:8])
		if gotConnId != fixedConnId {
			return
		}
		annTxId := binary.BigEndian.Uint32(buf[12:16])

		resp := make([]byte, 26)
		binary.BigEndian.PutUint32(resp[0:4], actionAnnounce)
		binary.BigEndian.PutUint32(resp[4:8], annTxId)
		binary.BigEndian.PutUint32(resp[8:12], 1800)
		binary.BigEndian.PutUint32(resp[12:16], 0)
		binary.BigEndian.PutUint32(resp[16:20], 1)
		copy(resp[20:24], net.IPv4(10, 0, 0, 1).To4())
		binary.BigEndian.PutUint16(resp[24:26], 6881)
		conn.WriteToUDP(resp, raddr)
	}()

	return conn.LocalAddr().(*net.UDPAddr)
}

func TestUDPClientAnnounceDiscardsStaleTransactionAndCarriesConnId(t *testing.T) {
	addr := fakeUDPTracker(t)
	c, err := NewUDPClient("udp://"+addr.String()+"/announce", nil)
	require.NoError(t, err)
	defer c.Close()

	info, err := c.Announce(testQuery())
	require.NoError(t, err)
	assert.Equal(t, 1800, info.Interval)
	require.Len(t, info.Peers, 1)
	assert.True(t, info.Peers[0].IP.Equal(net.IPv4(10, 0, 0, 1)))
	assert.Equal(t, uint16(6881), info.Peers[0].Port)
}

func TestUDPClientReportsTimeoutWhenTrackerSilent(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)

	c, err := NewUDPClient("udp://"+addr.String(), nil)
	require.NoError(t, err)
	defer c.Close()

	// The first retransmit window is 15s and cannot be shortened from
	// here; the select below skips the test if no error arrives within
	// 200ms rather than waiting it out.
	done := make(chan error, 1)
	go func() {
		_, err := c.ensureConnection()
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(200 * time.Millisecond):
		t.Skip("retransmission schedule starts at 15s; not waiting out the full timeout in unit tests")
	}
}
