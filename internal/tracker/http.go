package tracker

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackpal/bencode-go"
)

// defaultHTTPTimeout bounds a single announce or scrape request made
// through NewClient's default transport.
const defaultHTTPTimeout = 15 * time.Second

// HTTPClient announces and scrapes against an http(s):// tracker.
type HTTPClient struct {
	http *http.Client
	log  *slog.Logger
}

// NewHTTPClient builds an HTTPClient. A nil http.Client defaults to
// http.DefaultClient; a nil logger discards log output.
func NewHTTPClient(client *http.Client, logger *slog.Logger) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPClient{http: client, log: logger}
}

// Announce performs an HTTP(S) announce, per spec.md §4.5.
func (c *HTTPClient) Announce(announceURL string, q AnnounceQuery) (AnnounceInfo, error) {
	rendered, err := RenderAnnounceQuery(announceURL, q)
	if err != nil {
		return AnnounceInfo{}, err
	}

	c.log.Debug("http tracker announce", slog.String("url", rendered))
	resp, err := c.http.Get(rendered)
	if err != nil {
		return AnnounceInfo{}, &TrackerError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AnnounceInfo{}, &TrackerError{Reason: fmt.Sprintf("http status %s", resp.Status)}
	}

	info, err := decodeAnnounceResponse(resp.Body)
	if err != nil {
		return AnnounceInfo{}, err
	}
	c.log.Debug("http tracker announce response", slog.Int("peers", len(info.Peers)), slog.Int("interval", info.Interval))
	return info, nil
}

// Scrape performs an HTTP(S) scrape for a single info-hash, per
// spec.md §4.5/§4.6. It first derives the scrape URL from announceURL;
// trackers that do not follow the announce/scrape naming convention
// return an error satisfying IsScrapeUnsupported.
func (c *HTTPClient) Scrape(announceURL string, infoHashRaw []byte) (ScrapeInfo, error) {
	scrapeURL, err := DeriveScrapeURL(announceURL)
	if err != nil {
		return ScrapeInfo{}, err
	}

	sep := "?"
	if containsQuery(scrapeURL) {
		sep = "&"
	}
	requestURL := scrapeURL + sep + "info_hash=" + escapeRawBytes(infoHashRaw)

	c.log.Debug("http tracker scrape", slog.String("url", requestURL))
	resp, err := c.http.Get(requestURL)
	if err != nil {
		return ScrapeInfo{}, &TrackerError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ScrapeInfo{}, &TrackerError{Reason: fmt.Sprintf("http status %s", resp.Status)}
	}

	return decodeScrapeResponse(resp.Body, infoHashRaw)
}

func containsQuery(u string) bool {
	for _, r := range u {
		if r == '?' {
			return true
		}
	}
	return false
}

func escapeRawBytes(raw []byte) string {
	const hex = "0123456789ABCDEF"
	out := make([]byte, 0, len(raw)*3)
	for _, b := range raw {
		switch {
		case b == '-' || b == '_' || b == '.' || b == '~' ||
			(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9'):
			out = append(out, b)
		default:
			out = append(out, '%', hex[b>>4], hex[b&0xF])
		}
	}
	return string(out)
}

func decodeAnnounceResponse(r io.Reader) (AnnounceInfo, error) {
	decoded, err := bencode.Decode(r)
	if err != nil {
		return AnnounceInfo{}, &DecodeError{Detail: "decoding announce response", Cause: err}
	}
	raw, ok := decoded.(map[string]interface{})
	if !ok {
		return AnnounceInfo{}, &DecodeError{Detail: "announce response is not a dictionary"}
	}

	if reason, ok := raw["failure reason"].(string); ok && reason != "" {
		return AnnounceInfo{}, &TrackerError{Reason: reason}
	}

	var info AnnounceInfo
	if interval, ok := asInt(raw["interval"]); ok {
		info.Interval = interval
	}
	if mi, ok := asInt(raw["min interval"]); ok {
		info.MinInterval = &mi
	}
	if c, ok := asInt(raw["complete"]); ok {
		info.Complete = &c
	}
	if ic, ok := asInt(raw["incomplete"]); ok {
		info.Incomplete = &ic
	}
	if w, ok := raw["warning message"].(string); ok && w != "" {
		info.Warning = &w
	}
	if tid, ok := raw["tracker id"].(string); ok && tid != "" {
		info.TrackerId = &tid
	}

	peers, err := decodePeersField(raw["peers"])
	if err != nil {
		return AnnounceInfo{}, err
	}
	info.Peers = peers

	if p6, ok := raw["peers6"].(string); ok && p6 != "" {
		more, err := DecodeCompactPeers([]byte(p6), true)
		if err != nil {
			return AnnounceInfo{}, err
		}
		info.Peers = append(info.Peers, more...)
	}

	return info, nil
}

func decodeScrapeResponse(r io.Reader, infoHashRaw []byte) (ScrapeInfo, error) {
	var raw struct {
		Files map[string]map[string]interface{} `bencode:"files"`
	}
	if err := bencode.Unmarshal(r, &raw); err != nil {
		return ScrapeInfo{}, &DecodeError{Detail: "decoding scrape response", Cause: err}
	}

	entry, ok := raw.Files[string(infoHashRaw)]
	if !ok {
		return ScrapeInfo{}, &TrackerError{Reason: "scrape response missing requested info_hash"}
	}

	var info ScrapeInfo
	if v, ok := asInt(entry["complete"]); ok {
		info.Complete = v
	}
	if v, ok := asInt(entry["downloaded"]); ok {
		info.Downloaded = v
	}
	if v, ok := asInt(entry["incomplete"]); ok {
		info.Incomplete = v
	}
	if name, ok := entry["name"].(string); ok && name != "" {
		info.Name = &name
	}
	return info, nil
}

func asInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case int:
		return t, true
	default:
		return 0, false
	}
}

func decodePeersField(v interface{}) ([]PeerAddress, error) {
	switch t := v.(type) {
	case string:
		return DecodeCompactPeers([]byte(t), false)
	case []interface{}:
		out := make([]PeerAddress, 0, len(t))
		for _, item := range t {
			dict, ok := item.(map[string]interface{})
			if !ok {
				return nil, &DecodeError{Detail: "peer list entry is not a dictionary"}
			}
			var entry peerDictEntry
			if ip, ok := dict["ip"].(string); ok {
				entry.IP = ip
			}
			if port, ok := asInt(dict["port"]); ok {
				entry.Port = port
			}
			if pid, ok := dict["peer id"].(string); ok {
				entry.PeerId = pid
			}
			addr, err := entry.toPeerAddress()
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, &DecodeError{Detail: "unexpected peers field type"}
	}
}
