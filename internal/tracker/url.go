package tracker

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/kasimir-dev/gotorrent-core/internal/ids"
)

// RenderAnnounceQuery builds the full announce URL for baseURL carrying
// q's fields as a query string. info_hash and peer_id are percent-encoded
// raw bytes, never base16, per spec.md §4.5.
func RenderAnnounceQuery(baseURL string, q AnnounceQuery) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", &DecodeError{Detail: "parsing base tracker url", Cause: err}
	}

	values := u.Query()
	values.Set("info_hash", string(q.InfoHash.Bytes()))
	values.Set("peer_id", string(q.PeerId.Bytes()))
	values.Set("port", strconv.Itoa(int(q.ListenPort)))
	values.Set("uploaded", strconv.FormatUint(q.Uploaded, 10))
	values.Set("downloaded", strconv.FormatUint(q.Downloaded, 10))
	values.Set("left", strconv.FormatUint(q.Left, 10))
	values.Set("compact", "1")
	if v := q.Event.httpValue(); v != "" {
		values.Set("event", v)
	} else {
		values.Del("event")
	}

	u.RawQuery = values.Encode()
	return u.String(), nil
}

// ParseAnnounceQuery extracts an AnnounceQuery from a rendered announce
// URL. It is the left inverse of RenderAnnounceQuery (spec property 8):
// ParseAnnounceQuery(RenderAnnounceQuery(q)) == q.
func ParseAnnounceQuery(rawURL string) (AnnounceQuery, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return AnnounceQuery{}, &DecodeError{Detail: "parsing announce url", Cause: err}
	}
	values := u.Query()

	var q AnnounceQuery
	infoHash, err := ids.InfoHashFromBytes([]byte(values.Get("info_hash")))
	if err != nil {
		return AnnounceQuery{}, &DecodeError{Detail: "info_hash", Cause: err}
	}
	q.InfoHash = infoHash

	peerId, err := ids.PeerIdFromBytes([]byte(values.Get("peer_id")))
	if err != nil {
		return AnnounceQuery{}, &DecodeError{Detail: "peer_id", Cause: err}
	}
	q.PeerId = peerId

	port, err := strconv.ParseUint(values.Get("port"), 10, 16)
	if err != nil {
		return AnnounceQuery{}, &DecodeError{Detail: "port", Cause: err}
	}
	q.ListenPort = uint16(port)

	if q.Uploaded, err = strconv.ParseUint(values.Get("uploaded"), 10, 64); err != nil {
		return AnnounceQuery{}, &DecodeError{Detail: "uploaded", Cause: err}
	}
	if q.Downloaded, err = strconv.ParseUint(values.Get("downloaded"), 10, 64); err != nil {
		return AnnounceQuery{}, &DecodeError{Detail: "downloaded", Cause: err}
	}
	if q.Left, err = strconv.ParseUint(values.Get("left"), 10, 64); err != nil {
		return AnnounceQuery{}, &DecodeError{Detail: "left", Cause: err}
	}

	q.Event, err = eventFromHTTPValue(values.Get("event"))
	if err != nil {
		return AnnounceQuery{}, &DecodeError{Detail: "event", Cause: err}
	}

	return q, nil
}

// scrapeUnsupportedError is returned by DeriveScrapeURL when the
// announce URL's final path segment does not begin with "announce";
// IsScrapeUnsupported detects it.
type scrapeUnsupportedError struct{ announceURL string }

func (e *scrapeUnsupportedError) Error() string {
	return "tracker: scrape unsupported for announce url " + e.announceURL
}

// IsScrapeUnsupported reports whether err was returned because the
// tracker does not support the scrape convention.
func IsScrapeUnsupported(err error) bool {
	_, ok := err.(*scrapeUnsupportedError)
	return ok
}

// DeriveScrapeURL rewrites an announce URL into its scrape URL per the
// convention in spec.md §4.5: find the last "/" in the path; the
// remainder must begin literally with "announce"; replace that prefix
// with "scrape", keeping any suffix. The query string is left
// untouched verbatim — slashes inside it are never treated as path
// separators, deliberately diverging from BEP-48's chunking rule.
func DeriveScrapeURL(announceURL string) (string, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return "", &DecodeError{Detail: "parsing announce url", Cause: err}
	}

	path := u.Path
	idx := strings.LastIndex(path, "/")
	if idx == -1 {
		return "", &scrapeUnsupportedError{announceURL: announceURL}
	}

	segment := path[idx+1:]
	const prefix = "announce"
	if !strings.HasPrefix(segment, prefix) {
		return "", &scrapeUnsupportedError{announceURL: announceURL}
	}

	newSegment := "scrape" + segment[len(prefix):]
	scraped := *u
	scraped.Path = path[:idx+1] + newSegment
	scraped.RawPath = ""
	return scraped.String(), nil
}
