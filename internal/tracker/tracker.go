package tracker

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kasimir-dev/gotorrent-core/internal/ids"
)

// Client announces to and scrapes a single tracker, dispatching to the
// HTTP(S) or UDP transport implied by the announce URL's scheme.
type Client interface {
	Announce(q AnnounceQuery) (AnnounceInfo, error)
	Scrape(infoHash ids.InfoHash) (ScrapeInfo, error)
}

type client struct {
	announceURL string
	http        *HTTPClient
	udp         *UDPClient
	log         *slog.Logger
}

// NewClient builds a Client for announceURL, using the HTTP(S)
// transport for "http" URLs and the UDP transport for "udp" URLs.
// Both transports take the peer id from each AnnounceQuery.
func NewClient(announceURL string, logger *slog.Logger) (Client, error) {
	if announceURL == "" {
		return nil, fmt.Errorf("tracker: announce url is empty")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &client{announceURL: announceURL, log: logger}
	switch {
	case strings.HasPrefix(announceURL, "http"):
		c.http = NewHTTPClient(&http.Client{Timeout: defaultHTTPTimeout}, logger)
	case strings.HasPrefix(announceURL, "udp"):
		udp, err := NewUDPClient(announceURL, logger)
		if err != nil {
			return nil, err
		}
		c.udp = udp
	default:
		return nil, fmt.Errorf("tracker: unsupported scheme in %q", announceURL)
	}
	return c, nil
}

func (c *client) Announce(q AnnounceQuery) (AnnounceInfo, error) {
	if c.http != nil {
		return c.http.Announce(c.announceURL, q)
	}
	return c.udp.Announce(q)
}

func (c *client) Scrape(infoHash ids.InfoHash) (ScrapeInfo, error) {
	if c.http != nil {
		return c.http.Scrape(c.announceURL, infoHash.Bytes())
	}
	return c.udp.Scrape(infoHash)
}
