package tracker

import (
	"testing"

	"github.com/kasimir-dev/gotorrent-core/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveScrapeURLTable(t *testing.T) {
	cases := []struct {
		in, out string
		ok      bool
	}{
		{"http://example.com/announce", "http://example.com/scrape", true},
		{"http://example.com/x/announce", "http://example.com/x/scrape", true},
		{"http://example.com/announce.php", "http://example.com/scrape.php", true},
		{"http://example.com/a", "", false},
		{"http://example.com/announce?x2%0644", "http://example.com/scrape?x2%0644", true},
		{"http://example.com/announce?x=2/4", "http://example.com/scrape?x=2/4", true},
		{"http://example.com/x%064announce", "", false},
	}

	for _, tc := range cases {
		got, err := DeriveScrapeURL(tc.in)
		if !tc.ok {
			require.Error(t, err, tc.in)
			assert.True(t, IsScrapeUnsupported(err), tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.out, got, tc.in)
	}
}

func TestAnnounceQueryRoundTrip(t *testing.T) {
	var ih ids.InfoHash
	var pid ids.PeerId
	for i := range ih {
		ih[i] = byte(i)
	}
	for i := range pid {
		pid[i] = byte(i + 100)
	}

	cases := []AnnounceQuery{
		{InfoHash: ih, PeerId: pid, ListenPort: 6881, Uploaded: 0, Downloaded: 0, Left: 1000, Event: EventStarted},
		{InfoHash: ih, PeerId: pid, ListenPort: 6889, Uploaded: 500, Downloaded: 200, Left: 0, Event: EventRegular},
		{InfoHash: ih, PeerId: pid, ListenPort: 6881, Uploaded: 1, Downloaded: 1, Left: 1, Event: EventStopped},
	}

	for _, q := range cases {
		rendered, err := RenderAnnounceQuery("http://example.com/announce", q)
		require.NoError(t, err)

		parsed, err := ParseAnnounceQuery(rendered)
		require.NoError(t, err)
		assert.Equal(t, q, parsed)
	}
}

func TestRenderAnnounceQueryEncodesRawBytesNotHex(t *testing.T) {
	var ih ids.InfoHash
	ih[0] = 0x00
	ih[1] = 0xFF
	var pid ids.PeerId

	rendered, err := RenderAnnounceQuery("http://example.com/announce", AnnounceQuery{InfoHash: ih, PeerId: pid})
	require.NoError(t, err)
	assert.Contains(t, rendered, "info_hash=%00%FF")
}
