package decoder

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetainfoDecoder(t *testing.T) {
	dec := NewDecoder(nil)

	var tests = []struct {
		name          string
		assert        func(t *testing.T, actual Metainfo)
		givenMetafile func() io.Reader
	}{
		{
			name: "validate multifile torrent",
			assert: func(t *testing.T, actual Metainfo) {
				assert.Equal(t, "http://tracker.example.com", actual.Announce)
				assert.Equal(t, [][]string{{"http://tracker.example.com", "http://backup-tracker.com"}}, actual.AnnounceList)
				assert.Equal(t, "Torrent_Folder", actual.Info.Name)
				assert.Equal(t, 32768, actual.Info.PieceLength)
				assert.Equal(t, []File{
					{Path: []string{"subfolder1", "file1.txt"}, Length: 1000},
					{Path: []string{"subfolder2", "file2.txt"}, Length: 2000},
				}, actual.Info.Files)
				require.Len(t, actual.Info.PieceHashes, 3)
				assert.Equal(t, "0123456789abcdef0123", string(actual.Info.PieceHashes[0][:]))
			},
			givenMetafile: func() io.Reader {
				var b strings.Builder
				b.WriteString("d")
				b.WriteString("8:announce26:http://tracker.example.com")
				b.WriteString("13:announce-list")
				b.WriteString("ll26:http://tracker.example.com25:http://backup-tracker.comee")
				b.WriteString("10:created by15:MyTorrentClient")
				b.WriteString("4:info")
				b.WriteString("d")
				b.WriteString("4:name")
				b.WriteString("14:Torrent_Folder")
				b.WriteString("12:piece lengthi32768e")
				b.WriteString("6:pieces60:0123456789abcdef01230000000000000000000000000000000000000000")
				b.WriteString("5:files")
				b.WriteString("l")
				b.WriteString("d6:lengthi1000e4:pathl10:subfolder19:file1.txtee")
				b.WriteString("d6:lengthi2000e4:pathl10:subfolder29:file2.txtee")
				b.WriteString("e")
				b.WriteString("e")
				b.WriteString("e")
				return strings.NewReader(b.String())
			},
		},
		{
			name: "validate single-file torrent",
			assert: func(t *testing.T, actual Metainfo) {
				assert.Equal(t, "http://tracker.example.com", actual.Announce)
				assert.Equal(t, "Torrent_Folder", actual.Info.Name)
				assert.Equal(t, int64(90000), actual.Info.Length)
				require.Len(t, actual.Info.Files, 1)
				assert.Equal(t, []string{"Torrent_Folder"}, actual.Info.Files[0].Path)
				require.Len(t, actual.Info.PieceHashes, 3)
			},
			givenMetafile: func() io.Reader {
				var b strings.Builder
				b.WriteString("d")
				b.WriteString("8:announce26:http://tracker.example.com")
				b.WriteString("10:created by15:MyTorrentClient")
				b.WriteString("4:info")
				b.WriteString("d")
				b.WriteString("6:lengthi90000e")
				b.WriteString("4:name")
				b.WriteString("14:Torrent_Folder")
				b.WriteString("12:piece lengthi32768e")
				b.WriteString("6:pieces60:0123456789abcdef01230000000000000000000000000000000000000000")
				b.WriteString("e")
				b.WriteString("e")
				return strings.NewReader(b.String())
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			actual, err := dec.Decode(tt.givenMetafile())
			require.NoError(t, err)
			tt.assert(t, actual)
		})
	}
}
