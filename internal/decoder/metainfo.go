package decoder

import (
	"crypto/sha1"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kasimir-dev/gotorrent-core/internal/ids"
	"github.com/zeebo/bencode"
)

// MetafileDecoder parses a .torrent file into a Metainfo.
type MetafileDecoder interface {
	Decode(io.Reader) (Metainfo, error)
}

type decoder struct {
	log *slog.Logger
}

// NewDecoder builds a MetafileDecoder. A nil logger discards output.
func NewDecoder(logger *slog.Logger) MetafileDecoder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return decoder{log: logger}
}

// Metainfo is the decoded contents of a .torrent file, carrying the
// fields a Handle needs to open a torrent (spec.md §4.8): an
// InfoHash, piece layout, and file list.
type Metainfo struct {
	Announce     string
	AnnounceList [][]string
	InfoHash     ids.InfoHash
	Info         Info
}

type Info struct {
	Name        string
	Length      int64
	PieceLength int
	PieceHashes [][20]byte
	Files       []File
	Private     bool
}

type File struct {
	Length int64
	Path   []string
}

// bencodeTorrent is the wire shape of a .torrent file. Info is kept
// as bencode.RawMessage so the info-hash is computed over the exact
// bytes a tracker/peer would agree on, independent of how this
// decoder interprets the dictionary's other fields.
type bencodeTorrent struct {
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list"`
	Info         bencode.RawMessage `bencode:"info"`
}

type bencodeInfo struct {
	Name        string        `bencode:"name"`
	Length      int64         `bencode:"length"`
	PieceLength int           `bencode:"piece length"`
	Pieces      string        `bencode:"pieces"`
	Files       []bencodeFile `bencode:"files,omitempty"`
	Private     int           `bencode:"private,omitempty"`
}

type bencodeFile struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

func (d decoder) Decode(torrent io.Reader) (Metainfo, error) {
	var bt bencodeTorrent
	if err := bencode.NewDecoder(torrent).Decode(&bt); err != nil {
		d.log.Error("decoder: failed to decode torrent", slog.Any("err", err))
		return Metainfo{}, fmt.Errorf("decoding torrent: %w", err)
	}

	infoHash, err := ids.InfoHashFromBytes(calculateInfoHash(bt.Info))
	if err != nil {
		return Metainfo{}, err
	}

	var bi bencodeInfo
	if err := bencode.NewDecoder(strings.NewReader(string(bt.Info))).Decode(&bi); err != nil {
		d.log.Error("decoder: failed to decode torrent info", slog.Any("err", err))
		return Metainfo{}, fmt.Errorf("decoding info dict: %w", err)
	}

	pieceHashes, err := calculatePiecesHashes(bi.Pieces)
	if err != nil {
		d.log.Error("decoder: failed to split pieces hashes", slog.Any("err", err))
		return Metainfo{}, err
	}

	files := make([]File, 0, len(bi.Files))
	for _, f := range bi.Files {
		files = append(files, File{Length: f.Length, Path: f.Path})
	}
	if bi.Length > 0 {
		files = []File{{Length: bi.Length, Path: []string{bi.Name}}}
	}

	return Metainfo{
		Announce:     bt.Announce,
		AnnounceList: bt.AnnounceList,
		InfoHash:     infoHash,
		Info: Info{
			Name:        bi.Name,
			Length:      bi.Length,
			PieceLength: bi.PieceLength,
			PieceHashes: pieceHashes,
			Files:       files,
			Private:     bi.Private != 0,
		},
	}, nil
}

func calculateInfoHash(info []byte) []byte {
	sum := sha1.Sum(info)
	return sum[:]
}

func calculatePiecesHashes(pieces string) ([][20]byte, error) {
	if len(pieces)%20 != 0 {
		return nil, fmt.Errorf("decoder: pieces string length %d is not a multiple of 20", len(pieces))
	}
	out := make([][20]byte, 0, len(pieces)/20)
	for i := 0; i < len(pieces); i += 20 {
		var h [20]byte
		copy(h[:], pieces[i:i+20])
		out = append(out, h)
	}
	return out, nil
}
