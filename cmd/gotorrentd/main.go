// Command gotorrentd opens a single .torrent file and drives it to
// completion against an in-memory storage engine, reporting progress
// on stderr. It exists to exercise the core library end to end; it is
// not a full-featured client (no disk persistence, no multi-torrent
// UI).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kasimir-dev/gotorrent-core/internal/capabilities"
	"github.com/kasimir-dev/gotorrent-core/internal/decoder"
	"github.com/kasimir-dev/gotorrent-core/internal/dht"
	"github.com/kasimir-dev/gotorrent-core/internal/events"
	"github.com/kasimir-dev/gotorrent-core/internal/exchange"
	"github.com/kasimir-dev/gotorrent-core/internal/handle"
	"github.com/kasimir-dev/gotorrent-core/internal/peer"
	"github.com/kasimir-dev/gotorrent-core/internal/session"
	"github.com/kasimir-dev/gotorrent-core/internal/storage"
	"github.com/kasimir-dev/gotorrent-core/internal/tracker"
	"github.com/schollz/progressbar/v3"
)

func main() {
	var torrentPath string
	flag.StringVar(&torrentPath, "torrent", "", "path to a .torrent file")
	flag.Parse()
	if torrentPath == "" {
		fmt.Fprintln(os.Stderr, "usage: gotorrentd -torrent path/to/file.torrent")
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := run(torrentPath, logger); err != nil {
		logger.Error("gotorrentd: fatal", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(torrentPath string, logger *slog.Logger) error {
	f, err := os.Open(torrentPath)
	if err != nil {
		return fmt.Errorf("opening torrent file: %w", err)
	}
	defer f.Close()

	meta, err := decoder.NewDecoder(logger).Decode(f)
	if err != nil {
		return fmt.Errorf("decoding torrent: %w", err)
	}

	totalLength := meta.Info.Length
	if totalLength == 0 {
		for _, file := range meta.Info.Files {
			totalLength += file.Length
		}
	}

	hashes := make([][20]byte, len(meta.Info.PieceHashes))
	copy(hashes, meta.Info.PieceHashes)
	eng := storage.NewMemory(totalLength, meta.Info.PieceLength, hashes)

	caps := capabilities.Bits{}
	caps.Set(capabilities.BitExtended)
	caps.Set(capabilities.BitFastExtension)

	client, err := session.New(session.WithLogger(logger), session.WithEnabledCapabilities(caps))
	if err != nil {
		return fmt.Errorf("creating client session: %w", err)
	}

	dhtCollab := dht.NewStub(8, nil)
	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()

	manager := handle.NewManager(client, dhtCollab, broadcaster, logger)
	h, err := manager.OpenTorrent(meta)
	if err != nil {
		return fmt.Errorf("opening handle: %w", err)
	}

	bar := progressbar.DefaultBytes(totalLength, "downloading")
	ex := exchange.New(eng, swarmFor(client, meta), dhtCollab, logger)
	ex.OnProgress(func(n int) {
		bar.Add(n)
		client.AddDownloaded(uint64(n))
	})

	connectFn := func(ctx context.Context, addr tracker.PeerAddress) error {
		return dialAndPump(ctx, addr, meta, client, ex, logger)
	}

	h.Start(0, 0, uint64(totalLength), connectFn)
	defer func() {
		client.SetLeft(0)
		_ = h.Stop(0, 0, 0)
	}()

	for !bar.IsFinished() {
		time.Sleep(time.Second)
	}
	return nil
}

// swarmFor returns the swarm.Session registered for meta's info-hash,
// which OpenTorrent is guaranteed to have created.
func swarmFor(client *session.ClientSession, meta decoder.Metainfo) exchange.Swarm {
	sw, _ := client.Swarm(meta.InfoHash)
	return sw
}

func dialAndPump(ctx context.Context, addr tracker.PeerAddress, meta decoder.Metainfo, client *session.ClientSession, ex *exchange.Exchange, logger *slog.Logger) error {
	p, err := peer.Dial(addr, meta.InfoHash, client.PeerId, client.EnabledCapabilities(), ex, logger)
	if err != nil {
		return err
	}
	if err := p.Handshake(); err != nil {
		return err
	}

	sw, ok := client.Swarm(meta.InfoHash)
	if !ok {
		p.Close()
		return fmt.Errorf("gotorrentd: swarm vanished for %s", meta.InfoHash)
	}
	handleID, err := sw.AddPeer(p)
	if err != nil {
		p.Close()
		return err
	}
	defer sw.RemovePeer(handleID)

	go p.RunWriteLoop()
	go requestLoop(p, ex, meta)
	p.RunReadLoop(len(meta.Info.PieceHashes))
	return p.Err()
}

// requestLoop periodically asks ex to fan out block requests for
// whatever piece p can supply that we don't have yet, until p closes.
func requestLoop(p *peer.Session, ex *exchange.Exchange, meta decoder.Metainfo) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if p.State() == peer.Closed {
			return
		}
		ex.RequestNext(p, meta.Info.PieceLength, meta.Info.Length)
	}
}
