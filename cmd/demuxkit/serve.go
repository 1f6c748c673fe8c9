package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/demuxkit/ingest"
	srtingest "github.com/zsiec/demuxkit/ingest/srt"
	"github.com/zsiec/demuxkit/pipeline"
)

type app struct {
	outDir    string
	dialnorm  bool
	registry  *ingest.Registry
	srtCaller *srtingest.Caller
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	outDir := fs.String("out", "", "directory for per-stream packet files; empty discards packets")
	pull := fs.String("pull", "", "remote SRT source to pull, as address/streamkey")
	dialnorm := fs.Bool("dialnorm", false, "rewrite AC-3 dialogue normalization to unity gain")
	fs.Parse(args)

	srtAddr := envOr("SRT_ADDR", ":6000")
	slog.Info("demuxkit starting", "version", version, "srt", srtAddr, "out", *outDir)

	a := &app{outDir: *outDir, dialnorm: *dialnorm}
	g, ctx := errgroup.WithContext(ctx)

	// Create the registry after the errgroup so stream handlers see the
	// errgroup-derived context.
	a.registry = ingest.NewRegistry(func(s *ingest.Stream, input io.Reader) error {
		return a.handleStream(ctx, s, input)
	}, nil)
	a.srtCaller = srtingest.NewCaller(a.registry, nil)
	srtSrv := srtingest.NewServer(srtAddr, a.registry, nil)

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	if *pull != "" {
		addr, key, ok := strings.Cut(*pull, "/")
		if !ok {
			return fmt.Errorf("serve: -pull wants address/streamkey, got %q", *pull)
		}
		g.Go(func() error {
			return a.srtCaller.Pull(ctx, srtingest.PullRequest{Address: addr, StreamKey: key})
		})
	}

	return g.Wait()
}

func (a *app) handleStream(ctx context.Context, s *ingest.Stream, input io.Reader) error {
	log := slog.With("stream_key", s.Key, "id", s.ID)

	var out io.Writer = io.Discard
	if a.outDir != "" {
		name := fmt.Sprintf("%s-%s.dkw", strings.ReplaceAll(s.Key, "/", "_"), s.ID)
		fh, err := os.Create(filepath.Join(a.outDir, name))
		if err != nil {
			return err
		}
		defer fh.Close()
		bw := bufio.NewWriter(fh)
		defer bw.Flush()
		out = bw
	}

	p := pipeline.New(s.Key, pipeline.NewWireSink(out), log)
	p.SetRemoveDialnorm(a.dialnorm)
	err := p.Run(ctx, input, s.Format)

	stats := p.Stats()
	ingestStats := s.Stats()
	log.Info("stream ended", "packets", stats.Packets, "invalid", stats.Invalid,
		"garbage", stats.Garbage, "bytes_received", ingestStats.BytesReceived)
	return err
}
