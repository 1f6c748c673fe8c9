package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zsiec/demuxkit/media"
	"github.com/zsiec/demuxkit/mp4"
	"github.com/zsiec/demuxkit/pipeline"
)

func runDemux(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("demux", flag.ExitOnError)
	formatName := fs.String("format", "auto", "elementary stream format: auto, ac3 or adts")
	outPath := fs.String("o", "-", "output file for the packet stream, - for stdout")
	dialnorm := fs.Bool("dialnorm", false, "rewrite AC-3 dialogue normalization to unity gain")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("demux: exactly one input file required")
	}
	want, err := parseFormatFlag(*formatName)
	if err != nil {
		return err
	}
	path := fs.Arg(0)

	var out io.Writer = os.Stdout
	if *outPath != "-" {
		fh, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer fh.Close()
		out = fh
	}
	bw := bufio.NewWriter(out)

	p := pipeline.New(path, pipeline.NewWireSink(bw), slog.Default())
	p.SetRemoveDialnorm(*dialnorm)

	if err := demuxPath(ctx, p, path, want); err != nil {
		return err
	}
	stats := p.Stats()
	slog.Info("demux finished", "input", path, "packets", stats.Packets, "bytes", stats.Bytes,
		"invalid", stats.Invalid, "captions", stats.Captions, "garbage", stats.Garbage)
	return bw.Flush()
}

// demuxPath runs p over the file at path, as a container when it probes as
// one and as an elementary stream of format want otherwise.
func demuxPath(ctx context.Context, p *pipeline.Pipeline, path string, want media.Format) error {
	if want == media.FormatUnknown {
		if isContainer(path) {
			f, closer, err := mp4.OpenFile(path, slog.Default())
			if err != nil {
				return err
			}
			defer closer.Close()
			return p.RunFile(ctx, f)
		}

		res, err := probeFile(path, media.FormatUnknown, loadProbeSettings())
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		want = res.format
	}

	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	return p.Run(ctx, bufio.NewReader(fh), want)
}

func isContainer(path string) bool {
	fh, err := os.Open(path)
	if err != nil {
		return false
	}
	defer fh.Close()
	src, err := mp4.NewFileSource(fh)
	if err != nil {
		return false
	}
	return mp4.Probe(src)
}
