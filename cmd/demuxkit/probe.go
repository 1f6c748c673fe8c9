package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/demuxkit/ac3"
	"github.com/zsiec/demuxkit/adts"
	"github.com/zsiec/demuxkit/media"
	"github.com/zsiec/demuxkit/mp4"
)

// probeSettings controls elementary-stream detection.
type probeSettings struct {
	window int
	frames int
}

func loadProbeSettings() probeSettings {
	return probeSettings{
		window: envInt("PROBE_WINDOW", ac3.DefaultProbeWindow),
		frames: envInt("PROBE_FRAMES", ac3.DefaultProbeFrames),
	}
}

// probeResult describes what was found at the start of a file.
type probeResult struct {
	container bool         // QuickTime/MP4
	format    media.Format // elementary stream format when !container
	offset    int          // first frame offset of an elementary stream
	header    fmt.Stringer // first frame header of an elementary stream
	file      *mp4.File
}

func runProbe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	formatName := fs.String("format", "auto", "elementary stream format: auto, ac3 or adts")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("probe: no input files")
	}
	want, err := parseFormatFlag(*formatName)
	if err != nil {
		return err
	}

	settings := loadProbeSettings()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(envInt("PROBE_PARALLEL", 4))

	var mu sync.Mutex
	reports := make([]string, fs.NArg())
	for i, path := range fs.Args() {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res, err := probeFile(path, want, settings)
			var report string
			if err != nil {
				report = fmt.Sprintf("%s: %v\n", path, err)
			} else {
				report = describe(path, res)
			}
			mu.Lock()
			reports[i] = report
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, r := range reports {
		fmt.Print(r)
	}
	return nil
}

func parseFormatFlag(name string) (media.Format, error) {
	if name == "auto" {
		return media.FormatUnknown, nil
	}
	return media.ParseFormat(name)
}

// probeFile classifies the file at path. A want of FormatUnknown tries the
// container first, then AC-3, then ADTS.
func probeFile(path string, want media.Format, s probeSettings) (*probeResult, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	if want == media.FormatUnknown {
		if src, err := mp4.NewFileSource(fh); err == nil && mp4.Probe(src) {
			f, err := mp4.Open(src, nil)
			if err != nil {
				return nil, err
			}
			return &probeResult{container: true, file: f}, nil
		}
	}

	var errs []error
	if want != media.FormatADTS {
		res, err := probeElementary(fh, media.FormatAC3, s)
		if err == nil {
			return res, nil
		}
		errs = append(errs, err)
	}
	if want != media.FormatAC3 {
		res, err := probeElementary(fh, media.FormatADTS, s)
		if err == nil {
			return res, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("no %d consecutive frames in the first %d bytes: %w",
		s.frames, s.window, errors.Join(errs...))
}

// probeElementary looks for a run of frames of the given format at the start
// of fh and decodes the first header of the run.
func probeElementary(fh io.ReadSeeker, format media.Format, s probeSettings) (*probeResult, error) {
	if _, err := fh.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	probe := ac3.Probe
	if format == media.FormatADTS {
		probe = adts.Probe
	}
	off, err := probe(fh, s.window, s.frames)
	if err != nil {
		return nil, err
	}

	if _, err := fh.Seek(int64(off), io.SeekStart); err != nil {
		return nil, err
	}
	head := make([]byte, 16)
	n, err := io.ReadFull(fh, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	head = head[:n]
	res := &probeResult{format: format, offset: off}
	if format == media.FormatADTS {
		h, err := adts.DecodeHeader(head)
		if err != nil {
			return nil, err
		}
		res.header = adtsHeader(h)
	} else {
		h, err := ac3.DecodeHeader(head)
		if err != nil {
			return nil, err
		}
		res.header = h
	}
	return res, nil
}

type adtsHeader adts.Header

func (h adtsHeader) String() string {
	hdr := adts.Header(h)
	return fmt.Sprintf("AAC %dHz config %d, %d bytes, %d samples",
		hdr.SampleRate, hdr.ChannelConfig, hdr.FrameLength, hdr.Samples())
}

func describe(path string, res *probeResult) string {
	var b strings.Builder
	if !res.container {
		fmt.Fprintf(&b, "%s: %s stream at offset %d: %s\n", path, res.format, res.offset, res.header)
		return b.String()
	}
	f := res.file
	brand := ""
	if len(f.Brands) > 0 {
		brand = f.Brands[0]
	}
	fmt.Fprintf(&b, "%s: QuickTime/MP4 brand %q, %d tracks\n", path, brand, len(f.Tracks))
	for _, t := range f.Tracks {
		fmt.Fprintf(&b, "  %s, %d samples", t.Info(), t.Samples.Len())
		if t.Language != "" {
			fmt.Fprintf(&b, ", %s", t.Language)
		}
		b.WriteString("\n")
	}
	for _, d := range f.Dropped {
		fmt.Fprintf(&b, "  #%d dropped: %v\n", d.ID, d.Reason)
	}
	return b.String()
}
