// Package pipeline drives a demuxer for a single source and forwards the
// resulting track descriptions, packets and caption frames to a Sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/ccx"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/demuxkit/media"
)

// defaultReadSize is the chunk size read from elementary-stream sources.
const defaultReadSize = 64 << 10

// Sink receives the output of a pipeline run. AddTrack is called before the
// first packet of a track and again if the track's format changes.
type Sink interface {
	AddTrack(info media.TrackInfo) error
	WritePacket(p *media.Packet) error
}

// CaptionSink is implemented by sinks that also accept decoded captions.
type CaptionSink interface {
	WriteCaption(trackID int, frame *ccx.CaptionFrame) error
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Packets  int64 `json:"packets"`
	Bytes    int64 `json:"bytes"`
	Invalid  int64 `json:"invalid"`
	Captions int64 `json:"captions"`
	Garbage  int64 `json:"garbage"`
	LastPTS  int64 `json:"lastPts"`
	UptimeMs int64 `json:"uptimeMs"`
}

// Pipeline forwards one source to a Sink while collecting statistics.
type Pipeline struct {
	log            *slog.Logger
	name           string
	sink           Sink
	readSize       int
	removeDialnorm bool
	startTime      time.Time

	packets  atomic.Int64
	bytes    atomic.Int64
	invalid  atomic.Int64
	captions atomic.Int64
	garbage  atomic.Int64
	lastPTS  atomic.Int64
}

// New creates a Pipeline named name that writes to sink. A nil logger falls
// back to slog.Default.
func New(name string, sink Sink, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:       log.With("component", "pipeline", "stream", name),
		name:      name,
		sink:      sink,
		readSize:  defaultReadSize,
		startTime: time.Now(),
	}
}

// SetReadSize sets the chunk size used when reading elementary streams.
func (p *Pipeline) SetReadSize(n int) {
	if n > 0 {
		p.readSize = n
	}
}

// SetRemoveDialnorm makes the pipeline rewrite the dialogue normalization
// of AC-3 and E-AC-3 frames to unity gain before forwarding them.
func (p *Pipeline) SetRemoveDialnorm(on bool) {
	p.removeDialnorm = on
}

// Stats returns a point-in-time snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Packets:  p.packets.Load(),
		Bytes:    p.bytes.Load(),
		Invalid:  p.invalid.Load(),
		Captions: p.captions.Load(),
		Garbage:  p.garbage.Load(),
		LastPTS:  p.lastPTS.Load(),
		UptimeMs: time.Since(p.startTime).Milliseconds(),
	}
}

// item is what the parsing goroutine hands to the forwarding loop.
type item struct {
	info *media.TrackInfo
	pkt  *media.Packet
}

// Run reads a raw elementary stream of the given format from r until EOF
// or ctx is cancelled. Parsing and forwarding run concurrently, decoupled
// by a channel of media.PacketBufferSize packets.
func (p *Pipeline) Run(ctx context.Context, r io.Reader, format media.Format) error {
	src, err := newElementary(format, p.log)
	if err != nil {
		return err
	}
	src.setRemoveDialnorm(p.removeDialnorm)

	g, ctx := errgroup.WithContext(ctx)
	items := make(chan item, media.PacketBufferSize)

	g.Go(func() error {
		defer close(items)
		send := func(it item) error {
			select {
			case items <- it:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		buf := make([]byte, p.readSize)
		for {
			n, rerr := r.Read(buf)
			if n > 0 {
				if err := src.push(buf[:n]); err != nil {
					return err
				}
				if err := src.drain(send); err != nil {
					return err
				}
			}
			if errors.Is(rerr, io.EOF) {
				src.flush()
				return src.drain(send)
			}
			if rerr != nil {
				return fmt.Errorf("read %s: %w", p.name, rerr)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for it := range items {
			if it.info != nil {
				p.log.Info("track", "info", it.info.String())
				if err := p.sink.AddTrack(*it.info); err != nil {
					return err
				}
			}
			if err := p.forward(it.pkt); err != nil {
				return err
			}
		}
		return nil
	})

	err = g.Wait()
	p.garbage.Store(int64(src.garbage()))
	stats := p.Stats()
	p.log.Info("stream finished", "packets", stats.Packets, "bytes", stats.Bytes,
		"invalid", stats.Invalid, "garbage", stats.Garbage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pipeline) forward(pkt *media.Packet) error {
	if err := p.sink.WritePacket(pkt); err != nil {
		return err
	}
	p.packets.Add(1)
	p.bytes.Add(int64(len(pkt.Data)))
	if !pkt.Valid {
		p.invalid.Add(1)
	}
	p.lastPTS.Store(pkt.PTS)
	return nil
}
