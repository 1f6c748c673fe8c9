package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/zsiec/demuxkit/captions"
	"github.com/zsiec/demuxkit/media"
	"github.com/zsiec/demuxkit/mp4"
)

// RunFile demuxes every track of f in decode order. Samples of c608 caption
// tracks are also decoded and handed to the sink when it implements
// CaptionSink. Cancellation is checked between packets.
func (p *Pipeline) RunFile(ctx context.Context, f *mp4.File) error {
	for _, d := range f.Dropped {
		p.log.Warn("track not demuxed", "track", d.ID, "reason", d.Reason)
	}

	dmx := mp4.NewDemuxer(f)
	for _, info := range dmx.Tracks() {
		p.log.Info("track", "info", info.String())
		if err := p.sink.AddTrack(info); err != nil {
			return err
		}
	}

	cs, _ := p.sink.(CaptionSink)
	decoders := make(map[int]*captions.Decoder)
	if cs != nil {
		for _, info := range dmx.Tracks() {
			if info.Kind == media.KindCaption && info.Codec == "c608" {
				decoders[info.ID] = captions.NewDecoder(p.log)
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		pkt, err := dmx.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := p.forward(pkt); err != nil {
			return err
		}

		dec := decoders[pkt.TrackID]
		if dec == nil {
			continue
		}
		frames, err := dec.Decode(pkt.Data, pkt.PTS)
		if err != nil {
			p.log.Debug("bad caption sample", "track", pkt.TrackID, "pts", pkt.PTS, "error", err)
		}
		for _, fr := range frames {
			if err := cs.WriteCaption(pkt.TrackID, fr); err != nil {
				return err
			}
			p.captions.Add(1)
		}
	}

	stats := p.Stats()
	p.log.Info("file finished", "packets", stats.Packets, "bytes", stats.Bytes, "captions", stats.Captions)
	return nil
}
