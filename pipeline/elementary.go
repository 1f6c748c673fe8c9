package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/demuxkit/ac3"
	"github.com/zsiec/demuxkit/adts"
	"github.com/zsiec/demuxkit/media"
)

// elementaryTrackID is the track ID given to a raw elementary stream.
const elementaryTrackID = 1

// elementary adapts a sync-word parser to the pipeline.
type elementary interface {
	push(data []byte) error
	flush()
	// drain hands every completed frame to send as a packet, preceded by a
	// track description whenever the stream format changes.
	drain(send func(item) error) error
	garbage() uint64
	setRemoveDialnorm(on bool)
}

func newElementary(format media.Format, log *slog.Logger) (elementary, error) {
	switch format {
	case media.FormatAC3:
		return &ac3Stream{p: ac3.NewParser(log)}, nil
	case media.FormatADTS:
		return &adtsStream{p: adts.NewParser(log)}, nil
	}
	return nil, fmt.Errorf("pipeline: unsupported stream format %v", format)
}

// clock derives presentation times from the running sample count. A sample
// rate change rebases the count so earlier frames keep their timing.
type clock struct {
	base    int64 // microseconds
	samples int64
	rate    int
}

func (c *clock) advance(rate, n int) (pts, dur int64) {
	if rate != c.rate {
		c.base += media.Rescale(c.samples, uint32(c.rate))
		c.samples = 0
		c.rate = rate
	}
	pts = c.base + media.Rescale(c.samples, uint32(rate))
	c.samples += int64(n)
	return pts, media.Rescale(int64(n), uint32(rate))
}

// formatTracker remembers the last announced track description.
type formatTracker struct {
	last *media.TrackInfo
}

// changed returns info if it differs from the last announced description.
func (t *formatTracker) changed(info media.TrackInfo) *media.TrackInfo {
	if l := t.last; l != nil && l.Codec == info.Codec && l.SampleRate == info.SampleRate &&
		l.Channels == info.Channels && bytes.Equal(l.CodecConfig, info.CodecConfig) {
		return nil
	}
	t.last = &info
	return &info
}

type ac3Stream struct {
	p              *ac3.Parser
	clock          clock
	format         formatTracker
	garbageBytes   uint64
	removeDialnorm bool
}

func (s *ac3Stream) push(data []byte) error { return s.p.Push(data) }
func (s *ac3Stream) flush()                 { s.p.Flush() }
func (s *ac3Stream) garbage() uint64        { return s.garbageBytes }
func (s *ac3Stream) setRemoveDialnorm(on bool) {
	s.removeDialnorm = on
}

func (s *ac3Stream) drain(send func(item) error) error {
	for {
		f, err := s.p.Pop()
		if errors.Is(err, ac3.ErrEmptyQueue) {
			return nil
		}
		if err != nil {
			return err
		}
		s.garbageBytes += f.GarbageSize

		if s.removeDialnorm && f.Valid {
			ac3.RemoveDialogNormalization(f.Data)
			for i := range f.Dependents {
				if f.Dependents[i].Valid {
					ac3.RemoveDialogNormalization(f.Dependents[i].Data)
				}
			}
		}

		codec := "ac-3"
		if f.IsEAC3() {
			codec = "ec-3"
		}
		info := s.format.changed(media.TrackInfo{
			ID:         elementaryTrackID,
			Kind:       media.KindAudio,
			Codec:      codec,
			TimeScale:  uint32(f.SampleRate),
			Channels:   f.Channels,
			SampleRate: f.SampleRate,
		})
		pts, dur := s.clock.advance(f.SampleRate, f.Samples)
		pkt := &media.Packet{
			TrackID:  elementaryTrackID,
			PTS:      pts,
			Duration: dur,
			Keyframe: true,
			Data:     f.Payload(),
			Pos:      int64(f.StreamPosition),
			Valid:    f.AllValid(),
		}
		if err := send(item{info: info, pkt: pkt}); err != nil {
			return err
		}
	}
}

type adtsStream struct {
	p            *adts.Parser
	clock        clock
	format       formatTracker
	garbageBytes uint64
}

func (s *adtsStream) push(data []byte) error { return s.p.Push(data) }
func (s *adtsStream) flush()                 { s.p.Flush() }
func (s *adtsStream) garbage() uint64        { return s.garbageBytes }
func (s *adtsStream) setRemoveDialnorm(bool) {}

func (s *adtsStream) drain(send func(item) error) error {
	for {
		f, err := s.p.Pop()
		if errors.Is(err, adts.ErrEmptyQueue) {
			return nil
		}
		if err != nil {
			return err
		}
		s.garbageBytes += f.GarbageSize

		info := s.format.changed(media.TrackInfo{
			ID:          elementaryTrackID,
			Kind:        media.KindAudio,
			Codec:       "mp4a",
			TimeScale:   uint32(f.SampleRate),
			CodecConfig: f.AudioSpecificConfig(),
			Channels:    int(f.ChannelConfig),
			SampleRate:  f.SampleRate,
		})
		pts, dur := s.clock.advance(f.SampleRate, f.Samples())
		pkt := &media.Packet{
			TrackID:  elementaryTrackID,
			PTS:      pts,
			Duration: dur,
			Keyframe: true,
			Data:     f.Payload(),
			Pos:      int64(f.StreamPosition),
			Valid:    true,
		}
		if err := send(item{info: info, pkt: pkt}); err != nil {
			return err
		}
	}
}
