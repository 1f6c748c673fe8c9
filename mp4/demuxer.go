package mp4

import (
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/demuxkit/media"
)

type trackCursor struct {
	track  *Track
	next   int
	offset int64 // edit list offset in microseconds
}

func (c *trackCursor) done() bool { return c.next >= c.track.Samples.Len() }

func (c *trackCursor) time() int64 {
	return media.Rescale(c.track.Samples.At(c.next).DTS, c.track.TimeScale) + c.offset
}

// Demuxer reads packets from all tracks of a File, interleaved by decode
// time. It is not safe for concurrent use.
type Demuxer struct {
	src     Source
	cursors []*trackCursor
}

// NewDemuxer creates a demuxer over f's tracks.
func NewDemuxer(f *File) *Demuxer {
	d := &Demuxer{src: f.src}
	for _, t := range f.Tracks {
		d.cursors = append(d.cursors, &trackCursor{track: t, offset: t.StartOffset(f.TimeScale)})
	}
	return d
}

// Tracks returns the descriptions of the demuxed tracks.
func (d *Demuxer) Tracks() []media.TrackInfo {
	infos := make([]media.TrackInfo, len(d.cursors))
	for i, c := range d.cursors {
		infos[i] = c.track.Info()
	}
	return infos
}

// ReadPacket returns the next packet in decode-time order across tracks, or
// io.EOF once every track is exhausted.
func (d *Demuxer) ReadPacket() (*media.Packet, error) {
	var chosen *trackCursor
	for _, c := range d.cursors {
		if c.done() {
			continue
		}
		if chosen == nil || c.time() < chosen.time() {
			chosen = c
		}
	}
	if chosen == nil {
		return nil, io.EOF
	}

	t := chosen.track
	s := t.Samples.At(chosen.next)
	chosen.next++

	data := make([]byte, s.Size)
	if err := readFull(d.src, data, int64(s.Offset)); err != nil {
		if errors.Is(err, ErrShortRecord) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("mp4: track %d sample at %d: %w", t.ID, s.Offset, err)
	}

	return &media.Packet{
		TrackID:  int(t.ID),
		PTS:      media.Rescale(s.PTS, t.TimeScale) + chosen.offset,
		Duration: media.Rescale(s.Duration, t.TimeScale),
		Keyframe: s.Keyframe,
		Data:     data,
		Pos:      int64(s.Offset),
		Valid:    true,
	}, nil
}
