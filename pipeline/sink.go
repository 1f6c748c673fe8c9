package pipeline

import (
	"io"

	"github.com/zsiec/ccx"

	"github.com/zsiec/demuxkit/media"
	"github.com/zsiec/demuxkit/wire"
)

// WireSink encodes everything it receives as a wire message stream.
type WireSink struct {
	enc *wire.Encoder
}

// NewWireSink returns a WireSink writing to w.
func NewWireSink(w io.Writer) *WireSink {
	return &WireSink{enc: wire.NewEncoder(w)}
}

func (s *WireSink) AddTrack(info media.TrackInfo) error {
	return s.enc.WriteTrack(info)
}

func (s *WireSink) WritePacket(p *media.Packet) error {
	return s.enc.WritePacket(p)
}

func (s *WireSink) WriteCaption(trackID int, frame *ccx.CaptionFrame) error {
	return s.enc.WriteCaption(wire.Caption{TrackID: trackID, Frame: frame})
}
