package wire

import (
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/zsiec/ccx"

	"github.com/zsiec/demuxkit/media"
)

// MsgType identifies a message on the stream.
type MsgType uint64

// Message type IDs.
const (
	MsgTrack   MsgType = 0x01
	MsgPacket  MsgType = 0x02
	MsgCaption MsgType = 0x03
)

func (t MsgType) String() string {
	switch t {
	case MsgTrack:
		return "track"
	case MsgPacket:
		return "packet"
	case MsgCaption:
		return "caption"
	default:
		return fmt.Sprintf("msg(%#x)", uint64(t))
	}
}

// Packet flag bits.
const (
	flagKeyframe = 1 << 0
	flagValid    = 1 << 1
)

// maxBytes bounds a single decoded byte string.
const maxBytes = 1 << 26

// Caption is a decoded caption frame tagged with the track it came from.
type Caption struct {
	TrackID int
	Frame   *ccx.CaptionFrame
}

// Encoder writes messages to an io.Writer. Each message is written with a
// single Write call. An Encoder is not safe for concurrent use.
type Encoder struct {
	w   io.Writer
	buf []byte
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteTrack announces a track.
func (e *Encoder) WriteTrack(t media.TrackInfo) error {
	return e.flush(AppendTrack(e.buf[:0], t))
}

// WritePacket writes one packet.
func (e *Encoder) WritePacket(p *media.Packet) error {
	return e.flush(AppendPacket(e.buf[:0], p))
}

// WriteCaption writes one caption frame.
func (e *Encoder) WriteCaption(c Caption) error {
	return e.flush(AppendCaption(e.buf[:0], c))
}

func (e *Encoder) flush(buf []byte, err error) error {
	if err != nil {
		return err
	}
	e.buf = buf
	_, err = e.w.Write(buf)
	return err
}

// AppendTrack appends a track message to buf.
func AppendTrack(buf []byte, t media.TrackInfo) ([]byte, error) {
	if !inRange(t.ID, t.Width, t.Height, t.Channels, t.SampleRate, t.BitDepth) {
		return buf, fmt.Errorf("%w: track %d", ErrOutOfRange, t.ID)
	}
	buf = quicvarint.Append(buf, uint64(MsgTrack))
	buf = quicvarint.Append(buf, uint64(t.ID))
	buf = quicvarint.Append(buf, uint64(t.Kind))
	buf = appendVarIntBytes(buf, []byte(t.Codec))
	buf = quicvarint.Append(buf, uint64(t.TimeScale))
	buf = appendVarIntBytes(buf, t.CodecConfig)
	buf = quicvarint.Append(buf, uint64(t.Width))
	buf = quicvarint.Append(buf, uint64(t.Height))
	buf = quicvarint.Append(buf, uint64(t.Channels))
	buf = quicvarint.Append(buf, uint64(t.SampleRate))
	buf = quicvarint.Append(buf, uint64(t.BitDepth))
	return buf, nil
}

// AppendPacket appends a packet message to buf.
func AppendPacket(buf []byte, p *media.Packet) ([]byte, error) {
	if !inRange(p.TrackID) {
		return buf, fmt.Errorf("%w: track id %d", ErrOutOfRange, p.TrackID)
	}
	var flags uint64
	if p.Keyframe {
		flags |= flagKeyframe
	}
	if p.Valid {
		flags |= flagValid
	}
	var err error
	buf = quicvarint.Append(buf, uint64(MsgPacket))
	buf = quicvarint.Append(buf, uint64(p.TrackID))
	if buf, err = appendSigned(buf, p.PTS); err != nil {
		return buf, err
	}
	if buf, err = appendSigned(buf, p.Duration); err != nil {
		return buf, err
	}
	buf = quicvarint.Append(buf, flags)
	if buf, err = appendSigned(buf, p.Pos); err != nil {
		return buf, err
	}
	buf = appendVarIntBytes(buf, p.Data)
	return buf, nil
}

// AppendCaption appends a caption message to buf.
func AppendCaption(buf []byte, c Caption) ([]byte, error) {
	if !inRange(c.TrackID, c.Frame.Channel) {
		return buf, fmt.Errorf("%w: caption track %d channel %d", ErrOutOfRange, c.TrackID, c.Frame.Channel)
	}
	var err error
	buf = quicvarint.Append(buf, uint64(MsgCaption))
	buf = quicvarint.Append(buf, uint64(c.TrackID))
	if buf, err = appendSigned(buf, c.Frame.PTS); err != nil {
		return buf, err
	}
	buf = quicvarint.Append(buf, uint64(c.Frame.Channel))
	buf = appendVarIntBytes(buf, []byte(c.Frame.Text))
	var regions []byte
	if len(c.Frame.Regions) > 0 {
		regions = c.Frame.Serialize()
	}
	buf = appendVarIntBytes(buf, regions)
	return buf, nil
}

func inRange(vals ...int) bool {
	for _, v := range vals {
		if v < 0 || uint64(v) > quicvarint.Max {
			return false
		}
	}
	return true
}

// appendSigned zigzag-encodes v.
func appendSigned(buf []byte, v int64) ([]byte, error) {
	u := uint64(v<<1) ^ uint64(v>>63)
	if u > quicvarint.Max {
		return buf, fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}
	return quicvarint.Append(buf, u), nil
}

func appendVarIntBytes(buf []byte, data []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(data)))
	return append(buf, data...)
}
