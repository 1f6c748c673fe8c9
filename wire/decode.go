package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/zsiec/ccx"

	"github.com/zsiec/demuxkit/media"
)

// Message is one decoded message. Exactly one of Track, Packet and Caption
// is set, matching Type.
type Message struct {
	Type    MsgType
	Track   *media.TrackInfo
	Packet  *media.Packet
	Caption *Caption
}

// Decoder reads messages written by an Encoder.
type Decoder struct {
	r quicvarint.Reader
}

// NewDecoder returns a Decoder reading from r. Readers that do not implement
// io.ByteReader are buffered.
func NewDecoder(r io.Reader) *Decoder {
	if qr, ok := r.(quicvarint.Reader); ok {
		return &Decoder{r: qr}
	}
	return &Decoder{r: bufio.NewReader(r)}
}

// Next decodes the next message. It returns io.EOF when the stream ends on a
// message boundary. Messages have no outer length, so after any other error
// the stream cannot be resynchronized.
func (d *Decoder) Next() (*Message, error) {
	typ, err := quicvarint.Read(d.r)
	if err != nil {
		return nil, err
	}
	f := &fieldReader{r: d.r, msg: MsgType(typ)}
	m := &Message{Type: MsgType(typ)}

	switch m.Type {
	case MsgTrack:
		m.Track = &media.TrackInfo{
			ID:          int(f.varint("id")),
			Kind:        media.Kind(f.varint("kind")),
			Codec:       string(f.byteString("codec")),
			TimeScale:   uint32(f.varint("timescale")),
			CodecConfig: f.byteString("codec_config"),
			Width:       int(f.varint("width")),
			Height:      int(f.varint("height")),
			Channels:    int(f.varint("channels")),
			SampleRate:  int(f.varint("sample_rate")),
			BitDepth:    int(f.varint("bit_depth")),
		}
	case MsgPacket:
		p := &media.Packet{
			TrackID:  int(f.varint("track_id")),
			PTS:      f.signed("pts"),
			Duration: f.signed("duration"),
		}
		flags := f.varint("flags")
		p.Keyframe = flags&flagKeyframe != 0
		p.Valid = flags&flagValid != 0
		p.Pos = f.signed("pos")
		p.Data = f.byteString("data")
		m.Packet = p
	case MsgCaption:
		c := &Caption{TrackID: int(f.varint("track_id")), Frame: &ccx.CaptionFrame{}}
		c.Frame.PTS = f.signed("pts")
		c.Frame.Channel = int(f.varint("channel"))
		c.Frame.Text = string(f.byteString("text"))
		if b := f.byteString("regions"); b != nil {
			rf := ccx.DeserializeCaptionFrame(b)
			if rf == nil || len(rf.Regions) == 0 {
				f.fail("regions", ErrMalformedRegions)
			} else {
				c.Frame.Regions = rf.Regions
			}
		}
		m.Caption = c
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownMessage, typ)
	}

	if f.err != nil {
		return nil, f.err
	}
	return m, nil
}

// fieldReader reads message fields, keeping the first error.
type fieldReader struct {
	r   quicvarint.Reader
	msg MsgType
	err error
}

func (f *fieldReader) varint(field string) uint64 {
	if f.err != nil {
		return 0
	}
	v, err := quicvarint.Read(f.r)
	if err != nil {
		f.fail(field, err)
		return 0
	}
	return v
}

func (f *fieldReader) signed(field string) int64 {
	u := f.varint(field)
	return int64(u>>1) ^ -int64(u&1)
}

func (f *fieldReader) byteString(field string) []byte {
	n := f.varint(field)
	if f.err != nil || n == 0 {
		return nil
	}
	if n > maxBytes {
		f.fail(field, fmt.Errorf("%w: %d bytes", ErrTooLarge, n))
		return nil
	}
	// The declared length is untrusted; grow with the data actually read.
	var b bytes.Buffer
	if _, err := io.CopyN(&b, f.r, int64(n)); err != nil {
		f.fail(field, err)
		return nil
	}
	return b.Bytes()
}

func (f *fieldReader) fail(field string, err error) {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	f.err = &ParseError{Msg: f.msg, Field: field, Err: err}
}
