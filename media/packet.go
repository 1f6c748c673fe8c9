// Package media defines the packet descriptors that both demux paths emit,
// from raw elementary-stream parsing and from container sample tables, to the
// downstream packetizing layer.
package media

import "fmt"

// PacketBufferSize is the channel capacity used between a demuxer (producer)
// and a sink (consumer). Sized for ~2.5s of 48 kHz AC-3.
const PacketBufferSize = 120

// Kind classifies a track by the type of media it carries.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAudio
	KindVideo
	KindCaption
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindCaption:
		return "caption"
	default:
		return "unknown"
	}
}

// TrackInfo describes one elementary stream. Audio tracks fill Channels,
// SampleRate and BitDepth; video tracks fill Width and Height.
type TrackInfo struct {
	ID          int
	Kind        Kind
	Codec       string // codec fourcc such as "ac-3", "ec-3", "mp4a", "avc1"
	TimeScale   uint32
	CodecConfig []byte

	Width  int
	Height int

	Channels   int
	SampleRate int
	BitDepth   int
}

func (t TrackInfo) String() string {
	switch t.Kind {
	case KindAudio:
		return fmt.Sprintf("#%d %s %s %dch %dHz", t.ID, t.Kind, t.Codec, t.Channels, t.SampleRate)
	case KindVideo:
		return fmt.Sprintf("#%d %s %s %dx%d", t.ID, t.Kind, t.Codec, t.Width, t.Height)
	default:
		return fmt.Sprintf("#%d %s %s", t.ID, t.Kind, t.Codec)
	}
}

// Packet is one timed access unit. Timestamps are in microseconds.
type Packet struct {
	TrackID  int
	PTS      int64
	Duration int64
	Keyframe bool
	Data     []byte

	// Pos is the absolute byte offset of Data in the source.
	Pos int64
	// Valid is false when the source flagged the unit as damaged.
	Valid bool
}

// Rescale converts v ticks of a clock running at timescale Hz to
// microseconds without overflowing for long durations.
func Rescale(v int64, timescale uint32) int64 {
	if timescale == 0 {
		return 0
	}
	ts := int64(timescale)
	return v/ts*1_000_000 + v%ts*1_000_000/ts
}
