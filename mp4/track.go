package mp4

import (
	"fmt"

	"github.com/zsiec/demuxkit/media"
)

// Edit is one entry of a track's edit list. MediaTime -1 marks an empty
// edit. SegmentDuration is in movie time scale units, MediaTime in media
// time scale units.
type Edit struct {
	SegmentDuration uint64
	MediaTime       int64
	Rate            uint32 // 16.16 fixed point
}

// TrackDescriptor is everything the atom walk learned about one track: its
// identity and format plus the raw sample tables. It is frozen once the walk
// finishes.
type TrackDescriptor struct {
	ID        uint32
	Kind      media.Kind
	Handler   Tag
	Codec     Tag
	TimeScale uint32
	Duration  uint64
	Language  string
	EditList  []Edit

	// CodecConfig is the codec configuration record (avcC, esds decoder
	// specific info, dac3 and so on) or, failing that, an opaque blob.
	CodecConfig []byte
	// ObjectType is the MPEG-4 object type indication from esds, if any.
	ObjectType uint8

	Width  int
	Height int
	Depth  int

	Channels         int
	SampleRate       int
	BitDepth         int
	SoundVersion     uint16
	SamplesPerPacket uint32
	BytesPerPacket   uint32
	BytesPerFrame    uint32
	BytesPerSample   uint32

	ChunkOffsets       []uint64
	SampleToChunk      []SampleToChunkEntry
	TimeToSample       []TimeToSampleEntry
	CompositionOffsets []CompositionOffsetEntry
	// SampleSize is the constant size of every sample when SampleSizes is
	// nil.
	SampleSize  uint32
	SampleSizes []uint32
	SampleCount uint32
	// SyncSamples lists 1-based keyframe sample numbers. Empty means every
	// sample is a keyframe.
	SyncSamples []uint32
}

var knownCodecs = func() map[media.Kind]map[Tag]bool {
	set := func(codes ...string) map[Tag]bool {
		m := make(map[Tag]bool, len(codes))
		for _, c := range codes {
			m[StringToTag(c)] = true
		}
		return m
	}
	return map[media.Kind]map[Tag]bool{
		media.KindAudio: set(
			"mp4a", "ac-3", "ec-3", "alac", "Opus", "fLaC", "dtsc", ".mp3",
			"twos", "sowt", "raw ", "lpcm", "in24", "in32", "fl32", "fl64",
			"ulaw", "alaw", "ima4", "samr", "QDM2", "MAC3", "MAC6",
		),
		media.KindVideo: set(
			"avc1", "avc3", "hvc1", "hev1", "mp4v", "av01", "vp08", "vp09",
			"jpeg", "mjpa", "mjpb", "apcn", "apch", "apcs", "apco", "ap4h",
			"s263", "h263", "SVQ1", "SVQ3", "rle ", "raw ", "2vuy", "dvc ",
			"dvcp", "dv5n", "dv5p", "cvid", "rpza", "smc ",
		),
		media.KindCaption: set("c608", "c708"),
	}
}()

// validate applies the coherence checks that decide whether a track is kept.
func (td *TrackDescriptor) validate() error {
	codecs, ok := knownCodecs[td.Kind]
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrUnknownHandler, td.Handler)
	}
	if !codecs[td.Codec] {
		return fmt.Errorf("%w: '%s' in %s track", ErrUnknownCodec, td.Codec, td.Kind)
	}
	switch td.Kind {
	case media.KindVideo:
		if td.Width == 0 || td.Height == 0 {
			return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, td.Width, td.Height)
		}
	case media.KindAudio:
		if td.Channels == 0 || td.SampleRate == 0 {
			return fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidAudioFormat, td.Channels, td.SampleRate)
		}
	}
	return nil
}

// Track is a usable track with its resolved sample table.
type Track struct {
	TrackDescriptor
	Samples *SampleTable
}

// Info returns the packet-level description of the track.
func (t *Track) Info() media.TrackInfo {
	return media.TrackInfo{
		ID:          int(t.ID),
		Kind:        t.Kind,
		Codec:       t.Codec.String(),
		TimeScale:   t.TimeScale,
		CodecConfig: t.CodecConfig,
		Width:       t.Width,
		Height:      t.Height,
		Channels:    t.Channels,
		SampleRate:  t.SampleRate,
		BitDepth:    t.BitDepth,
	}
}

// StartOffset returns the presentation offset in microseconds implied by the
// edit list: leading empty edits delay the track and the media time of the
// first real edit trims its start.
func (t *Track) StartOffset(movieTimeScale uint32) int64 {
	var off int64
	for _, e := range t.EditList {
		if e.MediaTime == -1 {
			off += media.Rescale(int64(e.SegmentDuration), movieTimeScale)
			continue
		}
		off -= media.Rescale(e.MediaTime, t.TimeScale)
		break
	}
	return off
}
