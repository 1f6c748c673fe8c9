// Package captions decodes QuickTime c608 closed caption samples into text
// frames.
//
// A c608 sample is a sequence of atoms: cdat holds CEA-608 byte pairs for
// field 1 (CC1 and CC2) and cdt2 holds the pairs for field 2 (CC3 and CC4).
package captions

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/ccx"
)

// ErrMalformedSample is returned when a sample's atom sizes do not fit it.
var ErrMalformedSample = errors.New("captions: malformed c608 sample")

const atomHeaderSize = 8

type fieldState struct {
	channel     int // data channel selected by the last control code
	lastCtrl    [2]byte
	lastWasCtrl bool
}

// Decoder turns c608 samples of one track into caption frames. It keeps
// decoder state across samples and is not safe for concurrent use.
type Decoder struct {
	log    *slog.Logger
	decs   map[int]*ccx.CEA608Decoder
	fields [2]fieldState
}

// NewDecoder returns a Decoder with one CEA-608 decoder per channel. A nil
// logger falls back to slog.Default.
func NewDecoder(log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{
		log: log.With("component", "captions"),
		decs: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
		fields: [2]fieldState{{channel: 1}, {channel: 3}},
	}
}

// Decode feeds one sample presented at pts and returns the caption frames
// whose displayed text changed.
func (d *Decoder) Decode(sample []byte, pts int64) ([]*ccx.CaptionFrame, error) {
	var frames []*ccx.CaptionFrame
	for pos := 0; pos < len(sample); {
		if len(sample)-pos < atomHeaderSize {
			return frames, fmt.Errorf("%w: %d trailing bytes", ErrMalformedSample, len(sample)-pos)
		}
		size := int(binary.BigEndian.Uint32(sample[pos:]))
		if size < atomHeaderSize || size > len(sample)-pos {
			return frames, fmt.Errorf("%w: atom size %d at %d", ErrMalformedSample, size, pos)
		}
		payload := sample[pos+atomHeaderSize : pos+size]
		switch string(sample[pos+4 : pos+8]) {
		case "cdat":
			frames = d.decodePairs(frames, 0, payload, pts)
		case "cdt2":
			frames = d.decodePairs(frames, 1, payload, pts)
		default:
			d.log.Debug("skipping caption atom", "type", string(sample[pos+4:pos+8]), "size", size)
		}
		pos += size
	}
	return frames, nil
}

func (d *Decoder) decodePairs(frames []*ccx.CaptionFrame, field int, data []byte, pts int64) []*ccx.CaptionFrame {
	fs := &d.fields[field]
	for i := 0; i+1 < len(data); i += 2 {
		cc1, cc2 := data[i]&0x7F, data[i+1]&0x7F
		if cc1 == 0 && cc2 == 0 {
			continue
		}

		// Control codes are sent twice; the repeat is dropped.
		if cc1 >= 0x10 && cc1 <= 0x1F {
			cp := [2]byte{cc1, cc2}
			if fs.lastWasCtrl && fs.lastCtrl == cp {
				fs.lastWasCtrl = false
				continue
			}
			fs.lastCtrl = cp
			fs.lastWasCtrl = true
			fs.channel = 2*field + 1
			if cc1&0x08 != 0 {
				fs.channel++
			}
		} else {
			fs.lastWasCtrl = false
		}

		dec := d.decs[fs.channel]
		text := dec.Decode(cc1, cc2)
		if text == "" {
			continue
		}
		frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: fs.channel}
		frame.Regions = dec.StyledRegions()
		frames = append(frames, frame)
	}
	return frames
}
