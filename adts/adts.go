// Package adts parses AAC audio carried in ADTS framing, the second sync-word
// elementary stream format accepted by the ingest path.
package adts

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidADTS is returned when the ADTS sync word or header is malformed.
	ErrInvalidADTS = errors.New("adts: invalid header")
	// ErrShortHeader is returned by DecodeHeader when fewer than 7 bytes are
	// available.
	ErrShortHeader = errors.New("adts: header truncated")
	// ErrEmptyQueue is returned by Pop when no completed frame is available.
	ErrEmptyQueue = errors.New("adts: no frame available")
	// ErrFlushed is returned by Push after Flush has been called.
	ErrFlushed = errors.New("adts: push after flush")
	// ErrNoFrames is returned by Probe when the probe window holds no run of
	// consecutive frames.
	ErrNoFrames = errors.New("adts: no consecutive frames found")
)

// AAC sample rate index table (ISO 14496-3)
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

const (
	minHeaderSize     = 7
	samplesPerBlock   = 1024
	headerSizeNoCRC   = 7
	headerSizeWithCRC = 9
)

// Header holds the fixed and variable ADTS header fields.
type Header struct {
	Profile         uint8 // audio object type minus one
	SampleRateIndex uint8
	SampleRate      int
	ChannelConfig   uint8
	FrameLength     int // header + payload
	HeaderSize      int // 7, or 9 with CRC
	RawBlocks       int // raw data blocks in the frame
}

// Samples returns the number of PCM samples per channel in the frame.
func (h *Header) Samples() int {
	return h.RawBlocks * samplesPerBlock
}

// AudioSpecificConfig returns the two-byte MPEG-4 AudioSpecificConfig that
// describes the stream.
func (h *Header) AudioSpecificConfig() []byte {
	objectType := h.Profile + 1
	return []byte{
		objectType<<3 | h.SampleRateIndex>>1,
		h.SampleRateIndex<<7 | h.ChannelConfig<<3,
	}
}

// DecodeHeader decodes the ADTS header at the start of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < minHeaderSize {
		return Header{}, ErrShortHeader
	}
	if buf[0] != 0xFF || buf[1]&0xF6 != 0xF0 {
		return Header{}, ErrInvalidADTS
	}

	h := Header{HeaderSize: headerSizeNoCRC}
	if buf[1]&0x01 == 0 {
		h.HeaderSize = headerSizeWithCRC
	}
	h.Profile = buf[2] >> 6
	h.SampleRateIndex = (buf[2] >> 2) & 0x0F
	if int(h.SampleRateIndex) >= len(aacSampleRates) {
		return Header{}, fmt.Errorf("%w: sample rate index %d", ErrInvalidADTS, h.SampleRateIndex)
	}
	h.SampleRate = aacSampleRates[h.SampleRateIndex]
	h.ChannelConfig = ((buf[2] & 0x01) << 2) | ((buf[3] >> 6) & 0x03)
	h.FrameLength = int(buf[3]&0x03)<<11 |
		int(buf[4])<<3 |
		int(buf[5]>>5)
	if h.FrameLength <= h.HeaderSize {
		return Header{}, fmt.Errorf("%w: frame length %d", ErrInvalidADTS, h.FrameLength)
	}
	h.RawBlocks = int(buf[6]&0x03) + 1
	return h, nil
}

// Frame is one ADTS frame.
type Frame struct {
	Header

	Data           []byte // complete ADTS frame (header + payload)
	StreamPosition uint64
	GarbageSize    uint64
}

// Payload returns the raw AAC data following the header.
func (f *Frame) Payload() []byte {
	return f.Data[f.HeaderSize:]
}

// ParseADTS parses a complete ADTS byte buffer into individual frames. Bytes
// between frames are skipped and a truncated trailing frame is ignored. The
// returned frames alias data.
func ParseADTS(data []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0
	var skipped uint64

	for offset < len(data) {
		if len(data)-offset < minHeaderSize {
			break
		}
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			skipped++
			continue
		}

		h, err := DecodeHeader(data[offset:])
		if err != nil {
			return frames, err
		}
		if offset+h.FrameLength > len(data) {
			break
		}

		frames = append(frames, Frame{
			Header:         h,
			Data:           data[offset : offset+h.FrameLength],
			StreamPosition: uint64(offset),
			GarbageSize:    skipped,
		})
		skipped = 0
		offset += h.FrameLength
	}

	return frames, nil
}
