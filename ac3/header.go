package ac3

import "fmt"

const (
	syncByte0 = 0x0B
	syncByte1 = 0x77

	// minDecodeSize is the number of bytes DecodeHeader inspects. It covers
	// the longest AC-3 bit stream information prefix up to dialnorm.
	minDecodeSize = 8

	headerLengthAC3  = 7
	headerLengthEAC3 = 6

	samplesPerBlock = 256
)

// FrameType is the E-AC-3 stream type. AC-3 frames are always independent.
type FrameType uint8

const (
	FrameTypeIndependent FrameType = 0
	FrameTypeDependent   FrameType = 1
	FrameTypeAC3Convert  FrameType = 2
	FrameTypeReserved    FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeIndependent:
		return "independent"
	case FrameTypeDependent:
		return "dependent"
	case FrameTypeAC3Convert:
		return "ac3-convert"
	default:
		return "reserved"
	}
}

var sampleRates = [3]int{48000, 44100, 32000}

// reducedSampleRates apply when an E-AC-3 frame signals fscod 3.
var reducedSampleRates = [3]int{24000, 22050, 16000}

// bitRates in kbit/s indexed by frmsizecod/2.
var bitRates = [19]int{
	32, 40, 48, 56, 64, 80, 96, 112, 128, 160,
	192, 224, 256, 320, 384, 448, 512, 576, 640,
}

// channelCounts indexed by acmod, excluding LFE.
var channelCounts = [8]int{2, 1, 2, 3, 3, 4, 4, 5}

var blocksPerFrame = [4]int{1, 2, 3, 6}

// FrameHeader holds the fixed fields of an AC-3 or E-AC-3 frame header.
type FrameHeader struct {
	BSID                uint8
	SampleRate          int
	BitRate             int
	FrameSize           int // bytes, including header and checksums
	Samples             int // PCM samples per channel carried by the frame
	FrameType           FrameType
	SubstreamID         uint8
	ChannelMode         uint8 // acmod
	LFE                 bool
	Channels            int // including LFE
	DialogNormalization uint8

	// AC-3 only.
	FrameSizeCode  uint8
	BSMod          uint8
	CenterMixLevel uint8
	SurroundMix    uint8
	DolbySurround  uint8
	CRC1           uint16
}

// IsEAC3 reports whether the header belongs to an E-AC-3 frame.
func (h *FrameHeader) IsEAC3() bool {
	return h.BSID > 10
}

// Codec returns "AC-3" or "E-AC-3".
func (h *FrameHeader) Codec() string {
	if h.IsEAC3() {
		return "E-AC-3"
	}
	return "AC-3"
}

// HeaderLength is the number of leading bytes Marshal reproduces.
func (h *FrameHeader) HeaderLength() int {
	if h.IsEAC3() {
		return headerLengthEAC3
	}
	return headerLengthAC3
}

func (h FrameHeader) String() string {
	return fmt.Sprintf("%s %dHz %dch %d bytes %d samples type=%s substream=%d",
		h.Codec(), h.SampleRate, h.Channels, h.FrameSize, h.Samples, h.FrameType, h.SubstreamID)
}

// DecodeHeader decodes the frame header at the start of buf. It needs at
// least 8 bytes; with fewer it returns ErrShortHeader so that a streaming
// caller can wait for more input. Frame types with a reserved value are
// decoded; the caller marks such frames invalid.
func DecodeHeader(buf []byte) (FrameHeader, error) {
	if len(buf) < 2 {
		return FrameHeader{}, ErrShortHeader
	}
	if buf[0] != syncByte0 || buf[1] != syncByte1 {
		return FrameHeader{}, ErrNoSync
	}
	if len(buf) < minDecodeSize {
		return FrameHeader{}, ErrShortHeader
	}

	bsid := buf[5] >> 3
	switch {
	case bsid <= 8:
		return decodeAC3(buf[:minDecodeSize])
	case bsid > 10 && bsid <= 16:
		return decodeEAC3(buf[:minDecodeSize])
	default:
		return FrameHeader{}, fmt.Errorf("%w: bsid %d", ErrInvalidHeader, bsid)
	}
}

func decodeAC3(buf []byte) (FrameHeader, error) {
	var h FrameHeader
	r := newBitReader(buf)
	r.skip(16)
	h.CRC1 = uint16(r.readUint32(16))
	fscod := r.readUint8(2)
	if fscod == 3 {
		return FrameHeader{}, fmt.Errorf("%w: fscod 3", ErrInvalidHeader)
	}
	h.FrameSizeCode = r.readUint8(6)
	if h.FrameSizeCode > 37 {
		return FrameHeader{}, fmt.Errorf("%w: frmsizecod %d", ErrInvalidHeader, h.FrameSizeCode)
	}
	h.BSID = r.readUint8(5)
	h.BSMod = r.readUint8(3)
	h.ChannelMode = r.readUint8(3)
	if h.ChannelMode&1 != 0 && h.ChannelMode != 1 {
		h.CenterMixLevel = r.readUint8(2)
	}
	if h.ChannelMode&4 != 0 {
		h.SurroundMix = r.readUint8(2)
	}
	if h.ChannelMode == 2 {
		h.DolbySurround = r.readUint8(2)
	}
	h.LFE = r.readBit()
	h.DialogNormalization = r.readUint8(5)
	if r.overflow {
		return FrameHeader{}, ErrShortHeader
	}

	h.SampleRate = sampleRates[fscod]
	h.BitRate = bitRates[h.FrameSizeCode>>1] * 1000
	h.FrameSize = ac3FrameSize(fscod, h.FrameSizeCode)
	h.Samples = 6 * samplesPerBlock
	h.FrameType = FrameTypeIndependent
	h.Channels = channelCounts[h.ChannelMode]
	if h.LFE {
		h.Channels++
	}
	return h, nil
}

// ac3FrameSize returns the AC-3 frame length in bytes. At 44.1 kHz odd size
// codes carry one padding word.
func ac3FrameSize(fscod, frmsizecod uint8) int {
	kbps := bitRates[frmsizecod>>1]
	switch fscod {
	case 0:
		return kbps * 4
	case 1:
		return (kbps*320/147 + int(frmsizecod&1)) * 2
	default:
		return kbps * 6
	}
}

func decodeEAC3(buf []byte) (FrameHeader, error) {
	var h FrameHeader
	r := newBitReader(buf)
	r.skip(16)
	h.FrameType = FrameType(r.readUint8(2))
	h.SubstreamID = r.readUint8(3)
	h.FrameSize = (int(r.readUint32(11)) + 1) * 2
	if h.FrameSize <= minDecodeSize {
		return FrameHeader{}, fmt.Errorf("%w: frame size %d", ErrInvalidHeader, h.FrameSize)
	}

	blocks := 6
	fscod := r.readUint8(2)
	if fscod == 3 {
		fscod2 := r.readUint8(2)
		if fscod2 == 3 {
			return FrameHeader{}, fmt.Errorf("%w: fscod2 3", ErrInvalidHeader)
		}
		h.SampleRate = reducedSampleRates[fscod2]
	} else {
		blocks = blocksPerFrame[r.readUint8(2)]
		h.SampleRate = sampleRates[fscod]
	}

	h.ChannelMode = r.readUint8(3)
	h.LFE = r.readBit()
	h.BSID = r.readUint8(5)
	h.DialogNormalization = r.readUint8(5)
	if r.overflow {
		return FrameHeader{}, ErrShortHeader
	}

	h.Samples = blocks * samplesPerBlock
	h.BitRate = h.FrameSize * 8 * h.SampleRate / h.Samples
	h.Channels = channelCounts[h.ChannelMode]
	if h.LFE {
		h.Channels++
	}
	return h, nil
}

// Marshal re-synthesizes the first HeaderLength bytes of the frame from the
// header fields.
func (h FrameHeader) Marshal() []byte {
	return h.marshal()[:h.HeaderLength()]
}

// marshal encodes the full decoded prefix (through dialnorm) into
// minDecodeSize bytes, leaving trailing bits zero.
func (h FrameHeader) marshal() []byte {
	w := newBitWriter(minDecodeSize)
	w.putUint32(8, syncByte0)
	w.putUint32(8, syncByte1)
	if h.IsEAC3() {
		h.marshalEAC3(w)
	} else {
		h.marshalAC3(w)
	}
	return w.bytes()
}

func (h FrameHeader) marshalAC3(w *bitWriter) {
	w.putUint32(16, uint32(h.CRC1))
	w.putUint32(2, uint32(indexOf(sampleRates[:], h.SampleRate)))
	w.putUint32(6, uint32(h.FrameSizeCode))
	w.putUint32(5, uint32(h.BSID))
	w.putUint32(3, uint32(h.BSMod))
	w.putUint32(3, uint32(h.ChannelMode))
	if h.ChannelMode&1 != 0 && h.ChannelMode != 1 {
		w.putUint32(2, uint32(h.CenterMixLevel))
	}
	if h.ChannelMode&4 != 0 {
		w.putUint32(2, uint32(h.SurroundMix))
	}
	if h.ChannelMode == 2 {
		w.putUint32(2, uint32(h.DolbySurround))
	}
	w.putBit(h.LFE)
	w.putUint32(5, uint32(h.DialogNormalization))
}

func (h FrameHeader) marshalEAC3(w *bitWriter) {
	w.putUint32(2, uint32(h.FrameType))
	w.putUint32(3, uint32(h.SubstreamID))
	w.putUint32(11, uint32(h.FrameSize/2-1))
	if i := indexOf(reducedSampleRates[:], h.SampleRate); i >= 0 {
		w.putUint32(2, 3)
		w.putUint32(2, uint32(i))
	} else {
		w.putUint32(2, uint32(indexOf(sampleRates[:], h.SampleRate)))
		w.putUint32(2, uint32(indexOf(blocksPerFrame[:], h.Samples/samplesPerBlock)))
	}
	w.putUint32(3, uint32(h.ChannelMode))
	w.putBit(h.LFE)
	w.putUint32(5, uint32(h.BSID))
	w.putUint32(5, uint32(h.DialogNormalization))
}

func indexOf(values []int, v int) int {
	for i, x := range values {
		if x == v {
			return i
		}
	}
	return -1
}
