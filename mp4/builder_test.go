package mp4

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

func u16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
func u64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

// box builds an atom with a 32-bit size.
func box(typ string, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)
	out := u32(uint32(atomHeaderSize + len(body)))
	out = append(out, typ...)
	return append(out, body...)
}

// extBox builds an atom with a 64-bit extended size.
func extBox(typ string, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)
	out := u32(1)
	out = append(out, typ...)
	out = append(out, u64(uint64(extendedAtomHeaderSize+len(body)))...)
	return append(out, body...)
}

// zeroSizeBox builds an atom whose size field is 0.
func zeroSizeBox(typ string, payload ...[]byte) []byte {
	out := append(u32(0), typ...)
	return append(out, bytes.Join(payload, nil)...)
}

// record returns a zeroed record of size bytes with fields written at the
// given offsets.
func record(size int, fields map[int][]byte) []byte {
	b := make([]byte, size)
	for off, v := range fields {
		copy(b[off:], v)
	}
	return b
}

func table(count int, entries ...[]byte) []byte {
	return append(append(u32(0), u32(uint32(count))...), bytes.Join(entries, nil)...)
}

type testTrack struct {
	id        uint32
	handler   string
	codec     string
	timescale uint32

	width, height uint16
	channels      uint16
	bits          uint16
	rate          uint32
	config        []byte // extension atom inside the sample entry

	chunkOffsets []uint64
	stsc         [][3]uint32 // 1-based first chunk, samples per chunk, description
	stts         [][2]uint32
	sizes        []uint32
	constSize    uint32
	stss         []uint32
	edits        [][2]int64 // segment duration, media time
}

func (tt testTrack) sampleEntry() []byte {
	base := func(size int) []byte {
		return record(size, map[int][]byte{4: []byte(tt.codec), 14: u16(1)})
	}
	switch tt.handler {
	case "soun":
		e := base(soundEntrySizeV0)
		copy(e[24:], u16(tt.channels))
		copy(e[26:], u16(tt.bits))
		copy(e[32:], u32(tt.rate<<16))
		e = append(e, tt.config...)
		copy(e, u32(uint32(len(e))))
		return e
	case "vide":
		e := base(videoEntrySize)
		copy(e[32:], u16(tt.width))
		copy(e[34:], u16(tt.height))
		copy(e[82:], u16(24))
		e = append(e, tt.config...)
		copy(e, u32(uint32(len(e))))
		return e
	default:
		e := base(sampleEntryBaseSize)
		copy(e, u32(uint32(len(e))))
		return e
	}
}

func (tt testTrack) stbl(extra ...[]byte) []byte {
	var stsc, stts, stss, sizes [][]byte
	for _, e := range tt.stsc {
		stsc = append(stsc, u32(e[0]), u32(e[1]), u32(e[2]))
	}
	for _, e := range tt.stts {
		stts = append(stts, u32(e[0]), u32(e[1]))
	}
	for _, n := range tt.stss {
		stss = append(stss, u32(n))
	}
	for _, n := range tt.sizes {
		sizes = append(sizes, u32(n))
	}

	var co [][]byte
	offsets := "stco"
	for _, o := range tt.chunkOffsets {
		if o > 0xFFFFFFFF {
			offsets = "co64"
		}
	}
	for _, o := range tt.chunkOffsets {
		if offsets == "co64" {
			co = append(co, u64(o))
		} else {
			co = append(co, u32(uint32(o)))
		}
	}

	count := uint32(len(tt.sizes))
	if tt.sizes == nil {
		count = 0
	}
	children := [][]byte{
		box("stsd", table(1, tt.sampleEntry())),
		box("stts", table(len(tt.stts), stts...)),
		box("stsc", table(len(tt.stsc), stsc...)),
		box("stsz", u32(0), u32(tt.constSize), u32(count), bytes.Join(sizes, nil)),
		box(offsets, table(len(co), co...)),
	}
	if tt.stss != nil {
		children = append(children, box("stss", table(len(stss), stss...)))
	}
	children = append(children, extra...)
	return box("stbl", children...)
}

func (tt testTrack) trak(extra ...[]byte) []byte {
	children := [][]byte{
		box("tkhd", record(tkhdSizeV0, map[int][]byte{12: u32(tt.id)})),
	}
	if tt.edits != nil {
		var entries [][]byte
		for _, e := range tt.edits {
			entries = append(entries, u32(uint32(e[0])), u32(uint32(int32(e[1]))), u32(1<<16))
		}
		children = append(children, box("edts", box("elst", table(len(tt.edits), entries...))))
	}
	children = append(children, box("mdia",
		box("mdhd", record(mdhdSizeV0, map[int][]byte{12: u32(tt.timescale), 20: u16(0x15C7)})),
		box("hdlr", record(hdlrSize, map[int][]byte{4: []byte("mhlr"), 8: []byte(tt.handler)})),
		box("minf",
			box("hdlr", record(hdlrSize, map[int][]byte{4: []byte("dhlr"), 8: []byte("alis")})),
			tt.stbl(extra...),
		),
	))
	return box("trak", children...)
}

func mvhd(timescale uint32) []byte {
	return box("mvhd", record(mvhdSizeV0, map[int][]byte{12: u32(timescale)}))
}

func ftyp() []byte {
	return box("ftyp", []byte("isom"), u32(512), []byte("isomavc1"))
}

// testFile lays out ftyp, an mdat holding payload, then moov.
func testFile(mdat []byte, moov []byte) []byte {
	return bytes.Join([][]byte{ftyp(), box("mdat", mdat), moov}, nil)
}

// mdatStart is the offset of the first mdat payload byte in a testFile.
var mdatStart = uint64(len(ftyp()) + atomHeaderSize)

func compress(t testing.TB, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(b)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func compressedMoov(t testing.TB, moov []byte) []byte {
	t.Helper()
	return box("moov", box("cmov",
		box("dcom", []byte("zlib")),
		box("cmvd", u32(uint32(len(moov))), compress(t, moov)),
	))
}

// audioTrack returns an AC-3 track with three chunks of explicit sizes
// whose samples live at mdatStart.
func audioTrack() testTrack {
	return testTrack{
		id: 1, handler: "soun", codec: "ac-3", timescale: 48000,
		channels: 6, bits: 16, rate: 48000,
		config:       box("dac3", []byte{0x10, 0x3D, 0xE0}),
		chunkOffsets: []uint64{mdatStart, mdatStart + 300, mdatStart + 600},
		stsc:         [][3]uint32{{1, 2, 1}, {3, 1, 1}},
		stts:         [][2]uint32{{5, 1536}},
		sizes:        []uint32{100, 100, 100, 100, 100},
	}
}

// videoTrack returns an H.264 track with two chunks.
func videoTrack() testTrack {
	return testTrack{
		id: 2, handler: "vide", codec: "avc1", timescale: 90000,
		width: 1280, height: 720,
		config:       box("avcC", []byte{1, 0x64, 0, 0x1F, 0xFF}),
		chunkOffsets: []uint64{mdatStart + 200, mdatStart + 500},
		stsc:         [][3]uint32{{1, 2, 1}},
		stts:         [][2]uint32{{4, 3000}},
		sizes:        []uint32{50, 50, 50, 50},
		stss:         []uint32{1, 3},
	}
}
