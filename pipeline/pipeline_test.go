package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math/bits"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/ccx"

	"github.com/zsiec/demuxkit/ac3"
	"github.com/zsiec/demuxkit/media"
	"github.com/zsiec/demuxkit/mp4"
	"github.com/zsiec/demuxkit/wire"
)

// recordingSink collects everything a pipeline emits.
type recordingSink struct {
	mu       sync.Mutex
	tracks   []media.TrackInfo
	packets  []*media.Packet
	captions []*ccx.CaptionFrame
	failAt   int // fail the n-th packet when > 0
}

func (s *recordingSink) AddTrack(info media.TrackInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, info)
	return nil
}

var errSinkFull = errors.New("sink full")

func (s *recordingSink) WritePacket(p *media.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.packets)+1 == s.failAt {
		return errSinkFull
	}
	s.packets = append(s.packets, p)
	return nil
}

func (s *recordingSink) WriteCaption(trackID int, frame *ccx.CaptionFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captions = append(s.captions, frame)
	return nil
}

// ac3Frame builds a 256-byte 48 kHz mono AC-3 frame with valid checksums and
// a dialogue normalization other than 31.
func ac3Frame(t *testing.T, seed byte) []byte {
	t.Helper()
	h := ac3.FrameHeader{
		BSID:                8,
		SampleRate:          48000,
		FrameSizeCode:       8,
		ChannelMode:         1,
		DialogNormalization: 27,
	}
	frame := make([]byte, 256)
	for i := 8; i < len(frame); i++ {
		frame[i] = seed + byte(i*13)
	}
	copy(frame, h.Marshal())
	if !ac3.RepairChecksums(frame) || !ac3.VerifyChecksums(frame) {
		t.Fatal("could not build a valid AC-3 frame")
	}
	return frame
}

// adtsFrame builds an AAC-LC ADTS frame without CRC.
func adtsFrame(rateIdx, channels byte, payload []byte) []byte {
	n := 7 + len(payload)
	h := []byte{
		0xFF, 0xF1,
		1<<6 | rateIdx<<2 | channels>>2,
		channels<<6 | byte(n>>11)&0x03,
		byte(n >> 3),
		byte(n&0x07)<<5 | 0x1F,
		0xFC,
	}
	return append(h, payload...)
}

func TestRunAC3(t *testing.T) {
	t.Parallel()
	var stream []byte
	junk := bytes.Repeat([]byte{0x55}, 13)
	for i := range 10 {
		stream = append(stream, junk...)
		stream = append(stream, ac3Frame(t, byte(i))...)
	}

	sink := &recordingSink{}
	p := New("test", sink, nil)
	p.SetReadSize(7)
	if err := p.Run(context.Background(), bytes.NewReader(stream), media.FormatAC3); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.tracks) != 1 {
		t.Fatalf("got %d track announcements, want 1", len(sink.tracks))
	}
	tr := sink.tracks[0]
	if tr.Codec != "ac-3" || tr.SampleRate != 48000 || tr.Channels != 1 || tr.Kind != media.KindAudio {
		t.Errorf("track = %+v", tr)
	}
	if len(sink.packets) != 10 {
		t.Fatalf("got %d packets, want 10", len(sink.packets))
	}
	for i, pkt := range sink.packets {
		if pkt.PTS != int64(i)*32000 || pkt.Duration != 32000 {
			t.Errorf("packet %d: PTS %d duration %d", i, pkt.PTS, pkt.Duration)
		}
		if !pkt.Valid || len(pkt.Data) != 256 {
			t.Errorf("packet %d: valid %v, %d bytes", i, pkt.Valid, len(pkt.Data))
		}
		if want := int64(13 + i*(13+256)); pkt.Pos != want {
			t.Errorf("packet %d: pos %d, want %d", i, pkt.Pos, want)
		}
	}

	stats := p.Stats()
	if stats.Packets != 10 || stats.Bytes != 2560 || stats.Garbage != 130 || stats.Invalid != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastPTS != 9*32000 {
		t.Errorf("LastPTS = %d", stats.LastPTS)
	}
}

func TestRunRemovesDialnorm(t *testing.T) {
	t.Parallel()
	frame := ac3Frame(t, 1)
	h, err := ac3.DecodeHeader(frame)
	if err != nil {
		t.Fatal(err)
	}
	if h.DialogNormalization == 31 {
		t.Fatal("test frame already at unity")
	}

	sink := &recordingSink{}
	p := New("dialnorm", sink, nil)
	p.SetRemoveDialnorm(true)
	if err := p.Run(context.Background(), bytes.NewReader(frame), media.FormatAC3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.packets) != 1 {
		t.Fatalf("got %d packets", len(sink.packets))
	}
	out := sink.packets[0].Data
	got, err := ac3.DecodeHeader(out)
	if err != nil {
		t.Fatal(err)
	}
	if got.DialogNormalization != 31 {
		t.Errorf("dialnorm = %d, want 31", got.DialogNormalization)
	}
	if !ac3.VerifyChecksums(out) {
		t.Error("checksums invalid after dialnorm removal")
	}
}

func TestRunADTSRateChange(t *testing.T) {
	t.Parallel()
	var stream []byte
	for i := range 3 {
		stream = append(stream, adtsFrame(3, 2, []byte{byte(i), 1, 2, 3})...)
	}
	stream = append(stream, 0x00, 0x12)
	for i := range 2 {
		stream = append(stream, adtsFrame(4, 2, []byte{byte(i), 9, 9})...)
	}

	sink := &recordingSink{}
	p := New("aac", sink, nil)
	if err := p.Run(context.Background(), bytes.NewReader(stream), media.FormatADTS); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.tracks) != 2 {
		t.Fatalf("got %d track announcements, want 2", len(sink.tracks))
	}
	if sink.tracks[0].SampleRate != 48000 || sink.tracks[1].SampleRate != 44100 {
		t.Errorf("sample rates %d, %d", sink.tracks[0].SampleRate, sink.tracks[1].SampleRate)
	}
	if !bytes.Equal(sink.tracks[0].CodecConfig, []byte{0x11, 0x90}) {
		t.Errorf("codec config = %x", sink.tracks[0].CodecConfig)
	}

	want := []int64{0, 21333, 42666, 64000, 64000 + 23219}
	if len(sink.packets) != len(want) {
		t.Fatalf("got %d packets, want %d", len(sink.packets), len(want))
	}
	for i, pkt := range sink.packets {
		if pkt.PTS != want[i] {
			t.Errorf("packet %d: PTS %d, want %d", i, pkt.PTS, want[i])
		}
	}
	if !bytes.Equal(sink.packets[0].Data, []byte{0, 1, 2, 3}) {
		t.Errorf("payload = %x", sink.packets[0].Data)
	}
	if got := p.Stats().Garbage; got != 2 {
		t.Errorf("garbage = %d, want 2", got)
	}
}

// endlessJunk never yields a sync word.
type endlessJunk struct{}

func (endlessJunk) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0x42
	}
	time.Sleep(time.Millisecond)
	return len(p), nil
}

func TestRunCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New("cancel", &recordingSink{}, nil).Run(ctx, endlessJunk{}, media.FormatAC3)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunSinkError(t *testing.T) {
	t.Parallel()
	var stream []byte
	for i := range 300 {
		stream = append(stream, ac3Frame(t, byte(i))...)
	}
	sink := &recordingSink{failAt: 3}
	err := New("fail", sink, nil).Run(context.Background(), bytes.NewReader(stream), media.FormatAC3)
	if !errors.Is(err, errSinkFull) {
		t.Fatalf("Run error = %v, want errSinkFull", err)
	}
	if len(sink.packets) != 2 {
		t.Errorf("sink kept %d packets, want 2", len(sink.packets))
	}
}

func TestRunUnsupportedFormat(t *testing.T) {
	t.Parallel()
	err := New("x", &recordingSink{}, nil).Run(context.Background(), bytes.NewReader(nil), media.FormatUnknown)
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestRunEmptyInput(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	if err := New("empty", sink, nil).Run(context.Background(), bytes.NewReader(nil), media.FormatAC3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.tracks) != 0 || len(sink.packets) != 0 {
		t.Errorf("unexpected output: %d tracks, %d packets", len(sink.tracks), len(sink.packets))
	}
}

func TestRunWireSink(t *testing.T) {
	t.Parallel()
	var stream []byte
	for i := range 3 {
		stream = append(stream, ac3Frame(t, byte(i))...)
	}
	var out bytes.Buffer
	if err := New("wire", NewWireSink(&out), nil).Run(context.Background(), bytes.NewReader(stream), media.FormatAC3); err != nil {
		t.Fatalf("Run: %v", err)
	}

	dec := wire.NewDecoder(&out)
	var types []wire.MsgType
	for {
		m, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		types = append(types, m.Type)
	}
	want := []wire.MsgType{wire.MsgTrack, wire.MsgPacket, wire.MsgPacket, wire.MsgPacket}
	if len(types) != len(want) {
		t.Fatalf("messages = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("messages = %v, want %v", types, want)
		}
	}
}

// --- MP4 with a c608 caption track ---

func box(typ string, payload ...[]byte) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(8+len(bytes.Join(payload, nil))))
	b = append(b, typ...)
	return append(b, bytes.Join(payload, nil)...)
}

func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

func record(size int, fields map[int][]byte) []byte {
	b := make([]byte, size)
	for off, v := range fields {
		copy(b[off:], v)
	}
	return b
}

func withParity(b byte) byte {
	if bits.OnesCount8(b&0x7F)%2 == 0 {
		return b | 0x80
	}
	return b & 0x7F
}

func pairs(bs ...byte) []byte {
	out := make([]byte, len(bs))
	for i, b := range bs {
		out[i] = withParity(b)
	}
	return out
}

func captionFile(samples [][]byte) []byte {
	ftyp := box("ftyp", []byte("qt  "), u32(0))
	dataStart := uint32(len(ftyp) + 8)

	var sizes [][]byte
	for _, s := range samples {
		sizes = append(sizes, u32(uint32(len(s))))
	}
	n := uint32(len(samples))
	entry := record(16, map[int][]byte{0: u32(16), 4: []byte("c608"), 14: {0, 1}})
	stbl := box("stbl",
		box("stsd", u32(0), u32(1), entry),
		box("stts", u32(0), u32(1), u32(n), u32(1001)),
		box("stsc", u32(0), u32(1), u32(1), u32(n), u32(1)),
		box("stsz", u32(0), u32(0), u32(n), bytes.Join(sizes, nil)),
		box("stco", u32(0), u32(1), u32(dataStart)),
	)
	trak := box("trak",
		box("tkhd", record(84, map[int][]byte{12: u32(5)})),
		box("mdia",
			box("mdhd", record(24, map[int][]byte{12: u32(30000)})),
			box("hdlr", record(24, map[int][]byte{4: []byte("mhlr"), 8: []byte("clcp")})),
			box("minf", stbl),
		),
	)
	moov := box("moov", box("mvhd", record(100, map[int][]byte{12: u32(600)})), trak)
	return bytes.Join([][]byte{ftyp, box("mdat", bytes.Join(samples, nil)), moov}, nil)
}

func TestRunFileCaptions(t *testing.T) {
	t.Parallel()
	samples := [][]byte{
		box("cdat", pairs(0x14, 0x25, 0x14, 0x25, 0x14, 0x2C, 0x14, 0x2C, 0x14, 0x60, 0x14, 0x60)),
		box("cdat", pairs('H', 'E', 'L', 'L', 'O', 0)),
		box("cdat", pairs(0x14, 0x2D, 0x14, 0x2D)),
	}
	f, err := mp4.Open(bytes.NewReader(captionFile(samples)), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(f.Tracks) != 1 {
		t.Fatalf("got %d tracks, dropped %v", len(f.Tracks), f.Dropped)
	}

	sink := &recordingSink{}
	p := New("file", sink, nil)
	if err := p.RunFile(context.Background(), f); err != nil {
		t.Fatalf("RunFile: %v", err)
	}

	if len(sink.tracks) != 1 || sink.tracks[0].Kind != media.KindCaption || sink.tracks[0].Codec != "c608" {
		t.Fatalf("tracks = %+v", sink.tracks)
	}
	if len(sink.packets) != 3 {
		t.Fatalf("got %d packets, want 3", len(sink.packets))
	}
	for i, pkt := range sink.packets {
		if want := media.Rescale(int64(i)*1001, 30000); pkt.PTS != want {
			t.Errorf("packet %d: PTS %d, want %d", i, pkt.PTS, want)
		}
		if !bytes.Equal(pkt.Data, samples[i]) {
			t.Errorf("packet %d: data mismatch", i)
		}
	}
	if len(sink.captions) == 0 {
		t.Fatal("no captions decoded")
	}
	for _, c := range sink.captions {
		if c.Channel != 1 {
			t.Errorf("caption on channel %d", c.Channel)
		}
	}
	if got := p.Stats().Captions; got != int64(len(sink.captions)) {
		t.Errorf("Stats().Captions = %d, want %d", got, len(sink.captions))
	}
}

func TestRunFileCancelled(t *testing.T) {
	t.Parallel()
	f, err := mp4.Open(bytes.NewReader(captionFile([][]byte{box("cdat", pairs(0x14, 0x2C))})), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &recordingSink{}
	if err := New("file", sink, nil).RunFile(ctx, f); err != nil {
		t.Fatalf("RunFile: %v", err)
	}
	if len(sink.packets) != 0 {
		t.Errorf("got %d packets after cancel", len(sink.packets))
	}
}
