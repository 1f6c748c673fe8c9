package ac3

import (
	"math/rand/v2"
	"testing"
)

func ac3Header(frmsizecod, acmod uint8, lfe bool) FrameHeader {
	return FrameHeader{
		BSID:                8,
		SampleRate:          48000,
		FrameSize:           ac3FrameSize(0, frmsizecod),
		FrameSizeCode:       frmsizecod,
		ChannelMode:         acmod,
		LFE:                 lfe,
		DialogNormalization: 27,
	}
}

func eac3Header(ft FrameType, substream uint8, size int) FrameHeader {
	return FrameHeader{
		BSID:                16,
		SampleRate:          48000,
		Samples:             1536,
		FrameSize:           size,
		FrameType:           ft,
		SubstreamID:         substream,
		ChannelMode:         7,
		LFE:                 true,
		DialogNormalization: 27,
	}
}

// buildFrame returns a complete frame with a deterministic payload and
// correct checksums.
func buildFrame(t testing.TB, h FrameHeader, seed byte) []byte {
	t.Helper()
	frame := make([]byte, h.FrameSize)
	for i := minDecodeSize; i < len(frame); i++ {
		frame[i] = seed + byte(i*7)
	}
	copy(frame, h.marshal())
	updateChecksums(&h, frame)
	if !VerifyChecksums(frame) {
		t.Fatalf("built frame does not verify: %v", h)
	}
	return frame
}

// garbage returns n random bytes that never contain the first sync byte.
func garbage(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.IntN(256))
		if b[i] == syncByte0 {
			b[i]++
		}
	}
	return b
}

func drain(t testing.TB, p *Parser) []*Frame {
	t.Helper()
	var out []*Frame
	for p.Available() > 0 {
		f, err := p.Pop()
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		out = append(out, f)
	}
	return out
}

// pushChunked feeds data to p in random chunk sizes between 1 and maxChunk bytes.
func pushChunked(t testing.TB, p *Parser, data []byte, rng *rand.Rand, maxChunk int) {
	t.Helper()
	for len(data) > 0 {
		n := 1 + rng.IntN(maxChunk)
		if n > len(data) {
			n = len(data)
		}
		if err := p.Push(data[:n]); err != nil {
			t.Fatalf("Push: %v", err)
		}
		data = data[n:]
	}
}
