package adts

import (
	"bytes"
	"errors"
	"log/slog"

	"github.com/zsiec/demuxkit/internal/syncbuf"
)

// Parser recovers ADTS frames from a byte stream delivered in arbitrary
// chunks. It has the same contract as the AC-3 parser: frames are queued in
// stream order and unsynchronized bytes are counted as garbage.
type Parser struct {
	log     *slog.Logger
	buf     syncbuf.Buffer
	queue   []*Frame
	garbage uint64
	flushed bool
}

// NewParser creates a parser. A nil logger falls back to slog.Default.
func NewParser(log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{log: log.With("component", "adts-parser")}
}

// Push appends data and extracts every complete frame.
func (p *Parser) Push(data []byte) error {
	if p.flushed {
		return ErrFlushed
	}
	p.buf.Append(data)
	p.parse(false)
	return nil
}

// Flush marks the end of the stream and discards any incomplete tail.
func (p *Parser) Flush() {
	if p.flushed {
		return
	}
	p.flushed = true
	p.parse(true)
}

// Available returns the number of frames ready to be popped.
func (p *Parser) Available() int { return len(p.queue) }

// Pop removes and returns the oldest completed frame.
func (p *Parser) Pop() (*Frame, error) {
	if len(p.queue) == 0 {
		return nil, ErrEmptyQueue
	}
	f := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return f, nil
}

// ParsedPosition returns the number of bytes consumed as frames or garbage.
func (p *Parser) ParsedPosition() uint64 { return p.buf.Consumed() }

// TotalPosition returns the number of bytes pushed so far.
func (p *Parser) TotalPosition() uint64 { return p.buf.Total() }

func (p *Parser) parse(eos bool) {
	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, 0xFF)
		if idx < 0 {
			p.discard(len(data))
			return
		}
		if idx > 0 {
			p.discard(idx)
			data = p.buf.Bytes()
		}

		h, err := DecodeHeader(data)
		if errors.Is(err, ErrShortHeader) {
			// A trailing 0xFF may still be the start of a sync word.
			if !eos && (len(data) < 2 || data[1]&0xF0 == 0xF0) {
				return
			}
			p.discard(1)
			continue
		}
		if err != nil {
			p.discard(1)
			continue
		}
		if h.FrameLength > len(data) {
			if !eos {
				return
			}
			p.discard(1)
			continue
		}

		pos := p.buf.Consumed()
		frame := make([]byte, h.FrameLength)
		copy(frame, data)
		if p.garbage > 0 {
			p.log.Debug("skipped garbage", "bytes", p.garbage, "pos", pos)
		}
		p.queue = append(p.queue, &Frame{
			Header:         h,
			Data:           frame,
			StreamPosition: pos,
			GarbageSize:    p.garbage,
		})
		p.garbage = 0
		p.buf.Consume(h.FrameLength)
	}
}

func (p *Parser) discard(n int) {
	if n <= 0 {
		return
	}
	p.garbage += uint64(n)
	p.buf.Consume(n)
}
