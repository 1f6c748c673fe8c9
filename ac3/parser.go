package ac3

import (
	"bytes"
	"errors"
	"log/slog"

	"github.com/zsiec/demuxkit/internal/syncbuf"
)

var syncWord = []byte{syncByte0, syncByte1}

// Parser recovers AC-3 and E-AC-3 frames from a byte stream delivered in
// arbitrary chunks. It performs no I/O and is not safe for concurrent use.
type Parser struct {
	log *slog.Logger
	buf syncbuf.Buffer

	// current is the most recent top-level frame. It is held back so that
	// dependent frames following it can still be attached.
	current *Frame
	queue   []*Frame

	garbage uint64
	flushed bool
}

// NewParser creates a parser. A nil logger falls back to slog.Default.
func NewParser(log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{log: log.With("component", "ac3-parser")}
}

// Push appends data to the stream and extracts every frame that is complete.
func (p *Parser) Push(data []byte) error {
	if p.flushed {
		return ErrFlushed
	}
	p.buf.Append(data)
	p.parse(false)
	return nil
}

// Flush marks the end of the stream. Incomplete trailing frames are dropped
// as garbage and the held frame is released to the queue.
func (p *Parser) Flush() {
	if p.flushed {
		return
	}
	p.flushed = true
	p.parse(true)
	p.release()
}

// Available returns the number of frames ready to be popped.
func (p *Parser) Available() int {
	return len(p.queue)
}

// Pop removes and returns the oldest completed frame.
func (p *Parser) Pop() (*Frame, error) {
	if len(p.queue) == 0 {
		return nil, ErrEmptyQueue
	}
	f := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	if len(p.queue) == 0 {
		p.queue = nil
	}
	return f, nil
}

// ParsedPosition returns the number of bytes that have been consumed as
// frames or garbage.
func (p *Parser) ParsedPosition() uint64 {
	return p.buf.Consumed()
}

// TotalPosition returns the number of bytes pushed so far.
func (p *Parser) TotalPosition() uint64 {
	return p.buf.Total()
}

func (p *Parser) parse(eos bool) {
	for {
		data := p.buf.Bytes()
		idx := bytes.Index(data, syncWord)
		if idx < 0 {
			keep := 0
			if !eos && len(data) > 0 && data[len(data)-1] == syncByte0 {
				keep = 1
			}
			p.discard(len(data) - keep)
			return
		}
		if idx > 0 {
			p.discard(idx)
			data = p.buf.Bytes()
		}

		h, err := DecodeHeader(data)
		if errors.Is(err, ErrShortHeader) {
			if eos {
				p.discard(len(data))
			}
			return
		}
		if err != nil {
			p.discard(1)
			continue
		}
		if h.FrameSize > len(data) {
			if !eos {
				return
			}
			p.discard(1)
			continue
		}
		p.accept(h, data[:h.FrameSize])
	}
}

func (p *Parser) discard(n int) {
	if n <= 0 {
		return
	}
	p.garbage += uint64(n)
	p.buf.Consume(n)
}

func (p *Parser) accept(h FrameHeader, raw []byte) {
	pos := p.buf.Consumed()
	data := make([]byte, len(raw))
	copy(data, raw)
	valid := h.FrameType != FrameTypeReserved && verifyChecksums(&h, data)
	if !valid {
		p.log.Debug("invalid frame", "pos", pos, "header", h)
	}

	if h.FrameType == FrameTypeDependent && p.garbage == 0 &&
		p.current != nil && p.current.FrameType != FrameTypeDependent {
		p.current.Dependents = append(p.current.Dependents, DependentFrame{
			FrameHeader:    h,
			Data:           data,
			StreamPosition: pos,
			Valid:          valid,
		})
	} else {
		p.release()
		if p.garbage > 0 {
			p.log.Debug("skipped garbage", "bytes", p.garbage, "pos", pos)
		}
		p.current = &Frame{
			FrameHeader:    h,
			Data:           data,
			StreamPosition: pos,
			GarbageSize:    p.garbage,
			Valid:          valid,
		}
	}
	p.garbage = 0
	p.buf.Consume(len(raw))
}

func (p *Parser) release() {
	if p.current == nil {
		return
	}
	p.queue = append(p.queue, p.current)
	p.current = nil
}
