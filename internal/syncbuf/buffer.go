// Package syncbuf provides the append-only byte accumulator shared by the
// sync-word frame parsers. Bytes are appended as they arrive from the source
// and consumed from the front once a parser has classified them as frame or
// garbage.
package syncbuf

// compactThreshold is the consumed-prefix size beyond which Consume moves the
// live bytes back to the start of the backing array.
const compactThreshold = 64 * 1024

// Buffer accumulates bytes with lookahead and consume semantics. Total counts
// every byte ever appended and never decreases; Consumed counts every byte
// removed from the front. Consumed <= Total always holds.
type Buffer struct {
	data     []byte
	off      int
	total    uint64
	consumed uint64
}

// Append copies p to the end of the buffer.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.data = append(b.data, p...)
	b.total += uint64(len(p))
}

// Bytes returns the unconsumed bytes. The slice is only valid until the next
// call to Append or Consume.
func (b *Buffer) Bytes() []byte {
	return b.data[b.off:]
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.off
}

// Consume removes n bytes from the front. n is clamped to Len.
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n > b.Len() {
		n = b.Len()
	}
	b.off += n
	b.consumed += uint64(n)

	if b.off == len(b.data) {
		b.data = b.data[:0]
		b.off = 0
		return
	}
	if b.off >= compactThreshold && b.off > len(b.data)/2 {
		n := copy(b.data, b.data[b.off:])
		b.data = b.data[:n]
		b.off = 0
	}
}

// Total returns the number of bytes ever appended.
func (b *Buffer) Total() uint64 {
	return b.total
}

// Consumed returns the number of bytes removed from the front, which is also
// the absolute stream position of Bytes()[0].
func (b *Buffer) Consumed() uint64 {
	return b.consumed
}
