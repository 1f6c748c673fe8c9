package ac3

// bitReader reads bits MSB-first from a byte slice.
type bitReader struct {
	data     []byte
	bitPos   int
	overflow bool
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) readBit() bool {
	if r.bitPos >= len(r.data)*8 {
		r.overflow = true
		return false
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8)
	r.bitPos++
	return (r.data[byteIdx]>>uint(bitIdx))&1 == 1
}

func (r *bitReader) readUint8(n int) uint8 {
	return uint8(r.readUint32(n))
}

func (r *bitReader) readUint32(n int) uint32 {
	var val uint32
	for i := 0; i < n; i++ {
		val <<= 1
		if r.readBit() {
			val |= 1
		}
	}
	return val
}

func (r *bitReader) skip(n int) {
	r.bitPos += n
	if r.bitPos > len(r.data)*8 {
		r.overflow = true
	}
}

// bitWriter writes bits MSB-first into a fixed-size byte slice.
type bitWriter struct {
	data   []byte
	bitPos int
}

func newBitWriter(size int) *bitWriter {
	return &bitWriter{data: make([]byte, size)}
}

func (w *bitWriter) putBit(v bool) {
	if w.bitPos >= len(w.data)*8 {
		return
	}
	if v {
		byteIdx := w.bitPos / 8
		bitIdx := 7 - (w.bitPos % 8)
		w.data[byteIdx] |= 1 << uint(bitIdx)
	}
	w.bitPos++
}

func (w *bitWriter) putUint32(n int, v uint32) {
	for i := n - 1; i >= 0; i-- {
		w.putBit((v>>uint(i))&1 == 1)
	}
}

func (w *bitWriter) bytes() []byte {
	return w.data
}

// setBits overwrites n bits of b starting at bit offset pos with the low n
// bits of v, MSB first.
func setBits(b []byte, pos, n int, v uint32) {
	for i := 0; i < n; i++ {
		bit := (v >> uint(n-1-i)) & 1
		idx := (pos + i) / 8
		mask := byte(1) << uint(7-(pos+i)%8)
		if bit == 1 {
			b[idx] |= mask
		} else {
			b[idx] &^= mask
		}
	}
}
