package ac3

import (
	"errors"
	"fmt"
	"io"
)

// Default probe parameters.
const (
	DefaultProbeWindow = 256 * 1024
	DefaultProbeFrames = 4
)

// FindConsecutiveFrames returns the offset of the first sync word in buf from
// which n complete frames follow back to back, or -1 if there is none.
func FindConsecutiveFrames(buf []byte, n int) int {
	if n < 1 {
		n = 1
	}
	for off := 0; off+minDecodeSize <= len(buf); off++ {
		if buf[off] != syncByte0 || buf[off+1] != syncByte1 {
			continue
		}
		if countFrames(buf[off:], n) >= n {
			return off
		}
	}
	return -1
}

func countFrames(buf []byte, limit int) int {
	pos, count := 0, 0
	for count < limit {
		h, err := DecodeHeader(buf[pos:])
		if err != nil || pos+h.FrameSize > len(buf) {
			break
		}
		pos += h.FrameSize
		count++
	}
	return count
}

// Probe reads up to window bytes from r and reports the offset of the first
// run of n consecutive frames. It returns ErrNoFrames if the window holds no
// such run.
func Probe(r io.Reader, window, n int) (int, error) {
	if window <= 0 {
		window = DefaultProbeWindow
	}
	buf := make([]byte, window)
	nr, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return -1, fmt.Errorf("ac3: reading probe window: %w", err)
	}
	off := FindConsecutiveFrames(buf[:nr], n)
	if off < 0 {
		return -1, ErrNoFrames
	}
	return off, nil
}
