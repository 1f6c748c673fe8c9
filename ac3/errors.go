package ac3

import "errors"

// Sentinel errors returned by the parser and header codec.
var (
	// ErrEmptyQueue is returned by Pop when no completed frame is available.
	ErrEmptyQueue = errors.New("ac3: no frame available")
	// ErrFlushed is returned by Push after Flush has been called.
	ErrFlushed = errors.New("ac3: push after flush")
	// ErrNoSync is returned by DecodeHeader when the buffer does not start
	// with the 0x0B77 sync word.
	ErrNoSync = errors.New("ac3: no sync word")
	// ErrShortHeader is returned by DecodeHeader when fewer bytes than a full
	// header are available.
	ErrShortHeader = errors.New("ac3: header truncated")
	// ErrInvalidHeader is returned by DecodeHeader when a field that
	// determines the frame length or sample rate holds a reserved value.
	ErrInvalidHeader = errors.New("ac3: invalid header")
	// ErrNoFrames is returned by Probe when the probe window contains no
	// run of consecutive frames.
	ErrNoFrames = errors.New("ac3: no frames found in probe window")
)
