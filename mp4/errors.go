package mp4

import (
	"errors"
	"fmt"
)

// File-level errors. Any of these makes the whole file unreadable.
var (
	ErrMalformedAtom          = errors.New("mp4: malformed atom")
	ErrShortRecord            = errors.New("mp4: record shorter than required")
	ErrTooDeep                = errors.New("mp4: atom nesting too deep")
	ErrUnsupportedCompression = errors.New("mp4: unsupported header compression")
	ErrNoMovie                = errors.New("mp4: no moov atom")
)

// Track-level errors. The affected track is dropped and reported in
// File.Dropped.
var (
	ErrUnsupportedSampleLayout = errors.New("mp4: constant sample size with variable duration")
	ErrInconsistentTables      = errors.New("mp4: inconsistent sample tables")
	ErrUnknownHandler          = errors.New("mp4: unknown track handler")
	ErrUnknownCodec            = errors.New("mp4: unrecognized codec")
	ErrInvalidDimensions       = errors.New("mp4: invalid video dimensions")
	ErrInvalidAudioFormat      = errors.New("mp4: missing audio channels or sample rate")
	ErrEmptyTrack              = errors.New("mp4: track has no samples")
)

// ParseError records the atom being decoded when a file-level error
// occurred.
type ParseError struct {
	Atom Tag
	Pos  int64
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mp4: parse '%s' at %d: %v", e.Atom, e.Pos, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func shortRecord(a Atom, have, need int64) error {
	return &ParseError{
		Atom: a.Type,
		Pos:  a.Pos,
		Err:  fmt.Errorf("%w: %d bytes, need %d", ErrShortRecord, have, need),
	}
}
