package wire

import (
	"errors"
	"fmt"
)

// Sentinel errors for message encoding and decoding.
var (
	ErrUnknownMessage   = errors.New("wire: unknown message type")
	ErrTooLarge         = errors.New("wire: byte string too large")
	ErrOutOfRange       = errors.New("wire: value out of varint range")
	ErrMalformedRegions = errors.New("wire: malformed caption regions")
)

// ParseError indicates a failure to decode a message field. It records the
// message and field being read and wraps the underlying I/O or format error.
type ParseError struct {
	Msg   MsgType
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wire: parse %s.%s: %v", e.Msg, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
