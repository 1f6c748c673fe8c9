package media

import (
	"fmt"
	"strings"
)

// Format identifies a raw elementary-stream framing.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatAC3            // AC-3 or E-AC-3 sync frames
	FormatADTS           // AAC in ADTS frames
)

func (f Format) String() string {
	switch f {
	case FormatAC3:
		return "ac3"
	case FormatADTS:
		return "adts"
	default:
		return "unknown"
	}
}

// ParseFormat maps a user-supplied name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "ac3", "ac-3", "eac3", "e-ac-3", "ec-3":
		return FormatAC3, nil
	case "adts", "aac":
		return FormatADTS, nil
	}
	return FormatUnknown, fmt.Errorf("unknown stream format %q", s)
}
