package ac3

// Frame is one top-level AC-3 or E-AC-3 frame together with the E-AC-3
// dependent substream frames that immediately followed it.
type Frame struct {
	FrameHeader

	Data       []byte
	Dependents []DependentFrame

	// StreamPosition is the absolute offset of the frame's sync word.
	StreamPosition uint64
	// GarbageSize counts the unsynchronized bytes discarded directly before
	// this frame.
	GarbageSize uint64
	// Valid is false when a checksum fails or the frame type is reserved.
	Valid bool
}

// DependentFrame is an E-AC-3 dependent substream frame attached to a Frame.
// It cannot carry dependents of its own.
type DependentFrame struct {
	FrameHeader

	Data           []byte
	StreamPosition uint64
	Valid          bool
}

// Size returns the number of bytes of the frame and all its dependents.
func (f *Frame) Size() int {
	n := len(f.Data)
	for i := range f.Dependents {
		n += len(f.Dependents[i].Data)
	}
	return n
}

// Payload returns the frame bytes followed by the bytes of each dependent
// frame. Without dependents it returns Data itself.
func (f *Frame) Payload() []byte {
	if len(f.Dependents) == 0 {
		return f.Data
	}
	out := make([]byte, 0, f.Size())
	out = append(out, f.Data...)
	for i := range f.Dependents {
		out = append(out, f.Dependents[i].Data...)
	}
	return out
}

// AllValid reports whether the frame and every dependent passed validation.
func (f *Frame) AllValid() bool {
	if !f.Valid {
		return false
	}
	for i := range f.Dependents {
		if !f.Dependents[i].Valid {
			return false
		}
	}
	return true
}
