package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Tag is a four-character atom or codec code.
type Tag uint32

func (t Tag) String() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(t))
	for i := range b {
		if b[i] == 0 {
			b[i] = ' '
		}
	}
	return string(b[:])
}

// StringToTag packs the first four bytes of s into a Tag.
func StringToTag(s string) Tag {
	var b [4]byte
	copy(b[:], s)
	return Tag(binary.BigEndian.Uint32(b[:]))
}

const (
	// tagRoot is the pseudo parent of top-level atoms.
	tagRoot Tag = 0

	tagFtyp Tag = 'f'<<24 | 't'<<16 | 'y'<<8 | 'p'
	tagMoov Tag = 'm'<<24 | 'o'<<16 | 'o'<<8 | 'v'
	tagMdat Tag = 'm'<<24 | 'd'<<16 | 'a'<<8 | 't'
	tagFree Tag = 'f'<<24 | 'r'<<16 | 'e'<<8 | 'e'
	tagSkip Tag = 's'<<24 | 'k'<<16 | 'i'<<8 | 'p'
	tagWide Tag = 'w'<<24 | 'i'<<16 | 'd'<<8 | 'e'
	tagPnot Tag = 'p'<<24 | 'n'<<16 | 'o'<<8 | 't'
	tagMvhd Tag = 'm'<<24 | 'v'<<16 | 'h'<<8 | 'd'
	tagTrak Tag = 't'<<24 | 'r'<<16 | 'a'<<8 | 'k'
	tagCmov Tag = 'c'<<24 | 'm'<<16 | 'o'<<8 | 'v'
	tagDcom Tag = 'd'<<24 | 'c'<<16 | 'o'<<8 | 'm'
	tagCmvd Tag = 'c'<<24 | 'm'<<16 | 'v'<<8 | 'd'
	tagTkhd Tag = 't'<<24 | 'k'<<16 | 'h'<<8 | 'd'
	tagMdia Tag = 'm'<<24 | 'd'<<16 | 'i'<<8 | 'a'
	tagEdts Tag = 'e'<<24 | 'd'<<16 | 't'<<8 | 's'
	tagElst Tag = 'e'<<24 | 'l'<<16 | 's'<<8 | 't'
	tagMdhd Tag = 'm'<<24 | 'd'<<16 | 'h'<<8 | 'd'
	tagHdlr Tag = 'h'<<24 | 'd'<<16 | 'l'<<8 | 'r'
	tagMinf Tag = 'm'<<24 | 'i'<<16 | 'n'<<8 | 'f'
	tagStbl Tag = 's'<<24 | 't'<<16 | 'b'<<8 | 'l'
	tagStsd Tag = 's'<<24 | 't'<<16 | 's'<<8 | 'd'
	tagStts Tag = 's'<<24 | 't'<<16 | 't'<<8 | 's'
	tagCtts Tag = 'c'<<24 | 't'<<16 | 't'<<8 | 's'
	tagStss Tag = 's'<<24 | 't'<<16 | 's'<<8 | 's'
	tagStsc Tag = 's'<<24 | 't'<<16 | 's'<<8 | 'c'
	tagStsz Tag = 's'<<24 | 't'<<16 | 's'<<8 | 'z'
	tagStco Tag = 's'<<24 | 't'<<16 | 'c'<<8 | 'o'
	tagCo64 Tag = 'c'<<24 | 'o'<<16 | '6'<<8 | '4'

	tagZlib Tag = 'z'<<24 | 'l'<<16 | 'i'<<8 | 'b'

	tagSoun Tag = 's'<<24 | 'o'<<16 | 'u'<<8 | 'n'
	tagVide Tag = 'v'<<24 | 'i'<<16 | 'd'<<8 | 'e'
	tagClcp Tag = 'c'<<24 | 'l'<<16 | 'c'<<8 | 'p'
)

const (
	atomHeaderSize         = 8
	extendedAtomHeaderSize = 16
)

// Atom is a decoded atom header.
type Atom struct {
	Type       Tag
	Size       int64 // total size including the header
	HeaderSize int64 // 8, or 16 with an extended size
	Pos        int64 // absolute offset of the header
}

// PayloadStart returns the absolute offset of the first payload byte.
func (a Atom) PayloadStart() int64 { return a.Pos + a.HeaderSize }

// PayloadSize returns the number of payload bytes.
func (a Atom) PayloadSize() int64 { return a.Size - a.HeaderSize }

// ReadAtomHeader reads the atom header at offset at. A size field of 1 is
// followed by a 64-bit extended size; a size of 0 extends the atom to end,
// the end of the enclosing scope.
func ReadAtomHeader(src io.ReaderAt, at, end int64) (Atom, error) {
	var hdr [extendedAtomHeaderSize]byte
	if err := readFull(src, hdr[:atomHeaderSize], at); err != nil {
		return Atom{}, fmt.Errorf("mp4: reading atom header at %d: %w", at, err)
	}

	a := Atom{
		Type:       Tag(binary.BigEndian.Uint32(hdr[4:])),
		Size:       int64(binary.BigEndian.Uint32(hdr[0:])),
		HeaderSize: atomHeaderSize,
		Pos:        at,
	}
	switch a.Size {
	case 0:
		a.Size = end - at
	case 1:
		if err := readFull(src, hdr[atomHeaderSize:], at+atomHeaderSize); err != nil {
			return Atom{}, &ParseError{Atom: a.Type, Pos: at, Err: err}
		}
		size := binary.BigEndian.Uint64(hdr[atomHeaderSize:])
		if size > math.MaxInt64 {
			return Atom{}, &ParseError{Atom: a.Type, Pos: at, Err: fmt.Errorf("%w: size %d", ErrMalformedAtom, size)}
		}
		a.Size = int64(size)
		a.HeaderSize = extendedAtomHeaderSize
	}
	if a.Size < a.HeaderSize {
		return Atom{}, &ParseError{
			Atom: a.Type,
			Pos:  at,
			Err:  fmt.Errorf("%w: size %d below header size %d", ErrMalformedAtom, a.Size, a.HeaderSize),
		}
	}
	return a, nil
}

// readFull reads len(p) bytes at off. Hitting the end of the source early
// is reported as ErrShortRecord.
func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: read %d of %d bytes at %d", ErrShortRecord, n, len(p), off)
	}
	return err
}

// Source is a random-access media file. *bytes.Reader, *io.SectionReader and
// *os.File wrapped by NewFileSource satisfy it.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Probe reports whether src starts with an atom commonly found at the head
// of QuickTime or MP4 files.
func Probe(src Source) bool {
	if src.Size() < atomHeaderSize {
		return false
	}
	a, err := ReadAtomHeader(src, 0, src.Size())
	if err != nil {
		return false
	}
	switch a.Type {
	case tagFtyp, tagMoov, tagMdat, tagFree, tagSkip, tagWide, tagPnot:
		return true
	}
	return false
}
