package mp4

import (
	"fmt"
	"io"
	"log/slog"
)

// maxDepth bounds recursion, including descents into compressed headers.
const maxDepth = 16

// maxPayload caps the size of a single header atom read into memory.
const maxPayload = 1 << 28

// handler processes one atom. r is the source the atom lives in, which is the
// inflated header buffer while walking a compressed movie.
type handler func(w *walker, r io.ReaderAt, a Atom, depth int) error

type dispatchKey struct {
	parent Tag
	atom   Tag
}

// dispatch maps (parent, atom) to the handler for that context. Atoms without
// an entry are skipped by their declared size. It is filled in init because
// the handlers recurse back into walk.
var dispatch map[dispatchKey]handler

func init() {
	dispatch = map[dispatchKey]handler{
		{tagRoot, tagFtyp}: (*walker).ftyp,
		{tagRoot, tagMoov}: (*walker).moov,
		{tagRoot, tagMdat}: (*walker).mdat,

		{tagMoov, tagMvhd}: (*walker).mvhd,
		{tagMoov, tagTrak}: (*walker).trak,
		{tagMoov, tagCmov}: (*walker).cmov,

		{tagCmov, tagDcom}: (*walker).dcom,
		{tagCmov, tagCmvd}: (*walker).cmvd,

		{tagTrak, tagTkhd}: (*walker).tkhd,
		{tagTrak, tagMdia}: (*walker).descend,
		{tagTrak, tagEdts}: (*walker).descend,
		{tagEdts, tagElst}: (*walker).elst,

		{tagMdia, tagMdhd}: (*walker).mdhd,
		{tagMdia, tagHdlr}: (*walker).hdlr,
		{tagMdia, tagMinf}: (*walker).descend,

		{tagMinf, tagHdlr}: (*walker).dataHandler,
		{tagMinf, tagStbl}: (*walker).descend,

		{tagStbl, tagStsd}: (*walker).stsd,
		{tagStbl, tagStts}: (*walker).stts,
		{tagStbl, tagCtts}: (*walker).ctts,
		{tagStbl, tagStss}: (*walker).stss,
		{tagStbl, tagStsc}: (*walker).stsc,
		{tagStbl, tagStsz}: (*walker).stsz,
		{tagStbl, tagStco}: (*walker).stco,
		{tagStbl, tagCo64}: (*walker).co64,
	}
}

// walker holds the state of one pass over a file's header atoms.
type walker struct {
	log  *slog.Logger
	file *File

	sawMovie    bool
	track       *TrackDescriptor
	tracks      []*TrackDescriptor
	compression Tag
}

// walk visits the atoms in [start, start+size) of r whose parent is parent.
func (w *walker) walk(r io.ReaderAt, parent Tag, start, size int64, depth int) error {
	if depth > maxDepth {
		return &ParseError{Atom: parent, Pos: start, Err: ErrTooDeep}
	}

	pos, remaining := start, size
	for remaining >= atomHeaderSize {
		a, err := ReadAtomHeader(r, pos, pos+remaining)
		if err != nil {
			return err
		}
		if a.Size > remaining {
			if parent != tagRoot {
				return &ParseError{
					Atom: a.Type,
					Pos:  a.Pos,
					Err:  fmt.Errorf("%w: size %d exceeds '%s' by %d bytes", ErrMalformedAtom, a.Size, parent, a.Size-remaining),
				}
			}
			w.log.Warn("atom extends past end of file, truncating",
				"atom", a.Type, "pos", a.Pos, "size", a.Size, "available", remaining)
			a.Size = remaining
			if a.Size < a.HeaderSize {
				return &ParseError{Atom: a.Type, Pos: a.Pos, Err: ErrMalformedAtom}
			}
		}

		w.log.Debug("atom", "parent", parent, "atom", a.Type, "pos", a.Pos, "size", a.Size, "depth", depth)
		if h, ok := dispatch[dispatchKey{parent, a.Type}]; ok {
			if err := h(w, r, a, depth); err != nil {
				return err
			}
		}

		pos += a.Size
		remaining -= a.Size
	}
	if remaining > 0 {
		w.log.Debug("ignoring trailing bytes", "parent", parent, "bytes", remaining)
	}
	return nil
}

func (w *walker) descend(r io.ReaderAt, a Atom, depth int) error {
	return w.walk(r, a.Type, a.PayloadStart(), a.PayloadSize(), depth+1)
}

func (w *walker) moov(r io.ReaderAt, a Atom, depth int) error {
	w.sawMovie = true
	return w.descend(r, a, depth)
}

func (w *walker) mdat(_ io.ReaderAt, a Atom, _ int) error {
	w.file.MediaData = append(w.file.MediaData, a)
	return nil
}

func (w *walker) trak(r io.ReaderAt, a Atom, depth int) error {
	w.track = &TrackDescriptor{}
	err := w.descend(r, a, depth)
	if err == nil {
		w.tracks = append(w.tracks, w.track)
	}
	w.track = nil
	return err
}

// payload reads the payload of a, which must hold at least need bytes.
func (w *walker) payload(r io.ReaderAt, a Atom, need int64) ([]byte, error) {
	n := a.PayloadSize()
	if n < need {
		return nil, shortRecord(a, n, need)
	}
	if n > maxPayload {
		return nil, &ParseError{Atom: a.Type, Pos: a.Pos, Err: fmt.Errorf("%w: payload of %d bytes", ErrMalformedAtom, n)}
	}
	buf := make([]byte, n)
	if err := readFull(r, buf, a.PayloadStart()); err != nil {
		return nil, &ParseError{Atom: a.Type, Pos: a.Pos, Err: err}
	}
	return buf, nil
}
