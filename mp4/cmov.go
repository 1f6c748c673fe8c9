package mp4

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// maxInflatedHeader caps the size of a decompressed movie header.
const maxInflatedHeader = 1 << 28

// cmov holds a compressed movie header: a dcom atom naming the algorithm
// and a cmvd atom with the compressed moov.
func (w *walker) cmov(r io.ReaderAt, a Atom, depth int) error {
	w.compression = 0
	return w.descend(r, a, depth)
}

func (w *walker) dcom(r io.ReaderAt, a Atom, _ int) error {
	buf, err := w.payload(r, a, 4)
	if err != nil {
		return err
	}
	w.compression = Tag(be.Uint32(buf))
	w.log.Debug("header compression", "algorithm", w.compression)
	return nil
}

// cmvd inflates the compressed header and walks it as an independent
// zero-based source one level deeper.
func (w *walker) cmvd(r io.ReaderAt, a Atom, depth int) error {
	if w.compression != tagZlib {
		return &ParseError{
			Atom: a.Type,
			Pos:  a.Pos,
			Err:  fmt.Errorf("%w: '%s'", ErrUnsupportedCompression, w.compression),
		}
	}
	buf, err := w.payload(r, a, 4)
	if err != nil {
		return err
	}
	declared := be.Uint32(buf)

	zr, err := zlib.NewReader(bytes.NewReader(buf[4:]))
	if err != nil {
		return &ParseError{Atom: a.Type, Pos: a.Pos, Err: fmt.Errorf("inflating movie header: %w", err)}
	}
	defer zr.Close()
	inflated, err := io.ReadAll(io.LimitReader(zr, maxInflatedHeader))
	if err != nil {
		return &ParseError{Atom: a.Type, Pos: a.Pos, Err: fmt.Errorf("inflating movie header: %w", err)}
	}
	if int64(declared) != int64(len(inflated)) {
		w.log.Warn("compressed movie header size mismatch", "declared", declared, "inflated", len(inflated))
	}

	inner := bytes.NewReader(inflated)
	return w.walk(inner, tagRoot, 0, inner.Size(), depth+1)
}
