package mp4

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// File is a parsed QuickTime/MP4 file.
type File struct {
	Brands       []string // major brand first, then compatible brands
	MinorVersion uint32
	TimeScale    uint32
	Duration     uint64
	Tracks       []*Track
	Dropped      []DroppedTrack
	MediaData    []Atom

	src Source
}

// DroppedTrack records a track excluded by a coherence check.
type DroppedTrack struct {
	ID     uint32
	Reason error
}

// Open walks the header atoms of src and resolves every track's sample
// table. File-level corruption is returned as an error; a track that fails
// its own checks is logged and listed in File.Dropped. A nil logger falls
// back to slog.Default.
func Open(src Source, log *slog.Logger) (*File, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "mp4")

	f := &File{src: src}
	w := &walker{log: log, file: f}
	if err := w.walk(src, tagRoot, 0, src.Size(), 0); err != nil {
		return nil, err
	}
	if !w.sawMovie {
		return nil, ErrNoMovie
	}

	for _, td := range w.tracks {
		st, err := resolve(td, src.Size())
		if err != nil {
			log.Warn("dropping track", "track", td.ID, "error", err)
			f.Dropped = append(f.Dropped, DroppedTrack{ID: td.ID, Reason: err})
			continue
		}
		f.Tracks = append(f.Tracks, &Track{TrackDescriptor: *td, Samples: st})
	}
	log.Debug("opened file", "brands", f.Brands, "tracks", len(f.Tracks), "dropped", len(f.Dropped))
	return f, nil
}

func resolve(td *TrackDescriptor, srcSize int64) (*SampleTable, error) {
	if err := td.validate(); err != nil {
		return nil, err
	}
	st, err := expandTables(td, srcSize)
	if err != nil {
		return nil, err
	}
	if st.Len() == 0 {
		return nil, ErrEmptyTrack
	}
	return st, nil
}

// Track returns the track with the given ID, or nil.
func (f *File) Track(id uint32) *Track {
	for _, t := range f.Tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// OpenFile opens the file at path and parses it. The returned closer
// releases the underlying file.
func OpenFile(path string, log *slog.Logger) (*File, io.Closer, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	src, err := NewFileSource(fh)
	if err != nil {
		fh.Close()
		return nil, nil, err
	}
	f, err := Open(src, log)
	if err != nil {
		fh.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, fh, nil
}

// NewFileSource wraps an open file as a Source.
func NewFileSource(fh *os.File) (*io.SectionReader, error) {
	fi, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, errors.New("mp4: source is not a regular file")
	}
	return io.NewSectionReader(fh, 0, fi.Size()), nil
}
