package mp4

import "io"

// TimeToSampleEntry is one run of the stts table.
type TimeToSampleEntry struct {
	Count    uint32
	Duration uint32
}

// CompositionOffsetEntry is one run of the ctts table.
type CompositionOffsetEntry struct {
	Count  uint32
	Offset int32
}

// SampleToChunkEntry is one run of the stsc table. FirstChunk is zero-based.
type SampleToChunkEntry struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
	DescriptionID   uint32
}

// table reads a full-box table payload: version and flags, a 32-bit entry
// count and count entries of entrySize bytes. It returns the payload, the
// entry count and the offset of the first entry.
func (w *walker) table(r io.ReaderAt, a Atom, entrySize int64) ([]byte, int, int64, error) {
	buf, err := w.payload(r, a, 8)
	if err != nil {
		return nil, 0, 0, err
	}
	count := int64(be.Uint32(buf[4:]))
	start := int64(8)
	if need := start + count*entrySize; int64(len(buf)) < need {
		return nil, 0, 0, shortRecord(a, int64(len(buf)), need)
	}
	return buf, int(count), start, nil
}

func (w *walker) stts(r io.ReaderAt, a Atom, _ int) error {
	buf, count, at, err := w.table(r, a, 8)
	if err != nil {
		return err
	}
	entries := make([]TimeToSampleEntry, count)
	for i := range entries {
		entries[i] = TimeToSampleEntry{
			Count:    be.Uint32(buf[at:]),
			Duration: be.Uint32(buf[at+4:]),
		}
		at += 8
	}
	w.track.TimeToSample = entries
	w.log.Debug("sample duration table", "track", w.track.ID, "entries", count)
	return nil
}

func (w *walker) ctts(r io.ReaderAt, a Atom, _ int) error {
	buf, count, at, err := w.table(r, a, 8)
	if err != nil {
		return err
	}
	entries := make([]CompositionOffsetEntry, count)
	for i := range entries {
		entries[i] = CompositionOffsetEntry{
			Count:  be.Uint32(buf[at:]),
			Offset: int32(be.Uint32(buf[at+4:])),
		}
		at += 8
	}
	w.track.CompositionOffsets = entries
	return nil
}

func (w *walker) stsc(r io.ReaderAt, a Atom, _ int) error {
	buf, count, at, err := w.table(r, a, 12)
	if err != nil {
		return err
	}
	entries := make([]SampleToChunkEntry, count)
	for i := range entries {
		first := be.Uint32(buf[at:])
		if first > 0 {
			first--
		}
		entries[i] = SampleToChunkEntry{
			FirstChunk:      first,
			SamplesPerChunk: be.Uint32(buf[at+4:]),
			DescriptionID:   be.Uint32(buf[at+8:]),
		}
		at += 12
	}
	w.track.SampleToChunk = entries
	w.log.Debug("chunk map table", "track", w.track.ID, "entries", count)
	return nil
}

func (w *walker) stsz(r io.ReaderAt, a Atom, _ int) error {
	buf, err := w.payload(r, a, 12)
	if err != nil {
		return err
	}
	size := be.Uint32(buf[4:])
	count := int64(be.Uint32(buf[8:]))
	w.track.SampleCount = uint32(count)
	if size != 0 {
		w.track.SampleSize = size
		w.log.Debug("constant sample size", "track", w.track.ID, "size", size)
		return nil
	}
	if need := 12 + count*4; int64(len(buf)) < need {
		return shortRecord(a, int64(len(buf)), need)
	}
	sizes := make([]uint32, count)
	for i := range sizes {
		sizes[i] = be.Uint32(buf[12+4*i:])
	}
	w.track.SampleSizes = sizes
	w.log.Debug("sample size table", "track", w.track.ID, "entries", count)
	return nil
}

func (w *walker) stco(r io.ReaderAt, a Atom, _ int) error {
	buf, count, at, err := w.table(r, a, 4)
	if err != nil {
		return err
	}
	offsets := make([]uint64, count)
	for i := range offsets {
		offsets[i] = uint64(be.Uint32(buf[at:]))
		at += 4
	}
	w.track.ChunkOffsets = offsets
	w.log.Debug("chunk offset table", "track", w.track.ID, "entries", count)
	return nil
}

func (w *walker) co64(r io.ReaderAt, a Atom, _ int) error {
	buf, count, at, err := w.table(r, a, 8)
	if err != nil {
		return err
	}
	offsets := make([]uint64, count)
	for i := range offsets {
		offsets[i] = be.Uint64(buf[at:])
		at += 8
	}
	w.track.ChunkOffsets = offsets
	w.log.Debug("64-bit chunk offset table", "track", w.track.ID, "entries", count)
	return nil
}

func (w *walker) stss(r io.ReaderAt, a Atom, _ int) error {
	buf, count, at, err := w.table(r, a, 4)
	if err != nil {
		return err
	}
	entries := make([]uint32, count)
	for i := range entries {
		entries[i] = be.Uint32(buf[at:])
		at += 4
	}
	w.track.SyncSamples = entries
	w.log.Debug("keyframe table", "track", w.track.ID, "entries", count)
	return nil
}
