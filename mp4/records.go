package mp4

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/zsiec/demuxkit/media"
)

var be = binary.BigEndian

// Fixed record sizes by version, excluding the atom header.
const (
	mvhdSizeV0 = 100
	mvhdSizeV1 = 112
	tkhdSizeV0 = 84
	tkhdSizeV1 = 96
	mdhdSizeV0 = 24
	mdhdSizeV1 = 36
	hdlrSize   = 24

	sampleEntryBaseSize = 16
	soundEntrySizeV0    = 36
	soundEntrySizeV1    = 52
	soundEntrySizeV2    = 72
	videoEntrySize      = 86
)

// versioned reads a full-box payload and checks it against the record size
// of its version.
func (w *walker) versioned(r io.ReaderAt, a Atom, sizeV0, sizeV1 int64) ([]byte, uint8, error) {
	buf, err := w.payload(r, a, 4)
	if err != nil {
		return nil, 0, err
	}
	version := buf[0]
	need := sizeV0
	if version == 1 {
		need = sizeV1
	}
	if int64(len(buf)) < need {
		return nil, 0, shortRecord(a, int64(len(buf)), need)
	}
	return buf, version, nil
}

func (w *walker) ftyp(r io.ReaderAt, a Atom, _ int) error {
	buf, err := w.payload(r, a, 8)
	if err != nil {
		return err
	}
	brands := []string{Tag(be.Uint32(buf)).String()}
	for i := 8; i+4 <= len(buf); i += 4 {
		brands = append(brands, Tag(be.Uint32(buf[i:])).String())
	}
	w.file.Brands = brands
	w.file.MinorVersion = be.Uint32(buf[4:])
	return nil
}

func (w *walker) mvhd(r io.ReaderAt, a Atom, _ int) error {
	buf, version, err := w.versioned(r, a, mvhdSizeV0, mvhdSizeV1)
	if err != nil {
		return err
	}
	if version == 1 {
		w.file.TimeScale = be.Uint32(buf[20:])
		w.file.Duration = be.Uint64(buf[24:])
	} else {
		w.file.TimeScale = be.Uint32(buf[12:])
		w.file.Duration = uint64(be.Uint32(buf[16:]))
	}
	w.log.Debug("movie header", "timescale", w.file.TimeScale, "duration", w.file.Duration)
	return nil
}

func (w *walker) tkhd(r io.ReaderAt, a Atom, _ int) error {
	buf, version, err := w.versioned(r, a, tkhdSizeV0, tkhdSizeV1)
	if err != nil {
		return err
	}
	if version == 1 {
		w.track.ID = be.Uint32(buf[20:])
	} else {
		w.track.ID = be.Uint32(buf[12:])
	}
	w.log.Debug("track header", "track", w.track.ID)
	return nil
}

func (w *walker) mdhd(r io.ReaderAt, a Atom, _ int) error {
	buf, version, err := w.versioned(r, a, mdhdSizeV0, mdhdSizeV1)
	if err != nil {
		return err
	}
	var lang uint16
	if version == 1 {
		w.track.TimeScale = be.Uint32(buf[20:])
		w.track.Duration = be.Uint64(buf[24:])
		lang = be.Uint16(buf[32:])
	} else {
		w.track.TimeScale = be.Uint32(buf[12:])
		w.track.Duration = uint64(be.Uint32(buf[16:]))
		lang = be.Uint16(buf[20:])
	}
	w.track.Language = decodeLanguage(lang)
	w.log.Debug("media header", "track", w.track.ID, "timescale", w.track.TimeScale,
		"duration", w.track.Duration, "language", w.track.Language)
	return nil
}

// decodeLanguage unpacks an ISO 639-2/T code stored as three 5-bit letters.
// Values below 0x400 are Macintosh language codes and yield "".
func decodeLanguage(v uint16) string {
	v &= 0x7FFF
	if v < 0x400 {
		return ""
	}
	return string([]byte{
		byte(v>>10&0x1F) + 0x60,
		byte(v>>5&0x1F) + 0x60,
		byte(v&0x1F) + 0x60,
	})
}

func (w *walker) hdlr(r io.ReaderAt, a Atom, _ int) error {
	buf, err := w.payload(r, a, hdlrSize)
	if err != nil {
		return err
	}
	w.track.Handler = Tag(be.Uint32(buf[8:]))
	switch w.track.Handler {
	case tagSoun:
		w.track.Kind = media.KindAudio
	case tagVide:
		w.track.Kind = media.KindVideo
	case tagClcp:
		w.track.Kind = media.KindCaption
	}
	w.log.Debug("media handler", "track", w.track.ID,
		"handler_component", Tag(be.Uint32(buf[4:])), "subtype", w.track.Handler)
	return nil
}

// dataHandler decodes the QuickTime data handler reference inside minf. It
// carries nothing the demuxer needs.
func (w *walker) dataHandler(r io.ReaderAt, a Atom, _ int) error {
	buf, err := w.payload(r, a, hdlrSize)
	if err != nil {
		return err
	}
	w.log.Debug("data handler", "track", w.track.ID,
		"handler_component", Tag(be.Uint32(buf[4:])), "subtype", Tag(be.Uint32(buf[8:])))
	return nil
}

func (w *walker) elst(r io.ReaderAt, a Atom, _ int) error {
	buf, err := w.payload(r, a, 8)
	if err != nil {
		return err
	}
	entrySize := int64(12)
	if buf[0] == 1 {
		entrySize = 20
	}
	count := int64(be.Uint32(buf[4:]))
	if need := 8 + count*entrySize; int64(len(buf)) < need {
		return shortRecord(a, int64(len(buf)), need)
	}
	edits := make([]Edit, count)
	for i := range edits {
		e := buf[8+int64(i)*entrySize:]
		if buf[0] == 1 {
			edits[i] = Edit{
				SegmentDuration: be.Uint64(e),
				MediaTime:       int64(be.Uint64(e[8:])),
				Rate:            be.Uint32(e[16:]),
			}
		} else {
			edits[i] = Edit{
				SegmentDuration: uint64(be.Uint32(e)),
				MediaTime:       int64(int32(be.Uint32(e[4:]))),
				Rate:            be.Uint32(e[8:]),
			}
		}
	}
	w.track.EditList = edits
	return nil
}

func (w *walker) stsd(r io.ReaderAt, a Atom, _ int) error {
	buf, err := w.payload(r, a, 8)
	if err != nil {
		return err
	}
	count := be.Uint32(buf[4:])
	if count == 0 {
		return nil
	}
	if count > 1 {
		w.log.Debug("multiple sample descriptions, using the first", "track", w.track.ID, "count", count)
	}

	entry := buf[8:]
	if len(entry) < sampleEntryBaseSize {
		return shortRecord(a, int64(len(buf)), 8+sampleEntryBaseSize)
	}
	size := int64(be.Uint32(entry))
	if size < sampleEntryBaseSize || size > int64(len(entry)) {
		return shortRecord(a, int64(len(entry)), max(size, sampleEntryBaseSize))
	}
	entry = entry[:size]
	w.track.Codec = Tag(be.Uint32(entry[4:]))

	switch w.track.Kind {
	case media.KindAudio:
		return w.soundDescription(a, entry)
	case media.KindVideo:
		return w.videoDescription(a, entry)
	}
	return nil
}

func (w *walker) soundDescription(a Atom, entry []byte) error {
	t := w.track
	if len(entry) < soundEntrySizeV0 {
		return shortRecord(a, int64(len(entry)), soundEntrySizeV0)
	}
	t.SoundVersion = be.Uint16(entry[16:])
	t.Channels = int(be.Uint16(entry[24:]))
	t.BitDepth = int(be.Uint16(entry[26:]))
	t.SampleRate = int(be.Uint32(entry[32:]) >> 16)

	ext := soundEntrySizeV0
	switch t.SoundVersion {
	case 1:
		if len(entry) < soundEntrySizeV1 {
			return shortRecord(a, int64(len(entry)), soundEntrySizeV1)
		}
		t.SamplesPerPacket = be.Uint32(entry[36:])
		t.BytesPerPacket = be.Uint32(entry[40:])
		t.BytesPerFrame = be.Uint32(entry[44:])
		t.BytesPerSample = be.Uint32(entry[48:])
		ext = soundEntrySizeV1
	case 2:
		if len(entry) < soundEntrySizeV2 {
			return shortRecord(a, int64(len(entry)), soundEntrySizeV2)
		}
		t.SampleRate = int(math.Float64frombits(be.Uint64(entry[40:])))
		t.Channels = int(be.Uint32(entry[48:]))
		t.BitDepth = int(be.Uint32(entry[56:]))
		t.BytesPerFrame = be.Uint32(entry[64:])
		t.SamplesPerPacket = be.Uint32(entry[68:])
		ext = soundEntrySizeV2
	}

	cfg, objectType, ok := findCodecConfig(entry[ext:])
	t.ObjectType = objectType
	switch {
	case ok:
		t.CodecConfig = cfg
	case len(entry) > ext:
		t.CodecConfig = firstChildPayload(entry[ext:])
	}
	w.log.Debug("sound description", "track", t.ID, "codec", t.Codec, "version", t.SoundVersion,
		"channels", t.Channels, "rate", t.SampleRate, "bits", t.BitDepth)
	return nil
}

func (w *walker) videoDescription(a Atom, entry []byte) error {
	t := w.track
	if len(entry) < videoEntrySize {
		return shortRecord(a, int64(len(entry)), videoEntrySize)
	}
	t.Width = int(be.Uint16(entry[32:]))
	t.Height = int(be.Uint16(entry[34:]))
	t.Depth = int(be.Uint16(entry[82:]))

	if cfg, _, ok := findCodecConfig(entry[videoEntrySize:]); ok {
		t.CodecConfig = cfg
	} else {
		t.CodecConfig = entry
	}
	w.log.Debug("video description", "track", t.ID, "codec", t.Codec,
		"width", t.Width, "height", t.Height, "depth", t.Depth)
	return nil
}

var configAtoms = map[Tag]bool{
	StringToTag("avcC"): true,
	StringToTag("hvcC"): true,
	StringToTag("av1C"): true,
	StringToTag("vpcC"): true,
	StringToTag("dac3"): true,
	StringToTag("dec3"): true,
	StringToTag("dOps"): true,
	StringToTag("dfLa"): true,
	StringToTag("alac"): true,
	StringToTag("glbl"): true,
}

var (
	tagEsds = StringToTag("esds")
	tagWave = StringToTag("wave")
)

// findCodecConfig scans the extension atoms of a sample entry for a codec
// configuration record. QuickTime wraps them in a 'wave' atom. Malformed
// extensions end the scan without error.
func findCodecConfig(ext []byte) ([]byte, uint8, bool) {
	for len(ext) >= atomHeaderSize {
		size := int(be.Uint32(ext))
		typ := Tag(be.Uint32(ext[4:]))
		if size == 0 {
			size = len(ext)
		}
		if size < atomHeaderSize || size > len(ext) {
			return nil, 0, false
		}
		body := ext[atomHeaderSize:size]
		switch {
		case typ == tagEsds:
			if cfg, objectType, ok := parseESDS(body); ok {
				return cfg, objectType, true
			}
		case typ == tagWave:
			if cfg, objectType, ok := findCodecConfig(body); ok {
				return cfg, objectType, true
			}
		case configAtoms[typ]:
			return body, 0, true
		}
		ext = ext[size:]
	}
	return nil, 0, false
}

func firstChildPayload(ext []byte) []byte {
	if len(ext) < atomHeaderSize {
		return nil
	}
	size := int(be.Uint32(ext))
	if size < atomHeaderSize || size > len(ext) {
		return nil
	}
	return ext[atomHeaderSize:size]
}

// MPEG-4 descriptor tags used inside esds.
const (
	esDescrTag            = 0x03
	decoderConfigDescrTag = 0x04
	decSpecificInfoTag    = 0x05
)

// parseESDS extracts the decoder specific info and the object type
// indication from an esds payload.
func parseESDS(body []byte) ([]byte, uint8, bool) {
	if len(body) < 4 {
		return nil, 0, false
	}
	tag, es, _ := readDescriptor(body[4:])
	if tag != esDescrTag || len(es) < 3 {
		return nil, 0, false
	}
	flags := es[2]
	p := es[3:]
	if flags&0x80 != 0 { // streamDependenceFlag
		if len(p) < 2 {
			return nil, 0, false
		}
		p = p[2:]
	}
	if flags&0x40 != 0 { // URL_Flag
		if len(p) < 1 || len(p) < 1+int(p[0]) {
			return nil, 0, false
		}
		p = p[1+int(p[0]):]
	}
	if flags&0x20 != 0 { // OCRstreamFlag
		if len(p) < 2 {
			return nil, 0, false
		}
		p = p[2:]
	}

	tag, dc, _ := readDescriptor(p)
	if tag != decoderConfigDescrTag || len(dc) < 13 {
		return nil, 0, false
	}
	objectType := dc[0]
	tag, dsi, _ := readDescriptor(dc[13:])
	if tag != decSpecificInfoTag {
		return nil, objectType, true
	}
	return dsi, objectType, true
}

// readDescriptor splits one MPEG-4 descriptor with its variable-length size
// from b.
func readDescriptor(b []byte) (byte, []byte, []byte) {
	if len(b) < 2 {
		return 0, nil, nil
	}
	tag := b[0]
	n, i := 0, 1
	for {
		if i >= len(b) || i > 4 {
			return 0, nil, nil
		}
		c := b[i]
		i++
		n = n<<7 | int(c&0x7F)
		if c&0x80 == 0 {
			break
		}
	}
	if n > len(b)-i {
		return 0, nil, nil
	}
	return tag, b[i : i+n], b[i+n:]
}
