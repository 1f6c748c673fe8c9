package ac3

// dialnormUnity is the dialog normalization value at which decoders apply no
// attenuation.
const dialnormUnity = 31

// RemoveDialogNormalization rewrites the dialnorm fields of the frame at the
// start of buf to 31 (and dialnorm2 for dual-mono frames), then recomputes the
// checksums. It returns false if buf does not start with a complete frame.
// Frames already at 31 are left untouched.
func RemoveDialogNormalization(buf []byte) bool {
	h, err := DecodeHeader(buf)
	if err != nil || len(buf) < h.FrameSize {
		return false
	}
	frame := buf[:h.FrameSize]

	changed := false
	for _, pos := range dialnormPositions(&h, frame) {
		r := newBitReader(frame)
		r.skip(pos)
		if r.readUint8(5) == dialnormUnity {
			continue
		}
		setBits(frame, pos, 5, dialnormUnity)
		changed = true
	}
	if changed {
		updateChecksums(&h, frame)
	}
	return true
}

// dialnormPositions returns the bit offsets of the 5-bit dialnorm fields in
// the bit stream information of frame.
func dialnormPositions(h *FrameHeader, frame []byte) []int {
	r := newBitReader(frame)
	if h.IsEAC3() {
		// sync, strmtyp, substreamid, frmsiz, fscod, fscod2/numblkscod,
		// acmod, lfeon, bsid
		r.skip(16 + 2 + 3 + 11 + 2 + 2 + 3 + 1 + 5)
		first := r.bitPos
		if h.ChannelMode != 0 {
			return []int{first}
		}
		r.skip(5)
		if r.readBit() {
			r.skip(8) // compr
		}
		return []int{first, r.bitPos}
	}

	// sync, crc1, fscod, frmsizecod, bsid, bsmod, acmod
	r.skip(16 + 16 + 2 + 6 + 5 + 3 + 3)
	if h.ChannelMode&1 != 0 && h.ChannelMode != 1 {
		r.skip(2)
	}
	if h.ChannelMode&4 != 0 {
		r.skip(2)
	}
	if h.ChannelMode == 2 {
		r.skip(2)
	}
	r.skip(1) // lfeon
	first := r.bitPos
	if h.ChannelMode != 0 {
		return []int{first}
	}
	r.skip(5)
	if r.readBit() {
		r.skip(8) // compr
	}
	if r.readBit() {
		r.skip(8) // langcod
	}
	if r.readBit() {
		r.skip(5 + 2) // mixlevel, roomtyp
	}
	return []int{first, r.bitPos}
}
