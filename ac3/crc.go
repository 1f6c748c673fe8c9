package ac3

// CRC-16 with polynomial 0x8005 (x^16 + x^15 + x^2 + 1), MSB first, zero
// initial value. A correctly protected region has a zero remainder.
var crcTable [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x8005
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

func crc16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}

// frameSize58 returns the length of the region covered by CRC1 in an AC-3
// frame of size n bytes (the first 5/8 of the frame, in whole words).
func frameSize58(n int) int {
	return ((n >> 2) + (n >> 4)) << 1
}

// VerifyChecksums reports whether the frame at the start of buf carries
// correct checksums. For AC-3 both CRC1 and CRC2 are checked, for E-AC-3 the
// frame-wide CRC. It returns false if buf does not hold a complete frame.
func VerifyChecksums(buf []byte) bool {
	h, err := DecodeHeader(buf)
	if err != nil || len(buf) < h.FrameSize {
		return false
	}
	return verifyChecksums(&h, buf[:h.FrameSize])
}

// RepairChecksums recomputes the checksums of the frame at the start of buf,
// typically after header fields were edited in place. It returns false if
// buf does not start with a complete frame.
func RepairChecksums(buf []byte) bool {
	h, err := DecodeHeader(buf)
	if err != nil || len(buf) < h.FrameSize {
		return false
	}
	updateChecksums(&h, buf[:h.FrameSize])
	return true
}

func verifyChecksums(h *FrameHeader, frame []byte) bool {
	if len(frame) < h.FrameSize {
		return false
	}
	if !h.IsEAC3() {
		if crc16(0, frame[2:frameSize58(h.FrameSize)]) != 0 {
			return false
		}
	}
	return crc16(0, frame[2:h.FrameSize]) == 0
}

// updateChecksums rewrites the checksums of frame so that verifyChecksums
// succeeds. Used after editing header fields in place.
func updateChecksums(h *FrameHeader, frame []byte) {
	n := h.FrameSize
	if !h.IsEAC3() {
		fixCRC1(frame, frameSize58(n))
	}
	crc := crc16(0, frame[2:n-2])
	frame[n-2] = byte(crc >> 8)
	frame[n-1] = byte(crc)
}

// fixCRC1 solves for the CRC1 word at frame[2:4] such that the remainder of
// frame[2:size58] is zero. CRC1 sits at the start of the region it protects,
// so it cannot simply be appended; the register value after feeding CRC1
// followed by zero bytes is linear in CRC1, which makes the system solvable.
func fixCRC1(frame []byte, size58 int) {
	frame[2], frame[3] = 0, 0
	target := crc16(0, frame[2:size58])
	zeros := size58 - 4

	var basis [16]struct{ v, combo uint16 }
	for i := 0; i < 16; i++ {
		combo := uint16(1) << uint(i)
		v := crcOfPrefix(combo, zeros)
		for b := 15; b >= 0; b-- {
			if (v>>uint(b))&1 == 0 {
				continue
			}
			if basis[b].v == 0 {
				basis[b].v, basis[b].combo = v, combo
				break
			}
			v ^= basis[b].v
			combo ^= basis[b].combo
		}
	}

	var c uint16
	for b := 15; b >= 0; b-- {
		if (target>>uint(b))&1 == 1 {
			target ^= basis[b].v
			c ^= basis[b].combo
		}
	}
	frame[2], frame[3] = byte(c>>8), byte(c)
}

func crcOfPrefix(c uint16, zeros int) uint16 {
	crc := crc16(0, []byte{byte(c >> 8), byte(c)})
	for i := 0; i < zeros; i++ {
		crc = (crc << 8) ^ crcTable[byte(crc>>8)]
	}
	return crc
}
