package pngio

import (
	"encoding/binary"

	"github.com/five82/parapng/internal/imgmodel"
)

// WriteSignature writes the 8-byte PNG magic.
func WriteSignature(w Sink) error {
	return fullWrite(w, Signature[:])
}

// WriteIHDR writes the IHDR chunk for desc. Compression method, filter
// method, and interlace method are always 0 per spec.md §4.6 — this
// encoder never produces interlaced output.
func WriteIHDR(w Sink, desc imgmodel.Descriptor) error {
	var data [13]byte
	binary.BigEndian.PutUint32(data[0:4], desc.Width)
	binary.BigEndian.PutUint32(data[4:8], desc.Height)
	data[8] = desc.BitDepth
	data[9] = byte(desc.ColorType)
	data[10] = 0 // compression method: deflate
	data[11] = 0 // filter method: adaptive (per-row tag byte)
	data[12] = 0 // interlace method: none
	return WriteChunk(w, "IHDR", data[:])
}

// WriteIEND writes the empty IEND chunk that terminates a PNG file.
func WriteIEND(w Sink) error {
	return WriteChunk(w, "IEND", nil)
}

// zlibWindowCINFO encodes the only window size this encoder's zlib wrapper declares:
// the full 32 KiB DEFLATE window, matching the preset-dictionary size the
// Compress Unit carries across chunk boundaries.
const zlibWindowCINFO = 7 // log2(32768) - 8

// ZlibHeader returns the 2-byte zlib stream header (CMF, FLG) for the
// given compression level (0-9, or a negative "default" sentinel),
// satisfying (CMF*256+FLG) % 31 == 0 and never setting FDICT, since the
// preset dictionary is a DEFLATE-level-only construct that must not be
// advertised at the zlib-stream level (spec.md §6).
func ZlibHeader(level int) [2]byte {
	cmf := byte((8 & 0x0F) | (zlibWindowCINFO&0x0F)<<4) // CM=8 (deflate), CINFO=7

	var flevel byte
	switch {
	case level < 0:
		flevel = 2 // default compression
	case level < 2:
		flevel = 0
	case level < 6:
		flevel = 1
	case level == 6:
		flevel = 2
	default:
		flevel = 3
	}

	const fdict = 0
	base := (flevel << 6) | (fdict << 5)
	fcheck := 31 - ((int(cmf)*256 + int(base)) % 31)
	if fcheck == 31 {
		fcheck = 0
	}

	return [2]byte{cmf, base | byte(fcheck)}
}

// ZlibTrailer returns the 4-byte big-endian Adler-32 trailer for a zlib
// stream.
func ZlibTrailer(adler uint32) [4]byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], adler)
	return buf
}
