// Package pngio implements PNG chunk framing (length + type + data + CRC),
// the zlib wrapper around the stitched DEFLATE stream, and the Stitcher
// that assembles completed chunk fragments into IDAT chunks in strict
// sequence order.
//
// Chunk framing is grounded on
// other_examples/18715dec_rmamba-image__png-writer.go.go's writeChunk (a
// fork of the Go standard library's image/png encoder): a 4-byte
// big-endian length, the 4-byte ASCII type, the payload, then a 4-byte
// big-endian CRC-32 over type+payload.
package pngio

import (
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/five82/parapng/internal/checksum"
)

// Signature is the 8-byte magic every PNG file begins with.
var Signature = [8]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// Sink is the caller-supplied write capability spec.md §6 requires: Write
// must return the number of bytes actually accepted, with a short count
// treated as fatal (IoFailure) by the caller.
type Sink interface {
	Write(p []byte) (n int, err error)
}

// WriteChunk writes one complete PNG chunk (length, type, data, CRC) to w
// in a single call. Used for IHDR and IEND, which are always built in one
// shot; IDAT uses the incremental idatWriter below since its payload streams
// in over many fragments.
func WriteChunk(w Sink, chunkType string, data []byte) error {
	if len(chunkType) != 4 {
		return fmt.Errorf("pngio: chunk type %q must be 4 bytes", chunkType)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if err := fullWrite(w, lenBuf[:]); err != nil {
		return err
	}

	crc := checksum.NewCRC32()
	typeBytes := []byte(chunkType)
	_, _ = crc.Write(typeBytes)
	_, _ = crc.Write(data)

	if err := fullWrite(w, typeBytes); err != nil {
		return err
	}
	if err := fullWrite(w, data); err != nil {
		return err
	}

	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc.Sum32())
	return fullWrite(w, crcBuf[:])
}

// fullWrite writes all of p to w, treating a short write as an IoFailure
// the caller will translate into its own error kind.
func fullWrite(w Sink, p []byte) error {
	n, err := w.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("pngio: short write (%d of %d bytes)", n, len(p))
	}
	return nil
}

// idatWriter incrementally builds one IDAT chunk's payload, tracking its
// CRC-32 (over "IDAT" + payload) as bytes are appended, per spec.md §3's
// "running CRC-32 is reset per PNG chunk."
type idatWriter struct {
	payload []byte
	crc     hash.Hash32
}

func newIDATWriter() *idatWriter {
	w := &idatWriter{crc: checksum.NewCRC32()}
	_, _ = w.crc.Write([]byte("IDAT"))
	return w
}

func (w *idatWriter) append(p []byte) {
	w.payload = append(w.payload, p...)
	_, _ = w.crc.Write(p)
}

func (w *idatWriter) len() int { return len(w.payload) }

// closeTo writes the complete IDAT chunk (length, "IDAT", payload, CRC) to
// sink.
func (w *idatWriter) closeTo(sink Sink) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(w.payload)))
	if err := fullWrite(sink, lenBuf[:]); err != nil {
		return err
	}
	if err := fullWrite(sink, []byte("IDAT")); err != nil {
		return err
	}
	if err := fullWrite(sink, w.payload); err != nil {
		return err
	}
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], w.crc.Sum32())
	return fullWrite(sink, crcBuf[:])
}
