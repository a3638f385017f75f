// Package deflate implements the Compress Unit: per chunk, it runs
// DEFLATE over a filtered block using the previous chunk's trailing
// window as a preset dictionary, and emits a byte-aligned, sync-flushed
// raw DEFLATE fragment with no final-block marker. Every chunk is
// compressed identically regardless of position; FinalBlock supplies the
// one standalone final block a stream needs, appended once by the
// Stitcher after the last fragment.
//
// The underlying engine is klauspost/compress/flate rather than the
// standard library's compress/flate. Both expose the same
// NewWriterDict/Flush/Close surface (klauspost/compress is a drop-in,
// faster reimplementation used elsewhere in the retrieval pack by
// folbricht/desync), which is exactly the block-level control spec.md §4.4
// assumes of "the underlying DEFLATE engine": Flush performs a Z_SYNC_FLUSH
// (empty stored block, byte boundary, no final-block bit) and Close
// performs Z_FINISH (final-block bit, bit-flushed to a byte boundary).
package deflate

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/flate"

	"github.com/five82/parapng/internal/checksum"
)

// MaxDictSize is the DEFLATE window size: the largest preset dictionary a
// compressor can use, and therefore also the threshold below which
// set_chunk_size is rejected (spec.md §6 — dictionary carry is meaningless
// below one window).
const MaxDictSize = 32 * 1024

// Fragment is one chunk's compressed output, plus the bookkeeping the
// Stitcher and the next chunk's Compress Unit need: the trailing window
// for dictionary carry, and the filtered block's own Adler-32/length for
// Adler combination.
type Fragment struct {
	Data  []byte // raw DEFLATE bytes, byte-aligned at both ends
	Dict  []byte // trailing <=32KiB of this chunk's filtered bytes
	Adler uint32 // Adler-32 of this chunk's filtered block
	Len   int    // length in bytes of this chunk's filtered block
}

// TrailingWindow returns the last up-to-MaxDictSize bytes of filtered,
// suitable as the next chunk's preset dictionary.
func TrailingWindow(filtered []byte) []byte {
	if len(filtered) > MaxDictSize {
		return filtered[len(filtered)-MaxDictSize:]
	}
	return filtered
}

// Compress runs DEFLATE over filtered using dict (the previous chunk's
// trailing window, or nil for the first chunk) as a preset dictionary,
// ending on a sync-flushed byte boundary with no final-block marker, so
// the Stitcher can concatenate it ahead of the next chunk's fragment (or
// ahead of FinalBlock, for the last chunk). No chunk is special-cased as
// "the last one": the stream is terminated uniformly by appending
// FinalBlock's empty final block once every chunk has been written.
func Compress(level int, dict, filtered []byte) (Fragment, error) {
	var buf bytes.Buffer

	zw, err := newWriter(&buf, level, dict)
	if err != nil {
		return Fragment{}, fmt.Errorf("deflate: new writer: %w", err)
	}

	if _, err := zw.Write(filtered); err != nil {
		return Fragment{}, fmt.Errorf("deflate: write: %w", err)
	}
	if err := zw.Flush(); err != nil {
		return Fragment{}, fmt.Errorf("deflate: sync flush: %w", err)
	}

	adler := checksum.NewAdler32()
	_, _ = adler.Write(filtered)

	return Fragment{
		Data:  buf.Bytes(),
		Dict:  TrailingWindow(filtered),
		Adler: adler.Sum32(),
		Len:   len(filtered),
	}, nil
}

// FinalBlock returns the bytes of an empty DEFLATE final block: the
// byte-aligned terminator every zlib stream needs exactly once, appended
// by the Stitcher after the last chunk fragment regardless of how many
// chunks the image had.
func FinalBlock(level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("deflate: new writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate: close: %w", err)
	}
	return buf.Bytes(), nil
}

func newWriter(w *bytes.Buffer, level int, dict []byte) (*flate.Writer, error) {
	if len(dict) == 0 {
		return flate.NewWriter(w, level)
	}
	return flate.NewWriterDict(w, level, dict)
}
