package pngio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/five82/parapng/internal/checksum"
	"github.com/five82/parapng/internal/deflate"
)

// ErrFlushFailed is wrapped into the error returned by Accept/Finish when
// the caller's Flusher reports failure (returns false), per spec.md §7's
// "write/flush callback short or false" -> IoFailure.
var ErrFlushFailed = errors.New("pngio: flush callback returned false")

// maxIDATPayload bounds how much compressed data accumulates in one IDAT
// chunk before the Stitcher closes it and starts the next. Real PNG
// encoders cap this well below the 2^31-1 chunk-length ceiling so that a
// streaming decoder sees progress; rmamba-image's writer uses a similar
// fixed cap ahead of each zlib.Writer.Flush.
const maxIDATPayload = 256 * 1024

// Flusher is invoked each time the Stitcher closes a completed IDAT chunk,
// letting the caller flush buffered output (e.g. to a socket or file) and
// report whether that flush succeeded. A false return is fatal
// (ErrFlushFailed). NewStitcher does not require one: a nil Flusher is
// replaced by one that always reports success.
type Flusher func(idatBytes int) bool

// Stitcher assembles deflate.Fragments into the zlib-wrapped IDAT stream,
// in strict sequence order, regardless of the order their Compress Units
// actually finish in. Fragment 0 triggers the zlib header; Finish appends
// the empty DEFLATE final block after the last fragment, followed by the
// 4-byte trailer holding the running combination of every chunk's
// Adler-32.
//
// Out-of-order arrivals are parked in a small map keyed by sequence
// number and drained once the expected next sequence number arrives —
// the same pattern the teacher's internal/encode.EncodeAll dispatcher
// uses for completed-but-unordered chunk results.
type Stitcher struct {
	mu    sync.Mutex
	sink  Sink
	level int
	flush Flusher

	next    int
	pending map[int]deflate.Fragment

	headerWritten bool
	runningAdler  uint32
	totalLen      int64

	idat *idatWriter
}

// NewStitcher creates a Stitcher writing zlib-wrapped IDAT chunks to sink
// at the given compression level (used only to pick the zlib header's
// FLEVEL bits — the level that actually governs compression ratio was
// already applied by each Compress Unit).
func NewStitcher(sink Sink, level int, flush Flusher) *Stitcher {
	if flush == nil {
		flush = func(int) bool { return true }
	}
	return &Stitcher{
		sink:         sink,
		level:        level,
		flush:        flush,
		pending:      make(map[int]deflate.Fragment),
		runningAdler: 1, // Adler-32 of the empty string
		idat:         newIDATWriter(),
	}
}

// Accept submits the fragment for sequence number seq. Fragments may
// arrive in any order; Accept buffers out-of-order ones and writes
// through every fragment that becomes ready, in order, on each call.
func (s *Stitcher) Accept(seq int, frag deflate.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[seq] = frag
	for {
		frag, ok := s.pending[s.next]
		if !ok {
			return nil
		}
		delete(s.pending, s.next)
		if err := s.writeFragment(frag); err != nil {
			return err
		}
		s.next++
	}
}

func (s *Stitcher) writeFragment(frag deflate.Fragment) error {
	if !s.headerWritten {
		hdr := ZlibHeader(s.level)
		s.idat.append(hdr[:])
		s.headerWritten = true
	}

	s.idat.append(frag.Data)
	s.runningAdler = checksum.CombineAdler32(s.runningAdler, frag.Adler, int64(frag.Len))
	s.totalLen += int64(frag.Len)

	if s.idat.len() >= maxIDATPayload {
		return s.closeIDAT()
	}
	return nil
}

// Finish appends the DEFLATE final block, the zlib Adler-32 trailer, and
// closes the final IDAT chunk. It is an error to call Finish before every
// submitted sequence number has been drained (a gap means a chunk never
// arrived).
func (s *Stitcher) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		return fmt.Errorf("pngio: stitcher finished with %d chunk(s) still out of sequence", len(s.pending))
	}
	if !s.headerWritten {
		// Zero-chunk image: still a valid (empty) zlib stream.
		hdr := ZlibHeader(s.level)
		s.idat.append(hdr[:])
		s.headerWritten = true
	}

	final, err := deflate.FinalBlock(s.level)
	if err != nil {
		return fmt.Errorf("pngio: final block: %w", err)
	}
	s.idat.append(final)

	trailer := ZlibTrailer(s.runningAdler)
	s.idat.append(trailer[:])
	return s.closeIDAT()
}

func (s *Stitcher) closeIDAT() error {
	if s.idat.len() == 0 {
		return nil
	}
	n := s.idat.len()
	if err := s.idat.closeTo(s.sink); err != nil {
		return err
	}
	if !s.flush(n) {
		return fmt.Errorf("pngio: flush after %d-byte IDAT chunk: %w", n, ErrFlushFailed)
	}
	s.idat = newIDATWriter()
	return nil
}
