// Package chunked implements the Row Accumulator: it buffers inbound raw
// pixel rows into fixed-size, row-aligned chunks and hands each completed
// chunk to a Sink (the Chunk Dispatcher) as soon as its row quota is
// reached.
//
// The "chunk" here is spec.md's parallel-job unit, grounded in shape on
// the teacher's internal/chunk.Chunk (a contiguous index span handed to a
// worker) but generalized from a frame range in a video to a row range in
// an image — and, unlike the teacher's chunker, boundaries are decided
// purely by a byte budget (chunkSize / bytesPerRow) rather than scene cuts.
package chunked

import (
	"fmt"

	"github.com/five82/parapng/internal/imgmodel"
)

// RawChunk is a contiguous, row-aligned span of raw (unfiltered) row
// bytes, not yet assigned a sequence number — that happens at dispatch.
type RawChunk struct {
	FirstRow int    // index of the first row in this chunk
	RowCount int     // number of whole rows carried
	Rows     []byte  // RowCount * Descriptor.BytesPerRow bytes, owned by this chunk
}

// Sink receives completed raw chunks in ingestion order. Implementations
// (the Chunk Dispatcher) assign sequence numbers and enforce backpressure;
// Accept may block.
type Sink interface {
	Accept(RawChunk) error
}

// RowsPerChunk returns k = max(1, ceil(chunkSize / bytesPerRow)), the
// number of whole rows per chunk (except possibly the last).
func RowsPerChunk(chunkSize, bytesPerRow int) int {
	if bytesPerRow <= 0 {
		return 1
	}
	k := (chunkSize + bytesPerRow - 1) / bytesPerRow
	if k < 1 {
		k = 1
	}
	return k
}

// Accumulator buffers inbound rows into chunks of RowsPerChunk rows each
// and forwards them to a Sink. One Accumulator is used for exactly one of
// Pull or Push ingestion; mixing the two on one Accumulator is a misuse
// the caller (the Encoder state machine) must prevent, not something this
// package detects.
type Accumulator struct {
	desc        imgmodel.Descriptor
	rowsPerChunk int
	sink        Sink

	cur      []byte // accumulating bytes for the in-progress chunk
	curRows  int
	firstRow int // first row index of the in-progress chunk
	rowsDone int // total whole rows accepted so far (across all chunks)

	// pending holds a partial row carried across Push calls that split a
	// row across two writes.
	pending []byte
}

// New creates an Accumulator that chunks desc's rows into spans of
// RowsPerChunk(chunkSize, desc.BytesPerRow) rows and forwards them to sink.
func New(desc imgmodel.Descriptor, chunkSize int, sink Sink) *Accumulator {
	rpc := RowsPerChunk(chunkSize, desc.BytesPerRow)
	return &Accumulator{
		desc:         desc,
		rowsPerChunk: rpc,
		sink:         sink,
		cur:          make([]byte, 0, rpc*desc.BytesPerRow),
	}
}

// RowReader is the Pull-mode read capability: it must fill dst (exactly
// Descriptor.BytesPerRow bytes) or return a short count/error, both of
// which are fatal per spec.md §6.
type RowReader func(dst []byte) (int, error)

// Pull ingests exactly desc.Height rows by repeatedly invoking read with a
// destination span of exactly BytesPerRow bytes.
func (a *Accumulator) Pull(read RowReader) error {
	row := make([]byte, a.desc.BytesPerRow)
	for y := 0; y < int(a.desc.Height); y++ {
		n, err := read(row)
		if err != nil {
			return fmt.Errorf("chunked: read row %d: %w", y, err)
		}
		if n != len(row) {
			return fmt.Errorf("chunked: read row %d: short read (%d of %d bytes)", y, n, len(row))
		}
		if err := a.appendRow(row); err != nil {
			return err
		}
	}
	return nil
}

// Push ingests an arbitrary-length byte range, slicing it at row
// boundaries. It may be called multiple times; a row split across calls
// is reassembled via the pending buffer.
func (a *Accumulator) Push(data []byte) error {
	bpr := a.desc.BytesPerRow

	if len(a.pending) > 0 {
		need := bpr - len(a.pending)
		if len(data) < need {
			a.pending = append(a.pending, data...)
			return nil
		}
		a.pending = append(a.pending, data[:need]...)
		data = data[need:]
		if err := a.appendRow(a.pending); err != nil {
			return err
		}
		a.pending = a.pending[:0]
	}

	for len(data) >= bpr {
		if err := a.appendRow(data[:bpr]); err != nil {
			return err
		}
		data = data[bpr:]
	}

	if len(data) > 0 {
		a.pending = append(a.pending[:0], data...)
	}
	return nil
}

// Finish flushes any in-progress (necessarily partial, i.e. not a whole
// chunk) final chunk and verifies the total row count. A non-empty
// pending partial row is always a fatal error, per spec.md §4.1.
func (a *Accumulator) Finish() error {
	if len(a.pending) > 0 {
		return fmt.Errorf("chunked: %d leftover bytes do not form a whole row", len(a.pending))
	}
	if a.curRows > 0 {
		if err := a.flush(); err != nil {
			return err
		}
	}
	if a.rowsDone != int(a.desc.Height) {
		return fmt.Errorf("chunked: %d rows ingested, expected %d", a.rowsDone, a.desc.Height)
	}
	return nil
}

func (a *Accumulator) appendRow(row []byte) error {
	a.cur = append(a.cur, row...)
	a.curRows++
	a.rowsDone++
	if a.curRows == a.rowsPerChunk || a.rowsDone == int(a.desc.Height) {
		return a.flush()
	}
	return nil
}

func (a *Accumulator) flush() error {
	chunk := RawChunk{
		FirstRow: a.firstRow,
		RowCount: a.curRows,
		Rows:     a.cur,
	}
	if err := a.sink.Accept(chunk); err != nil {
		return err
	}
	a.firstRow += a.curRows
	a.curRows = 0
	a.cur = make([]byte, 0, a.rowsPerChunk*a.desc.BytesPerRow)
	return nil
}
