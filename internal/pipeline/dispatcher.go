package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/five82/parapng/internal/chunked"
	"github.com/five82/parapng/internal/deflate"
	"github.com/five82/parapng/internal/filter"
	"github.com/five82/parapng/internal/imgmodel"
	"github.com/five82/parapng/internal/pngio"
)

// Dispatcher implements chunked.Sink: it assigns each incoming RawChunk a
// sequence number, submits its filter-then-compress job to a Pool, and
// feeds the resulting fragment to a pngio.Stitcher once ready — all while
// capping the number of chunks in flight at once.
//
// Backpressure uses golang.org/x/sync/semaphore.Weighted sized at
// workers+buffer permits (CalculatePermits in the teacher's
// internal/encode/permits.go), and errgroup.Group to fan out workers and
// collect the first error, the same roles the teacher's worker
// WaitGroup + atomic error pointer play in EncodeAll.
type Dispatcher struct {
	desc     imgmodel.Descriptor
	mode     filter.Mode
	level    int
	pool     *Pool
	stitcher *pngio.Stitcher

	sem *semaphore.Weighted
	grp *errgroup.Group
	ctx context.Context

	nextSeq int
	// prevTail holds the last raw (unfiltered) row of the most recently
	// submitted chunk, the "true previous row" the next chunk's first row
	// filters against.
	prevTail []byte

	dictMu    sync.Mutex
	dictChans map[int]chan []byte

	scratchPool sync.Pool
}

// NewDispatcher creates a Dispatcher. permits bounds the number of chunks
// in flight (filtering, compressing, or waiting to be stitched) at once.
func NewDispatcher(ctx context.Context, desc imgmodel.Descriptor, mode filter.Mode, level int, pool *Pool, stitcher *pngio.Stitcher, permits int) *Dispatcher {
	grp, gctx := errgroup.WithContext(ctx)
	return &Dispatcher{
		desc:      desc,
		mode:      mode,
		level:     level,
		pool:      pool,
		stitcher:  stitcher,
		sem:       semaphore.NewWeighted(int64(permits)),
		grp:       grp,
		ctx:       gctx,
		dictChans: make(map[int]chan []byte),
		scratchPool: sync.Pool{
			New: func() any { return &filter.Scratch{} },
		},
	}
}

// Accept is called once per completed raw chunk, in ingestion order, by
// the chunked.Accumulator.
func (d *Dispatcher) Accept(raw chunked.RawChunk) error {
	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	seq := d.nextSeq
	d.nextSeq++
	boundaryPrev := d.prevTail
	if raw.RowCount > 0 {
		bpr := d.desc.BytesPerRow
		d.prevTail = raw.Rows[(raw.RowCount-1)*bpr : raw.RowCount*bpr]
	}

	// Submit from this single ingestion goroutine so workers take jobs in
	// sequence order: a job waiting on seq-1's dictionary never holds a
	// worker that seq-1 itself still needs.
	done := make(chan error, 1)
	d.pool.Submit(func() {
		done <- d.process(seq, raw, boundaryPrev)
	})

	d.grp.Go(func() error {
		defer d.sem.Release(1)
		select {
		case err := <-done:
			return err
		case <-d.ctx.Done():
			return d.ctx.Err()
		}
	})

	return nil
}

// Wait blocks until every submitted chunk has been filtered, compressed,
// and handed to the Stitcher, returning the first error encountered (if
// any).
func (d *Dispatcher) Wait() error {
	return d.grp.Wait()
}

func (d *Dispatcher) process(seq int, raw chunked.RawChunk, boundaryPrev []byte) error {
	scratch := d.scratchPool.Get().(*filter.Scratch)
	filtered := filterChunk(scratch, d.mode, d.desc, raw, boundaryPrev)
	d.scratchPool.Put(scratch)

	// Block on seq-1's publication of its trailing window, then publish
	// this chunk's own window for seq+1 when process returns. That
	// publication comes after this chunk has been compressed and handed to
	// the Stitcher, so compression runs one chunk at a time in sequence
	// order; only filtering runs in parallel across chunks. The window is
	// published exactly once, even on a later error, so the next chunk
	// never waits on a dictionary that will never arrive.
	defer func() {
		ch := d.dictChanFor(seq)
		select {
		case ch <- deflate.TrailingWindow(filtered):
		default:
		}
	}()

	var dict []byte
	if seq > 0 {
		select {
		case dict = <-d.dictChanFor(seq - 1):
		case <-d.ctx.Done():
			return d.ctx.Err()
		}
	}

	frag, err := deflate.Compress(d.level, dict, filtered)
	if err != nil {
		return fmt.Errorf("pipeline: chunk %d: %w", seq, err)
	}

	if err := d.stitcher.Accept(seq, frag); err != nil {
		return fmt.Errorf("pipeline: chunk %d: stitch: %w", seq, err)
	}
	return nil
}

func (d *Dispatcher) dictChanFor(seq int) chan []byte {
	d.dictMu.Lock()
	defer d.dictMu.Unlock()
	ch, ok := d.dictChans[seq]
	if !ok {
		ch = make(chan []byte, 1)
		d.dictChans[seq] = ch
	}
	return ch
}

// filterChunk applies the filter pass to every row of raw, returning the
// concatenated filter-tag-plus-row-bytes stream ready for DEFLATE.
func filterChunk(scratch *filter.Scratch, mode filter.Mode, desc imgmodel.Descriptor, raw chunked.RawChunk, boundaryPrev []byte) []byte {
	bpr := desc.BytesPerRow
	indexed := desc.ColorType == imgmodel.Indexed
	out := make([]byte, 0, raw.RowCount*(bpr+1))

	for i := 0; i < raw.RowCount; i++ {
		cur := raw.Rows[i*bpr : (i+1)*bpr]
		var prev []byte
		if i == 0 {
			prev = boundaryPrev
		} else {
			prev = raw.Rows[(i-1)*bpr : i*bpr]
		}

		tag, row := filter.FilterRow(scratch, mode, indexed, cur, prev, desc.BytesPerPixel)
		out = append(out, byte(tag))
		out = append(out, row...)
	}
	return out
}
