package pipeline

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"io"
	"math/rand"
	"testing"

	"github.com/five82/parapng/internal/chunked"
	"github.com/five82/parapng/internal/filter"
	"github.com/five82/parapng/internal/imgmodel"
	"github.com/five82/parapng/internal/pngio"
)

type captureSink struct {
	buf bytes.Buffer
}

func (s *captureSink) Write(p []byte) (int, error) { return s.buf.Write(p) }

// pipelineResult holds both halves of runPipeline's output: the exact
// stitched zlib-wrapped IDAT bytes (for Testable Property 3, "output
// bytes are identical across thread counts") and the decoded pixel bytes
// (for an end-to-end round-trip check).
type pipelineResult struct {
	compressed []byte
	pixels     []byte
}

// runPipeline filters, compresses, and stitches raw into IDAT chunks
// carrying a complete zlib stream using workers goroutines, returning both the raw stitched bytes
// and the decoded (defiltered) pixel bytes so callers can compare either
// against a baseline.
func runPipeline(t *testing.T, desc imgmodel.Descriptor, raw []byte, chunkSize, workers int) pipelineResult {
	t.Helper()

	sink := &captureSink{}
	st := pngio.NewStitcher(sink, 6, nil)

	pool := NewPool(workers)
	defer pool.Release()

	ctx := context.Background()
	d := NewDispatcher(ctx, desc, filter.Adaptive, 6, pool, st, workers*2)

	acc := chunked.New(desc, chunkSize, d)

	off := 0
	read := func(dst []byte) (int, error) {
		n := copy(dst, raw[off:])
		off += n
		return n, nil
	}
	if err := acc.Pull(read); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if err := acc.Finish(); err != nil {
		t.Fatalf("acc.Finish: %v", err)
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("Dispatcher.Wait: %v", err)
	}
	if err := st.Finish(); err != nil {
		t.Fatalf("Stitcher.Finish: %v", err)
	}

	compressed := append([]byte{}, sink.buf.Bytes()...)

	// The Stitcher writes framed IDAT chunks; their payloads joined form
	// the zlib stream.
	var zstream []byte
	for rest := compressed; len(rest) > 0; {
		if len(rest) < 12 {
			t.Fatalf("truncated IDAT chunk: %d bytes left", len(rest))
		}
		n := int(binary.BigEndian.Uint32(rest[:4]))
		if string(rest[4:8]) != "IDAT" || len(rest) < 12+n {
			t.Fatalf("malformed IDAT chunk in stitched output")
		}
		zstream = append(zstream, rest[8:8+n]...)
		rest = rest[12+n:]
	}

	zr, err := zlib.NewReader(bytes.NewReader(zstream))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	defer func() { _ = zr.Close() }()

	filtered, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("zlib read: %v", err)
	}

	return pipelineResult{compressed: compressed, pixels: defilter(t, desc, filtered)}
}

// defilter reverses the PNG scanline filter stream back to raw pixel
// bytes, the way a decoder would, so the test can assert the pipeline's
// output is exactly the input it was given.
func defilter(t *testing.T, desc imgmodel.Descriptor, filtered []byte) []byte {
	t.Helper()
	bpr := desc.BytesPerRow
	bpp := desc.BytesPerPixel

	out := make([]byte, 0, int(desc.Height)*bpr)
	prev := make([]byte, bpr)

	pos := 0
	for y := 0; y < int(desc.Height); y++ {
		if pos >= len(filtered) {
			t.Fatalf("filtered stream ended early at row %d", y)
		}
		tag := filter.Type(filtered[pos])
		pos++
		row := filtered[pos : pos+bpr]
		pos += bpr

		cur := make([]byte, bpr)
		for i := range cur {
			var left, up, upLeft int
			if i >= bpp {
				left = int(cur[i-bpp])
			}
			up = int(prev[i])
			if i >= bpp {
				upLeft = int(prev[i-bpp])
			}

			var pred int
			switch tag {
			case filter.None:
				pred = 0
			case filter.Sub:
				pred = left
			case filter.Up:
				pred = up
			case filter.Average:
				pred = (left + up) / 2
			case filter.Paeth:
				p := left + up - upLeft
				pa, pb, pc := absInt(p-left), absInt(p-up), absInt(p-upLeft)
				switch {
				case pa <= pb && pa <= pc:
					pred = left
				case pb <= pc:
					pred = up
				default:
					pred = upLeft
				}
			default:
				t.Fatalf("unknown filter tag %d at row %d", tag, y)
			}
			cur[i] = row[i] + byte(pred)
		}

		out = append(out, cur...)
		prev = cur
	}
	return out
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func randomImage(t *testing.T, width, height uint32) (imgmodel.Descriptor, []byte) {
	t.Helper()
	desc, err := imgmodel.New(width, height, imgmodel.RGB, 8)
	if err != nil {
		t.Fatalf("imgmodel.New: %v", err)
	}
	raw := make([]byte, int(desc.Height)*desc.BytesPerRow)
	r := rand.New(rand.NewSource(42))
	r.Read(raw)
	return desc, raw
}

func TestPipelineRoundTrip(t *testing.T) {
	desc, raw := randomImage(t, 17, 23)

	// Small chunk size forces many chunks, exercising dictionary carry
	// and the row-0 boundary-prev handoff across chunk edges.
	got := runPipeline(t, desc, raw, desc.BytesPerRow*3, 4)
	if !bytes.Equal(got.pixels, raw) {
		t.Fatal("decoded pixel bytes do not match the original input")
	}
}

// TestPipelineThreadCountIndependence checks Testable Property 3 in full:
// not just that different worker counts decode back to the same pixels,
// but that they produce byte-for-byte identical compressed output — the
// chunk ordering the Stitcher restores must be exactly reproducible
// regardless of which goroutine happened to finish a chunk first.
func TestPipelineThreadCountIndependence(t *testing.T) {
	desc, raw := randomImage(t, 33, 19)

	var results []pipelineResult
	for _, workers := range []int{1, 2, 8} {
		results = append(results, runPipeline(t, desc, raw, desc.BytesPerRow*2, workers))
	}
	for i := 1; i < len(results); i++ {
		if !bytes.Equal(results[0].pixels, results[i].pixels) {
			t.Fatalf("worker count changed the decoded output (run 0 vs run %d)", i)
		}
		if !bytes.Equal(results[0].compressed, results[i].compressed) {
			t.Fatalf("worker count changed the compressed output bytes (run 0 vs run %d)", i)
		}
	}
}

func TestPoolSubmitAndRelease(t *testing.T) {
	p := NewPool(3)
	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		p.Submit(func() { done <- struct{}{} })
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	p.Release()
}
