package pngio

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"testing"

	"github.com/five82/parapng/internal/deflate"
	"github.com/five82/parapng/internal/imgmodel"
)

func readChunk(t *testing.T, r *bytes.Reader) (string, []byte) {
	t.Helper()
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		t.Fatalf("read length: %v", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])

	typeAndData := make([]byte, 4+length)
	if _, err := io.ReadFull(r, typeAndData); err != nil {
		t.Fatalf("read type+data: %v", err)
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		t.Fatalf("read crc: %v", err)
	}
	wantCRC := crc32.ChecksumIEEE(typeAndData)
	gotCRC := binary.BigEndian.Uint32(crcBuf[:])
	if gotCRC != wantCRC {
		t.Fatalf("chunk CRC mismatch: got %x, want %x", gotCRC, wantCRC)
	}

	return string(typeAndData[:4]), typeAndData[4:]
}

func TestWriteIHDR(t *testing.T) {
	desc, err := imgmodel.New(16, 8, imgmodel.RGBA, 8)
	if err != nil {
		t.Fatalf("imgmodel.New: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteIHDR(&buf, desc); err != nil {
		t.Fatalf("WriteIHDR: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	typ, data := readChunk(t, r)
	if typ != "IHDR" {
		t.Fatalf("chunk type = %q, want IHDR", typ)
	}
	if len(data) != 13 {
		t.Fatalf("IHDR payload length = %d, want 13", len(data))
	}
	if w := binary.BigEndian.Uint32(data[0:4]); w != 16 {
		t.Errorf("width = %d, want 16", w)
	}
	if h := binary.BigEndian.Uint32(data[4:8]); h != 8 {
		t.Errorf("height = %d, want 8", h)
	}
	if data[9] != byte(imgmodel.RGBA) {
		t.Errorf("color type = %d, want %d", data[9], imgmodel.RGBA)
	}
}

func TestZlibHeaderChecksOut(t *testing.T) {
	for level := -1; level <= 9; level++ {
		hdr := ZlibHeader(level)
		n := uint16(hdr[0])<<8 | uint16(hdr[1])
		if n%31 != 0 {
			t.Errorf("level %d: header %02x%02x not a multiple of 31", level, hdr[0], hdr[1])
		}
		if hdr[1]&0x20 != 0 {
			t.Errorf("level %d: FDICT bit must never be set", level)
		}
	}
}

// TestStitcherProducesValidZlibStream drives the Stitcher with several
// fragments submitted out of order and checks the assembled IDAT
// payload (header + fragments + trailer) decodes with the standard
// library's compress/zlib to the original concatenated input.
func TestStitcherProducesValidZlibStream(t *testing.T) {
	level := 6
	parts := [][]byte{
		bytes.Repeat([]byte("alpha-"), 50),
		bytes.Repeat([]byte("beta--"), 50),
		bytes.Repeat([]byte("gamma-"), 50),
	}

	type fragJob struct {
		seq  int
		frag deflate.Fragment
	}
	var jobs []fragJob
	var dict []byte
	for i, p := range parts {
		frag, err := deflate.Compress(level, dict, p)
		if err != nil {
			t.Fatalf("Compress: %v", err)
		}
		jobs = append(jobs, fragJob{seq: i, frag: frag})
		dict = deflate.TrailingWindow(p)
	}

	var out bytes.Buffer
	var flushedBytes int
	st := NewStitcher(sinkFunc(out.Write), level, func(n int) bool { flushedBytes += n; return true })

	// Submit out of order: 2, 0, 1.
	order := []int{2, 0, 1}
	for _, idx := range order {
		j := jobs[idx]
		if err := st.Accept(j.seq, j.frag); err != nil {
			t.Fatalf("Accept(%d): %v", j.seq, err)
		}
	}
	if err := st.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if flushedBytes == 0 {
		t.Error("flush callback should have been invoked with a non-zero byte count")
	}

	// The Stitcher writes framed IDAT chunks; their payloads joined form
	// the zlib stream.
	var payload []byte
	r := bytes.NewReader(out.Bytes())
	for r.Len() > 0 {
		typ, data := readChunk(t, r)
		if typ != "IDAT" {
			t.Fatalf("chunk type = %q, want IDAT", typ)
		}
		payload = append(payload, data...)
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	defer func() { _ = zr.Close() }()

	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("zlib read: %v", err)
	}

	var want []byte
	for _, p := range parts {
		want = append(want, p...)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("decoded %d bytes, want %d bytes matching input", len(got), len(want))
	}
}

func TestStitcherRejectsFinishWithGap(t *testing.T) {
	var out bytes.Buffer
	st := NewStitcher(sinkFunc(out.Write), 6, nil)

	frag, err := deflate.Compress(6, nil, []byte("only the second chunk"))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	// Submit sequence 1 without ever submitting sequence 0.
	if err := st.Accept(1, frag); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := st.Finish(); err == nil {
		t.Fatal("Finish should fail when a sequence number is missing")
	}
}

// TestStitcherFlushFailureIsFatal checks that a Flusher reporting failure
// aborts the stitch with an error wrapping ErrFlushFailed, the signal the
// Encoder maps to IoFailure.
func TestStitcherFlushFailureIsFatal(t *testing.T) {
	var out bytes.Buffer
	st := NewStitcher(sinkFunc(out.Write), 6, func(int) bool { return false })

	frag, err := deflate.Compress(6, nil, bytes.Repeat([]byte("x"), 10))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if err := st.Accept(0, frag); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	err = st.Finish()
	if err == nil {
		t.Fatal("Finish should fail when the flush callback returns false")
	}
	if !errors.Is(err, ErrFlushFailed) {
		t.Fatalf("Finish error = %v, want one wrapping ErrFlushFailed", err)
	}
}

type sinkFunc func(p []byte) (int, error)

func (f sinkFunc) Write(p []byte) (int, error) { return f(p) }
