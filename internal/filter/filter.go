// Package filter implements the five PNG row filters (None, Sub, Up,
// Average, Paeth) and the adaptive per-row selection heuristic.
//
// Predictors are grounded on the standard PNG filtering algorithm as
// implemented by the Go standard library's image/png encoder (see
// other_examples/18715dec_rmamba-image__png-writer.go.go, a fork of it)
// and by naufaldi-go-pixo/src/png/filter_*.go; this package keeps the
// five-filter split naufaldi-go-pixo uses (one function per filter type)
// rather than the single combined loop rmamba-image uses, so that Forced
// mode (spec.md §4.3) can call exactly one of them without paying for the
// other four.
package filter

// Type identifies a PNG row filter type as it appears in the filtered
// byte stream's leading tag byte.
type Type byte

const (
	None    Type = 0
	Sub     Type = 1
	Up      Type = 2
	Average Type = 3
	Paeth   Type = 4

	numTypes = 5
)

// Mode selects how a row's filter is chosen. Adaptive tries all five and
// keeps the minimum-sum result; the rest force that filter unconditionally.
type Mode int

const (
	Adaptive Mode = iota
	ModeNone
	ModeSub
	ModeUp
	ModeAverage
	ModePaeth
)

// forcedType reports the Type a non-adaptive Mode always applies, and
// whether m is non-adaptive at all.
func (m Mode) forcedType() (Type, bool) {
	switch m {
	case ModeNone:
		return None, true
	case ModeSub:
		return Sub, true
	case ModeUp:
		return Up, true
	case ModeAverage:
		return Average, true
	case ModePaeth:
		return Paeth, true
	default:
		return 0, false
	}
}

// ApplyNone copies cur into dst unchanged.
func ApplyNone(dst, cur []byte) {
	copy(dst, cur)
}

// ApplySub predicts each byte from the byte bpp positions to its left in
// the same (filtered-source) row.
func ApplySub(dst, cur []byte, bpp int) {
	for i, c := range cur {
		var left byte
		if i >= bpp {
			left = cur[i-bpp]
		}
		dst[i] = c - left
	}
}

// ApplyUp predicts each byte from the corresponding byte in the previous
// row. prev may be nil (treated as all-zero), which is how the first row
// of the image and the first row of any non-first chunk differ: the
// image's first row has no true predecessor, while a chunk's first row
// (after the first chunk) is given the prior chunk's last row as prev.
func ApplyUp(dst, cur, prev []byte) {
	for i, c := range cur {
		var up byte
		if i < len(prev) {
			up = prev[i]
		}
		dst[i] = c - up
	}
}

// ApplyAverage predicts each byte from the floor average of its left and
// up neighbors.
func ApplyAverage(dst, cur, prev []byte, bpp int) {
	for i, c := range cur {
		var left, up uint16
		if i >= bpp {
			left = uint16(cur[i-bpp])
		}
		if i < len(prev) {
			up = uint16(prev[i])
		}
		dst[i] = c - byte((left+up)/2)
	}
}

// paethPredictor implements the PNG Paeth predictor (spec section 9.4).
func paethPredictor(a, b, c int) int {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ApplyPaeth predicts each byte using the Paeth predictor over left, up,
// and upper-left neighbors.
func ApplyPaeth(dst, cur, prev []byte, bpp int) {
	for i, c := range cur {
		var left, up, upLeft int
		if i >= bpp {
			left = int(cur[i-bpp])
		}
		if i < len(prev) {
			up = int(prev[i])
		}
		if i >= bpp && i-bpp < len(prev) {
			upLeft = int(prev[i-bpp])
		}
		dst[i] = c - byte(paethPredictor(left, up, upLeft))
	}
}

// sumAbs returns the sum, over every byte of filtered, of the byte
// reinterpreted as a signed int8 and made positive — the heuristic
// spec.md §4.3 specifies for adaptive selection.
func sumAbs(filtered []byte) int {
	sum := 0
	for _, b := range filtered {
		sum += abs(int(int8(b)))
	}
	return sum
}

// Scratch holds the five reusable per-row output buffers a worker needs,
// so a chunk's filter pass does not allocate once per row. One Scratch is
// owned by one worker for the duration of a chunk; see
// internal/pipeline's use of sync.Pool to recycle these across chunks
// (grounded on other_examples/18715dec_rmamba-image__png-writer.go.go's
// EncoderBufferPool, which reuses the same cr[5] scratch array per image).
type Scratch struct {
	buf [numTypes][]byte
}

func (s *Scratch) rowOf(t Type, n int) []byte {
	if cap(s.buf[t]) < n {
		s.buf[t] = make([]byte, n)
	} else {
		s.buf[t] = s.buf[t][:n]
	}
	return s.buf[t]
}

// FilterRow chooses and applies a filter to cur (the unfiltered row bytes)
// given prev (the true previous row's unfiltered bytes, or nil for the
// image's first row) and bpp (Descriptor.BytesPerPixel). It returns the
// filter tag and the filtered row bytes, the latter backed by s and valid
// until the next call to FilterRow on the same Scratch. s is typically
// pooled per worker goroutine so a chunk's rows share one set of buffers.
//
// Indexed color forces None regardless of mode, since filtering rarely
// helps palette data and can hurt it (libpng's documented rationale,
// followed verbatim by rmamba-image's writeImage).
func FilterRow(s *Scratch, mode Mode, indexed bool, cur, prev []byte, bpp int) (Type, []byte) {
	n := len(cur)

	if indexed {
		out := s.rowOf(None, n)
		ApplyNone(out, cur)
		return None, out
	}

	if ft, forced := mode.forcedType(); forced {
		out := s.rowOf(ft, n)
		switch ft {
		case None:
			ApplyNone(out, cur)
		case Sub:
			ApplySub(out, cur, bpp)
		case Up:
			ApplyUp(out, cur, prev)
		case Average:
			ApplyAverage(out, cur, prev, bpp)
		case Paeth:
			ApplyPaeth(out, cur, prev, bpp)
		}
		return ft, out
	}

	// Adaptive: compute all five, keep the minimum sum of absolute signed
	// byte values.
	none := s.rowOf(None, n)
	ApplyNone(none, cur)
	sub := s.rowOf(Sub, n)
	ApplySub(sub, cur, bpp)
	up := s.rowOf(Up, n)
	ApplyUp(up, cur, prev)
	avg := s.rowOf(Average, n)
	ApplyAverage(avg, cur, prev, bpp)
	paeth := s.rowOf(Paeth, n)
	ApplyPaeth(paeth, cur, prev, bpp)

	best := None
	bestRow := none
	bestSum := sumAbs(none)
	for _, cand := range []struct {
		t   Type
		row []byte
	}{
		{Sub, sub},
		{Up, up},
		{Average, avg},
		{Paeth, paeth},
	} {
		if sum := sumAbs(cand.row); sum < bestSum {
			bestSum = sum
			best = cand.t
			bestRow = cand.row
		}
	}
	return best, bestRow
}
