// Package parapng provides a parallel PNG encoder: it DEFLATE-compresses
// and PNG-frames raw pixel rows across a pool of worker goroutines while
// still producing byte-identical framing to a sequential encoder.
//
// Basic usage:
//
//	enc, err := parapng.New(
//	    parapng.WithSize(1920, 1080),
//	    parapng.WithColor(imgmodel.RGBA, 8),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := enc.WriteHeader(out); err != nil {
//	    log.Fatal(err)
//	}
//	if err := enc.WriteImage(readRow); err != nil {
//	    log.Fatal(err)
//	}
//	if err := enc.Finish(); err != nil {
//	    log.Fatal(err)
//	}
package parapng

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/five82/parapng/internal/chunked"
	"github.com/five82/parapng/internal/config"
	"github.com/five82/parapng/internal/filter"
	"github.com/five82/parapng/internal/imgmodel"
	"github.com/five82/parapng/internal/logging"
	"github.com/five82/parapng/internal/pipeline"
	"github.com/five82/parapng/internal/pngio"
)

type state int

const (
	stateConfiguring state = iota
	stateHeaderWritten
	stateStreaming
	stateFinished
	stateFailed
	stateReleased
)

type ingestMode int

const (
	ingestUnset ingestMode = iota
	ingestPull
	ingestPush
)

// Encoder is the main entry point: one Encoder writes exactly one PNG
// image, moving through Configuring -> HeaderWritten -> Streaming ->
// Finished, with Failed reachable from any state on error.
type Encoder struct {
	mu    sync.Mutex
	state state
	err   *Error

	cfg     config.EncodeConfig
	logger  *logging.Logger
	flushFn FlushFunc

	pool     *pipeline.Pool
	ownsPool bool

	desc       imgmodel.Descriptor
	sink       io.Writer
	stitcher   *pngio.Stitcher
	dispatcher *pipeline.Dispatcher
	acc        *chunked.Accumulator
	mode       ingestMode

	cancel context.CancelFunc
}

// Option configures an Encoder before WriteHeader is called.
type Option func(*Encoder)

// FlushFunc is the flush_sink callback spec.md §6 requires: called each
// time the Stitcher closes a completed IDAT chunk, letting the caller
// flush buffered output (a socket, a file) so a realtime streaming
// consumer can see the data. Return true on success, false on failure;
// a false return aborts encoding with IoFailure, matching
// mtpng_flush_func's contract.
type FlushFunc func() bool

// New creates an Encoder with its configuration at documented defaults,
// then applies opts in order.
func New(opts ...Option) (*Encoder, error) {
	e := &Encoder{
		cfg:   config.Default(),
		state: stateConfiguring,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// WithSize sets the image dimensions in pixels.
func WithSize(width, height uint32) Option {
	return func(e *Encoder) { e.cfg.Width, e.cfg.Height = width, height }
}

// WithColor sets the PNG color type and bit depth.
func WithColor(colorType imgmodel.ColorType, bitDepth uint8) Option {
	return func(e *Encoder) { e.cfg.ColorType, e.cfg.BitDepth = colorType, bitDepth }
}

// WithFilterMode sets the row filter selection strategy.
func WithFilterMode(mode filter.Mode) Option {
	return func(e *Encoder) { e.cfg.FilterMode = mode }
}

// WithChunkSize sets the approximate byte budget per parallel chunk
// (rounded up to a whole number of rows). Must be at least one DEFLATE
// window (32768 bytes).
func WithChunkSize(n int) Option {
	return func(e *Encoder) { e.cfg.ChunkSize = n }
}

// WithCompressionLevel sets the DEFLATE compression level (0-9, or -1 for
// the zlib default).
func WithCompressionLevel(level int) Option {
	return func(e *Encoder) { e.cfg.CompressionLevel = level }
}

// WithWorkers sets the number of goroutines in the Encoder's own Thread
// Pool. Ignored if WithPool is also supplied. Default is runtime.NumCPU().
func WithWorkers(workers int) Option {
	return func(e *Encoder) { e.cfg.Workers = workers }
}

// WithChunkBuffer sets how many extra chunks beyond one-per-worker may be
// in flight at once.
func WithChunkBuffer(buffer int) Option {
	return func(e *Encoder) { e.cfg.ChunkBuffer = buffer }
}

// WithPool supplies a Thread Pool the Encoder does not own: the caller
// created it (pipeline.NewPool) and is responsible for releasing it, possibly
// after sharing it across several Encoder instances (spec.md §4.7).
func WithPool(pool *pipeline.Pool) Option {
	return func(e *Encoder) { e.pool = pool }
}

// WithLogger attaches a logger; passing nil (or never calling WithLogger)
// leaves the Encoder silent.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Encoder) { e.logger = logger }
}

// WithFlush supplies the flush_sink callback spec.md §6 requires
// alongside the write sink: invoked after each IDAT chunk the Stitcher
// closes, so a streaming consumer (a socket, a pipe) can be flushed at a
// decodable boundary. If never supplied, flushing always reports success
// (the common case of a sink, like a file or in-memory buffer, that needs
// no explicit flush).
func WithFlush(fn FlushFunc) Option {
	return func(e *Encoder) { e.flushFn = fn }
}

// SetSize sets the image dimensions. Valid only in the Configuring state.
func (e *Encoder) SetSize(width, height uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState(stateConfiguring, "set_size"); err != nil {
		return err
	}
	e.cfg.Width, e.cfg.Height = width, height
	return nil
}

// SetColor sets the PNG color type and bit depth. Valid only in the
// Configuring state.
func (e *Encoder) SetColor(colorType imgmodel.ColorType, bitDepth uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState(stateConfiguring, "set_color"); err != nil {
		return err
	}
	e.cfg.ColorType, e.cfg.BitDepth = colorType, bitDepth
	return nil
}

// SetFilter sets the row filter mode. Valid only in the Configuring state.
func (e *Encoder) SetFilter(mode filter.Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState(stateConfiguring, "set_filter"); err != nil {
		return err
	}
	e.cfg.FilterMode = mode
	return nil
}

// SetChunkSize sets the approximate chunk byte budget. Valid only in the
// Configuring state.
func (e *Encoder) SetChunkSize(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState(stateConfiguring, "set_chunk_size"); err != nil {
		return err
	}
	e.cfg.ChunkSize = n
	return nil
}

// SetCompressionLevel sets the DEFLATE compression level. Valid only in
// the Configuring state.
func (e *Encoder) SetCompressionLevel(level int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState(stateConfiguring, "set_compression_level"); err != nil {
		return err
	}
	e.cfg.CompressionLevel = level
	return nil
}

// WriteHeader validates the configuration, writes the PNG signature and
// IHDR chunk to w, and starts the Thread Pool and Chunk Dispatcher that
// every subsequent ingestion call feeds. It may be called exactly once.
func (e *Encoder) WriteHeader(w io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireState(stateConfiguring, "write_header"); err != nil {
		return err
	}

	if err := e.cfg.Validate(); err != nil {
		return e.fail(InvalidParameter, "invalid configuration", err)
	}

	desc, err := e.cfg.Descriptor()
	if err != nil {
		return e.fail(InvalidParameter, "invalid image descriptor", err)
	}

	if err := pngio.WriteSignature(w); err != nil {
		return e.fail(IoFailure, "write signature", err)
	}
	if err := pngio.WriteIHDR(w, desc); err != nil {
		return e.fail(IoFailure, "write IHDR", err)
	}

	if e.pool == nil {
		e.pool = pipeline.NewPool(e.cfg.Workers)
		e.ownsPool = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	flush := func(n int) bool {
		e.logger.Debug("flushed IDAT chunk: %d bytes", n)
		if e.flushFn == nil {
			return true
		}
		return e.flushFn()
	}
	e.stitcher = pngio.NewStitcher(sinkFunc(w.Write), e.cfg.CompressionLevel, flush)
	e.dispatcher = pipeline.NewDispatcher(ctx, desc, e.cfg.FilterMode, e.cfg.CompressionLevel, e.pool, e.stitcher, e.cfg.Permits())
	e.acc = chunked.New(desc, e.cfg.ChunkSize, e.dispatcher)

	e.desc = desc
	e.sink = w
	e.state = stateHeaderWritten
	e.logger.Info("write_header: %dx%d %s depth=%d", desc.Width, desc.Height, desc.ColorType, desc.BitDepth)
	return nil
}

// WriteImage ingests the entire image in Pull mode: read is invoked once
// per row, each call expected to fill exactly Descriptor.BytesPerRow
// bytes. It may be called at most once, and not combined with
// WriteImageRows on the same Encoder.
func (e *Encoder) WriteImage(read chunked.RowReader) error {
	e.mu.Lock()
	if err := e.requireState(stateHeaderWritten, "write_image"); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mode = ingestPull
	e.state = stateStreaming
	acc := e.acc
	e.mu.Unlock()

	if err := acc.Pull(read); err != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.fail(InputFailure, "write_image", err)
	}
	return nil
}

// WriteImageRows ingests one arbitrary-length span of raw row bytes in
// Push mode. It may be called any number of times; rows split across
// calls are reassembled automatically. Not combined with WriteImage on
// the same Encoder.
func (e *Encoder) WriteImageRows(data []byte) error {
	e.mu.Lock()
	switch e.state {
	case stateHeaderWritten:
		e.mode = ingestPush
		e.state = stateStreaming
	case stateStreaming:
		if e.mode != ingestPush {
			err := e.lockedFail(InvalidState, "write_image_rows: encoder is in Pull mode", nil)
			e.mu.Unlock()
			return err
		}
	default:
		err := e.requireState(stateStreaming, "write_image_rows")
		e.mu.Unlock()
		return err
	}
	acc := e.acc
	e.mu.Unlock()

	if err := acc.Push(data); err != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.fail(InputFailure, "write_image_rows", err)
	}
	return nil
}

// Finish flushes any trailing partial chunk, waits for every outstanding
// chunk to be filtered, compressed, and stitched in order, then writes
// the zlib trailer's IDAT chunk and the IEND chunk. After Finish returns
// successfully the Encoder is in the Finished state and accepts no
// further ingestion.
func (e *Encoder) Finish() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireState(stateStreaming, "finish"); err != nil {
		return err
	}

	if err := e.acc.Finish(); err != nil {
		return e.fail(InputFailure, "finish: incomplete ingestion", err)
	}
	if err := e.dispatcher.Wait(); err != nil {
		if errors.Is(err, pngio.ErrFlushFailed) {
			return e.fail(IoFailure, "finish: chunk pipeline", err)
		}
		return e.fail(CompressFailure, "finish: chunk pipeline", err)
	}
	if err := e.stitcher.Finish(); err != nil {
		return e.fail(IoFailure, "finish: stitcher", err)
	}
	if err := pngio.WriteIEND(sinkFunc(e.sink.Write)); err != nil {
		return e.fail(IoFailure, "finish: write IEND", err)
	}

	if e.ownsPool {
		e.pool.Release()
		e.ownsPool = false
	}
	e.state = stateFinished
	e.logger.Info("finish: wrote %dx%d image", e.desc.Width, e.desc.Height)
	return nil
}

// Release cancels any in-flight work and releases the Thread Pool if the
// Encoder owns one. It is safe to call from any state, including after
// Finish, and is idempotent.
func (e *Encoder) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateReleased {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.dispatcher != nil {
		_ = e.dispatcher.Wait()
	}
	if e.ownsPool && e.pool != nil {
		e.pool.Release()
		e.ownsPool = false
	}
	e.state = stateReleased
	return nil
}

// requireState returns a Poisoned error if the Encoder has already
// failed, or an InvalidState error if it is not in want, leaving state
// untouched in either case.
func (e *Encoder) requireState(want state, op string) error {
	if e.state == stateFailed {
		return newError(Poisoned, op+": encoder already failed", e.err)
	}
	if e.state != want {
		return newError(InvalidState, op+": encoder is not in the required state", nil)
	}
	return nil
}

// fail latches the Encoder into Failed and returns the resulting *Error.
// Call only while holding e.mu.
func (e *Encoder) fail(kind ErrorKind, msg string, cause error) *Error {
	return e.lockedFail(kind, msg, cause)
}

func (e *Encoder) lockedFail(kind ErrorKind, msg string, cause error) *Error {
	err := newError(kind, msg, cause)
	e.state = stateFailed
	e.err = err
	return err
}

// sinkFunc adapts an io.Writer's Write method to pngio.Sink.
type sinkFunc func(p []byte) (int, error)

func (f sinkFunc) Write(p []byte) (int, error) { return f(p) }
