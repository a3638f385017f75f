// Package config provides configuration types and defaults for parapng.
package config

import (
	"fmt"
	"runtime"

	"github.com/five82/parapng/internal/deflate"
	"github.com/five82/parapng/internal/filter"
	"github.com/five82/parapng/internal/imgmodel"
)

// Default constants.
const (
	// DefaultChunkSize is the minimum useful chunk size: one DEFLATE
	// window, so that the preset-dictionary carry between chunks is
	// never truncated short of what the compressor could otherwise see.
	DefaultChunkSize = deflate.MaxDictSize

	// DefaultCompressionLevel mirrors zlib's Z_DEFAULT_COMPRESSION.
	DefaultCompressionLevel = 6

	// DefaultChunkBuffer is the extra in-flight chunk allowance beyond
	// one per worker, keeping workers fed without unbounded buffering.
	DefaultChunkBuffer = 2

	// MinCompressionLevel and MaxCompressionLevel bound the DEFLATE level
	// accepted by Validate; -1 is also accepted as "default".
	MinCompressionLevel = 0
	MaxCompressionLevel = 9
)

// AutoWorkers returns runtime.NumCPU(), the default Thread Pool size when
// the caller does not request a specific worker count.
func AutoWorkers() int {
	return max(runtime.NumCPU(), 1)
}

// EncodeConfig holds the full configuration for one Encoder, validated as a
// whole once width, height, color type, and depth are all known (i.e. once
// WriteHeader is called).
type EncodeConfig struct {
	Width, Height uint32
	ColorType     imgmodel.ColorType
	BitDepth      uint8

	FilterMode       filter.Mode
	ChunkSize        int
	CompressionLevel int
	Workers          int
	ChunkBuffer      int
}

// Default returns an EncodeConfig with every field at its documented
// default, ready for the caller's Option functions to override.
func Default() EncodeConfig {
	return EncodeConfig{
		ColorType:        imgmodel.RGBA,
		BitDepth:         8,
		FilterMode:       filter.Adaptive,
		ChunkSize:        DefaultChunkSize,
		CompressionLevel: DefaultCompressionLevel,
		Workers:          AutoWorkers(),
		ChunkBuffer:      DefaultChunkBuffer,
	}
}

// Validate checks the configuration for errors, once width/height/color
// have been set by the caller (zero width or height is always invalid, so
// Validate also serves as the "has the image been sized" check).
func (c *EncodeConfig) Validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("width and height must be non-zero, got %dx%d", c.Width, c.Height)
	}
	if !imgmodel.Legal(c.ColorType, c.BitDepth) {
		return fmt.Errorf("bit depth %d is not legal for color type %s", c.BitDepth, c.ColorType)
	}
	if c.ChunkSize < deflate.MaxDictSize {
		return fmt.Errorf("chunk_size must be at least %d bytes, got %d", deflate.MaxDictSize, c.ChunkSize)
	}
	if c.CompressionLevel != -1 && (c.CompressionLevel < MinCompressionLevel || c.CompressionLevel > MaxCompressionLevel) {
		return fmt.Errorf("compression_level must be -1 or 0-9, got %d", c.CompressionLevel)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.ChunkBuffer < 0 {
		return fmt.Errorf("chunk_buffer must be non-negative, got %d", c.ChunkBuffer)
	}
	return nil
}

// Descriptor builds the imgmodel.Descriptor this configuration describes.
func (c *EncodeConfig) Descriptor() (imgmodel.Descriptor, error) {
	return imgmodel.New(c.Width, c.Height, c.ColorType, c.BitDepth)
}

// Permits returns the number of chunks allowed in flight at once: one per
// worker plus ChunkBuffer, mirroring the teacher's
// internal/encode/permits.go CalculatePermits(workers, buffer).
func (c *EncodeConfig) Permits() int {
	return max(c.Workers+c.ChunkBuffer, 1)
}
