// Package imgmodel holds the immutable image descriptor shared by every
// stage of the pipeline: dimensions, color type, bit depth, and the
// derived per-pixel/per-row byte counts the Filter Unit and Row
// Accumulator need.
package imgmodel

import "fmt"

// ColorType is a PNG color type value as it appears in IHDR.
type ColorType uint8

const (
	Grey      ColorType = 0
	RGB       ColorType = 2
	Indexed   ColorType = 3
	GreyAlpha ColorType = 4
	RGBA      ColorType = 6
)

func (c ColorType) String() string {
	switch c {
	case Grey:
		return "Grey"
	case RGB:
		return "RGB"
	case Indexed:
		return "Indexed"
	case GreyAlpha:
		return "GreyAlpha"
	case RGBA:
		return "RGBA"
	default:
		return fmt.Sprintf("ColorType(%d)", uint8(c))
	}
}

// channels returns the number of samples per pixel for c.
func (c ColorType) channels() int {
	switch c {
	case Grey, Indexed:
		return 1
	case GreyAlpha:
		return 2
	case RGB:
		return 3
	case RGBA:
		return 4
	default:
		return 0
	}
}

// legalDepths lists the PNG-legal bit depths for each color type (PNG spec
// table 11.3). Indexed color never allows 16, since a palette index must
// fit in one byte or less.
var legalDepths = map[ColorType][]uint8{
	Grey:      {1, 2, 4, 8, 16},
	RGB:       {8, 16},
	Indexed:   {1, 2, 4, 8},
	GreyAlpha: {8, 16},
	RGBA:      {8, 16},
}

// Legal reports whether (colorType, depth) is a PNG-legal pairing.
func Legal(colorType ColorType, depth uint8) bool {
	depths, ok := legalDepths[colorType]
	if !ok {
		return false
	}
	for _, d := range depths {
		if d == depth {
			return true
		}
	}
	return false
}

// Descriptor is the immutable image geometry, fixed once write_header is
// called. Width and Height are in pixels; BitDepth is bits per sample.
type Descriptor struct {
	Width     uint32
	Height    uint32
	ColorType ColorType
	BitDepth  uint8

	// BitsPerPixel is channels(ColorType) * BitDepth.
	BitsPerPixel int
	// BytesPerPixel is BitsPerPixel/8 rounded up to at least 1; this is the
	// "bpp" the filter predictors step back by, per the PNG spec — for
	// sub-byte depths the predictor distance is always one whole byte.
	BytesPerPixel int
	// BytesPerRow is ceil(Width*BitsPerPixel/8), excluding the filter tag
	// byte.
	BytesPerRow int
}

// New validates (width, height, colorType, depth) and computes the derived
// quantities.
func New(width, height uint32, colorType ColorType, depth uint8) (Descriptor, error) {
	if width == 0 || height == 0 {
		return Descriptor{}, fmt.Errorf("imgmodel: width and height must be >= 1, got %dx%d", width, height)
	}
	if !Legal(colorType, depth) {
		return Descriptor{}, fmt.Errorf("imgmodel: bit depth %d is not legal for color type %s", depth, colorType)
	}

	bitsPerPixel := colorType.channels() * int(depth)
	bytesPerPixel := bitsPerPixel / 8
	if bytesPerPixel < 1 {
		bytesPerPixel = 1
	}
	bytesPerRow := (int(width)*bitsPerPixel + 7) / 8

	return Descriptor{
		Width:         width,
		Height:        height,
		ColorType:     colorType,
		BitDepth:      depth,
		BitsPerPixel:  bitsPerPixel,
		BytesPerPixel: bytesPerPixel,
		BytesPerRow:   bytesPerRow,
	}, nil
}
