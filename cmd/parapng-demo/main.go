// Command parapng-demo encodes a raw pixel stream read from stdin into a
// PNG file, reporting progress on stderr. It is a fixed-shape
// demonstration of the parapng library, not a general-purpose image
// conversion tool — callers already know their source is tightly packed
// raw rows (no stride padding, no color-space conversion).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/five82/parapng"
	"github.com/five82/parapng/internal/filter"
	"github.com/five82/parapng/internal/imgmodel"
	"github.com/five82/parapng/internal/logging"
)

const appName = "parapng-demo"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(appName, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `%s - encode raw pixel rows to a PNG file

Usage:
  %s -width W -height H -color TYPE -depth N -o out.png < raw_rows

Color types: grey, greyalpha, rgb, rgba, indexed
`, appName, appName)
		fs.PrintDefaults()
	}

	width := fs.Uint("width", 0, "image width in pixels")
	height := fs.Uint("height", 0, "image height in pixels")
	colorName := fs.String("color", "rgba", "color type: grey, greyalpha, rgb, rgba, indexed")
	depth := fs.Uint("depth", 8, "bit depth")
	output := fs.String("o", "", "output PNG path (required)")
	workers := fs.Int("workers", 0, "worker count (0 = auto)")
	level := fs.Int("level", -1, "DEFLATE compression level (-1 = default, 0-9)")
	chunkSize := fs.Int("chunk-size", 0, "chunk byte budget (0 = library default)")
	filterName := fs.String("filter", "adaptive", "filter mode: adaptive, none, sub, up, average, paeth")
	verbose := fs.Bool("v", false, "verbose logging")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *output == "" {
		return fmt.Errorf("-o output path is required")
	}
	colorType, err := parseColorType(*colorName)
	if err != nil {
		return err
	}
	mode, err := parseFilterMode(*filterName)
	if err != nil {
		return err
	}

	out, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() { _ = out.Close() }()

	opts := []parapng.Option{
		parapng.WithSize(uint32(*width), uint32(*height)),
		parapng.WithColor(colorType, uint8(*depth)),
		parapng.WithFilterMode(mode),
		parapng.WithCompressionLevel(*level),
	}
	if *workers > 0 {
		opts = append(opts, parapng.WithWorkers(*workers))
	}
	if *chunkSize > 0 {
		opts = append(opts, parapng.WithChunkSize(*chunkSize))
	}
	if *verbose {
		opts = append(opts, parapng.WithLogger(logging.New(os.Stderr, true)))
	}

	enc, err := parapng.New(opts...)
	if err != nil {
		return err
	}
	if err := enc.WriteHeader(out); err != nil {
		return fmt.Errorf("write_header: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprintln(os.Stderr, "ENCODING")
	bar := progressbar.NewOptions64(
		int64(uint32(*height)),
		progressbar.OptionSetDescription("rows"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)

	desc, _ := imgmodel.New(uint32(*width), uint32(*height), colorType, uint8(*depth))
	reader := bufio.NewReaderSize(os.Stdin, int(desc.BytesPerRow)*4)

	readRow := func(dst []byte) (int, error) {
		n, err := io.ReadFull(reader, dst)
		_ = bar.Add(1)
		return n, err
	}

	if err := enc.WriteImage(readRow); err != nil {
		_ = enc.Release()
		return fmt.Errorf("write_image: %w", err)
	}
	if err := enc.Finish(); err != nil {
		return fmt.Errorf("finish: %w", err)
	}

	green := color.New(color.FgGreen)
	if *verbose {
		_, _ = green.Fprintf(os.Stderr, "wrote %s (%dx%d)\n", *output, *width, *height)
	}
	return nil
}

func parseColorType(s string) (imgmodel.ColorType, error) {
	switch s {
	case "grey":
		return imgmodel.Grey, nil
	case "greyalpha":
		return imgmodel.GreyAlpha, nil
	case "rgb":
		return imgmodel.RGB, nil
	case "rgba":
		return imgmodel.RGBA, nil
	case "indexed":
		return imgmodel.Indexed, nil
	default:
		return 0, fmt.Errorf("unknown color type %q", s)
	}
}

func parseFilterMode(s string) (filter.Mode, error) {
	switch s {
	case "adaptive":
		return filter.Adaptive, nil
	case "none":
		return filter.ModeNone, nil
	case "sub":
		return filter.ModeSub, nil
	case "up":
		return filter.ModeUp, nil
	case "average":
		return filter.ModeAverage, nil
	case "paeth":
		return filter.ModePaeth, nil
	default:
		return 0, fmt.Errorf("unknown filter mode %q", s)
	}
}
