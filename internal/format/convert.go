package format

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/shotrelay/shotrelay/internal/metrics"
)

const convertTimeout = 30 * time.Second

// Converter turns HEIC/HEIF content into JPEG via an external OS utility.
// On macOS that is sips; elsewhere heif-convert (libheif). The utility is
// resolved once, next to the running executable first, then on PATH.
type Converter struct {
	tool string
	err  error
}

// NewConverter locates the conversion utility for the current platform.
// A missing utility is not an error here; Available reports it and
// conversion attempts fail with a descriptive error.
func NewConverter() *Converter {
	name := "heif-convert"
	if runtime.GOOS == "darwin" {
		name = "sips"
	}
	tool, found := findExecutable(name)
	if !found {
		return &Converter{err: fmt.Errorf("conversion utility %q not found next to the executable or on PATH", name)}
	}
	return &Converter{tool: tool}
}

// Available reports whether the external utility was found.
func (c *Converter) Available() bool { return c.err == nil }

// Convert runs the external utility on HEIC/HEIF bytes and returns JPEG
// bytes.
func (c *Converter) Convert(ctx context.Context, data []byte) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}

	dir, err := os.MkdirTemp("", "shotrelay-conv-*")
	if err != nil {
		return nil, fmt.Errorf("create conversion temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in.heic")
	outPath := filepath.Join(dir, "out.jpg")
	if err := os.WriteFile(inPath, data, 0600); err != nil {
		return nil, fmt.Errorf("write conversion input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if filepath.Base(c.tool) == "sips" {
		cmd = exec.CommandContext(ctx, c.tool, "-s", "format", "jpeg", inPath, "--out", outPath)
	} else {
		cmd = exec.CommandContext(ctx, c.tool, inPath, outPath)
	}

	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w (output: %s)", filepath.Base(c.tool), err, bytes.TrimSpace(output))
	}
	metrics.ObserveConversion("heic", time.Since(start).Seconds())

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("conversion produced no output: %w", err)
	}
	return out, nil
}

// findExecutable looks for a binary next to the running executable, then on
// PATH.
func findExecutable(name string) (string, bool) {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, true
	}
	return "", false
}

// ReadOrientation extracts the EXIF orientation tag, defaulting to 1.
func ReadOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// ResizeStill decodes a still image, applies its EXIF orientation, scales it
// down to fit maxDim, and re-encodes it as JPEG at the given quality.
func ResizeStill(data []byte, maxDim, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	img = applyOrientation(img, ReadOrientation(data))

	bounds := img.Bounds()
	if bounds.Dx() > maxDim || bounds.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// applyOrientation transforms an image according to an EXIF orientation
// value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
