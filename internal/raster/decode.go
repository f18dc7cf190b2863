package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // imagery decoders
	_ "image/png"
	"math"
	"strings"

	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type Format string

const (
	FormatXBIL Format = "xbil"
	FormatTIFF Format = "tiff"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWEBP Format = "webp"
)

var ErrUnsupportedFormat = errors.New("unsupported raster format")

// Decoded is what a parser produces for one payload. Imagery fills Image,
// elevation fills Grid and, when the format declares it, Min/Max.
type Decoded struct {
	Image image.Image
	Grid  *Grid
	Min   *float64
	Max   *float64
}

func (d Decoded) HasExtent() bool { return d.Min != nil && d.Max != nil }

type DecodeOptions struct {
	NoData float64
}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXBIL, FormatTIFF, FormatPNG, FormatJPEG, FormatWEBP:
		return f, nil
	case "jpg":
		return FormatJPEG, nil
	case "tif", "geotiff":
		return FormatTIFF, nil
	case "bil", "image/x-bil;bits=32":
		return FormatXBIL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) Elevation() bool {
	return f == FormatXBIL || f == FormatTIFF
}

func Decode(f Format, b []byte, opts DecodeOptions) (Decoded, error) {
	switch f {
	case FormatXBIL:
		return decodeXBIL(b, opts)
	case FormatTIFF:
		return decodeTIFF(b)
	case FormatPNG, FormatJPEG, FormatWEBP:
		img, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			return Decoded{}, fmt.Errorf("decode %s: %w", f, err)
		}
		return Decoded{Image: img}, nil
	default:
		return Decoded{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// xbil is a headerless square of little-endian float32 samples
func decodeXBIL(b []byte, opts DecodeOptions) (Decoded, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return Decoded{}, fmt.Errorf("decode xbil: invalid payload size %d", len(b))
	}
	n := len(b) / 4
	side := int(math.Sqrt(float64(n)))
	if side*side != n {
		return Decoded{}, fmt.Errorf("decode xbil: %d samples is not a square raster", n)
	}
	g := NewGrid(side, side)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, g.Data); err != nil {
		return Decoded{}, fmt.Errorf("decode xbil: %w", err)
	}
	out := Decoded{Grid: g}
	if lo, hi, ok := MinMax(g, Identity, opts.NoData); ok {
		out.Min, out.Max = &lo, &hi
	}
	return out, nil
}

// tiff elevation carries no declared extent; the grid is scanned at bind time
func decodeTIFF(b []byte) (Decoded, error) {
	img, err := tiff.Decode(bytes.NewReader(b))
	if err != nil {
		return Decoded{}, fmt.Errorf("decode tiff: %w", err)
	}
	r := img.Bounds()
	g := NewGrid(r.Dx(), r.Dy())
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			var v float32
			switch px := img.(type) {
			case *image.Gray16:
				v = float32(px.Gray16At(r.Min.X+x, r.Min.Y+y).Y)
			case *image.Gray:
				v = float32(px.GrayAt(r.Min.X+x, r.Min.Y+y).Y)
			default:
				c, _, _, _ := img.At(r.Min.X+x, r.Min.Y+y).RGBA()
				v = float32(c)
			}
			g.Data[y*g.Width+x] = v
		}
	}
	return Decoded{Grid: g}, nil
}
