// Package raster holds decoded tile payloads and the elevation helpers that
// operate on them.
package raster

import (
	"math"
)

// OffsetScale maps a tile's local UV space into a texture's UV space.
type OffsetScale struct {
	X, Y           float64
	ScaleX, ScaleY float64
}

var Identity = OffsetScale{ScaleX: 1, ScaleY: 1}

// Grid is a row-major single channel raster, row 0 at the top.
type Grid struct {
	Width  int
	Height int
	Data   []float32
}

func NewGrid(w, h int) *Grid {
	return &Grid{Width: w, Height: h, Data: make([]float32, w*h)}
}

func (g *Grid) At(x, y int) float32 {
	return g.Data[y*g.Width+x]
}

func (g *Grid) Clone() *Grid {
	cp := &Grid{Width: g.Width, Height: g.Height, Data: make([]float32, len(g.Data))}
	copy(cp.Data, g.Data)
	return cp
}

// MinMax scans the sub-region of g selected by region and returns the vertical
// extent of every sample that is not noData. ok is false when the region holds
// no valid sample.
func MinMax(g *Grid, region OffsetScale, noData float64) (lo, hi float64, ok bool) {
	if g == nil || g.Width == 0 || g.Height == 0 {
		return 0, 0, false
	}
	xs, xe := span(region.X, region.ScaleX, g.Width)
	ys, ye := span(region.Y, region.ScaleY, g.Height)

	lo, hi = math.Inf(1), math.Inf(-1)
	for y := ys; y < ye; y++ {
		row := y * g.Width
		for x := xs; x < xe; x++ {
			v := float64(g.Data[row+x])
			if !valid(v, noData) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0, false
	}
	return lo, hi, true
}

// CornersValid reports whether the four corner samples of g hold data. It is a
// cheap approximation: a hole in the middle of the raster is not detected and a
// legitimate no-data corner on a coverage boundary is reported as invalid.
func CornersValid(g *Grid, noData float64) bool {
	if g == nil || len(g.Data) == 0 {
		return false
	}
	l := len(g.Data)
	corners := [4]float32{
		g.Data[0],
		g.Data[g.Width-1],
		g.Data[l-g.Width],
		g.Data[l-1],
	}
	for _, c := range corners {
		// NaN fails the comparison as well
		if !(float64(c) > noData) {
			return false
		}
	}
	return true
}

// SubstituteFromParent returns a copy of child where every noData sample is
// replaced with the parent sample at the position pitch maps it to. child is
// never modified since it may be shared through the result cache.
func SubstituteFromParent(child, parent *Grid, pitch OffsetScale, noData float64) *Grid {
	out := child.Clone()
	if parent == nil || parent.Width == 0 || parent.Height == 0 {
		return out
	}
	for y := 0; y < out.Height; y++ {
		v := float64(y) / float64(out.Height)
		py := clamp(int(math.Floor((pitch.Y+v*pitch.ScaleY)*float64(parent.Height))), parent.Height-1)
		for x := 0; x < out.Width; x++ {
			i := y*out.Width + x
			if float64(out.Data[i]) != noData {
				continue
			}
			u := float64(x) / float64(out.Width)
			px := clamp(int(math.Floor((pitch.X+u*pitch.ScaleX)*float64(parent.Width))), parent.Width-1)
			out.Data[i] = parent.Data[py*parent.Width+px]
		}
	}
	return out
}

func valid(v, noData float64) bool {
	return !math.IsNaN(v) && v != noData
}

func span(off, scale float64, n int) (int, int) {
	if scale <= 0 {
		scale = 1
	}
	start := clamp(int(math.Floor(off*float64(n))), n-1)
	size := int(math.Floor(scale * float64(n)))
	if size < 1 {
		size = 1
	}
	end := start + size
	if end > n {
		end = n
	}
	return start, end
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
