// Package tile models the quadtree of terrain tiles and the texture state
// bound to each of them.
package tile

import (
	"fmt"

	"github.com/mohammed-shakir/tile-streamer/internal/raster"
)

type OffsetScale = raster.OffsetScale

// Coord addresses a tile in the tile matrix; Y grows downward.
type Coord struct {
	Z, X, Y int
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Ancestor returns the coord covering c at level z (c itself when z >= c.Z).
func (c Coord) Ancestor(z int) Coord {
	if z >= c.Z {
		return c
	}
	if z < 0 {
		z = 0
	}
	d := c.Z - z
	return Coord{Z: z, X: c.X >> d, Y: c.Y >> d}
}

func (c Coord) IsInside(p Coord) bool {
	return p.Z <= c.Z && c.Ancestor(p.Z) == p
}

// OffsetToParent maps c's UV space into the UV space of p. p must contain c.
func (c Coord) OffsetToParent(p Coord) OffsetScale {
	d := c.Z - p.Z
	if d <= 0 {
		return raster.Identity
	}
	n := 1 << d
	s := 1 / float64(n)
	return OffsetScale{
		X:      float64(c.X-p.X*n) * s,
		Y:      float64(c.Y-p.Y*n) * s,
		ScaleX: s,
		ScaleY: s,
	}
}

// Children returns the 4^depth descendants of c at c.Z+depth in row-major order.
func (c Coord) Children(depth int) []Coord {
	if depth <= 0 {
		return []Coord{c}
	}
	n := 1 << depth
	out := make([]Coord, 0, n*n)
	for dy := range n {
		for dx := range n {
			out = append(out, Coord{Z: c.Z + depth, X: c.X*n + dx, Y: c.Y*n + dy})
		}
	}
	return out
}

type BBox struct {
	MinX, MinY float64
	MaxX, MaxY float64
	MinZ, MaxZ float64
}

func (b BBox) Intersects(o BBox) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

func (b BBox) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

func (b BBox) Center() (float64, float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Matrix is a quadtree tile matrix over a planar extent.
type Matrix struct {
	MinX, MinY float64
	MaxX, MaxY float64
	RootCols   int
	RootRows   int
}

// Geographic is the EPSG:4326 matrix with two root tiles.
func Geographic() Matrix {
	return Matrix{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90, RootCols: 2, RootRows: 1}
}

func (m Matrix) Roots() []Coord {
	out := make([]Coord, 0, m.RootCols*m.RootRows)
	for y := range m.RootRows {
		for x := range m.RootCols {
			out = append(out, Coord{X: x, Y: y})
		}
	}
	return out
}

func (m Matrix) BBox(c Coord) BBox {
	cols := float64(m.RootCols << c.Z)
	rows := float64(m.RootRows << c.Z)
	w := (m.MaxX - m.MinX) / cols
	h := (m.MaxY - m.MinY) / rows
	return BBox{
		MinX: m.MinX + float64(c.X)*w,
		MaxX: m.MinX + float64(c.X+1)*w,
		MaxY: m.MaxY - float64(c.Y)*h,
		MinY: m.MaxY - float64(c.Y+1)*h,
	}
}
