package layer

import (
	"errors"
	"fmt"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/tile-streamer/internal/tile"
)

// Extent is the spatial coverage of a layer.
type Extent interface {
	Intersects(b tile.BBox) bool
}

type BBoxExtent tile.BBox

func (e BBoxExtent) Intersects(b tile.BBox) bool {
	return tile.BBox(e).Intersects(b)
}

// H3Extent is an irregular coverage approximated by the H3 cells filling a
// polygon. Tiles much larger than a cell are matched through cell centres,
// small tiles through their corners and centre.
type H3Extent struct {
	res     int
	cells   map[h3.Cell]struct{}
	centres []h3.LatLng
	bounds  tile.BBox
}

// NewH3Extent polyfills ring (lon,lat pairs, optionally closed) at res.
func NewH3Extent(ring [][2]float64, res int) (*H3Extent, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	loop := toLoop(ring)
	if len(loop) < 3 {
		return nil, errors.New("extent ring has < 3 distinct vertices")
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	if len(cells) == 0 {
		return nil, errors.New("extent covers no H3 cell at this resolution")
	}
	e := &H3Extent{
		res:     res,
		cells:   make(map[h3.Cell]struct{}, len(cells)),
		centres: make([]h3.LatLng, 0, len(cells)),
		bounds:  ringBounds(loop),
	}
	for _, c := range cells {
		if _, ok := e.cells[c]; ok {
			continue
		}
		e.cells[c] = struct{}{}
		ll, err := c.LatLng()
		if err != nil {
			return nil, fmt.Errorf("h3 cell centre: %w", err)
		}
		e.centres = append(e.centres, ll)
	}
	return e, nil
}

func (e *H3Extent) Len() int { return len(e.cells) }

func (e *H3Extent) Intersects(b tile.BBox) bool {
	if !e.bounds.Intersects(b) {
		return false
	}
	cx, cy := b.Center()
	samples := [5][2]float64{
		{cx, cy},
		{b.MinX, b.MinY}, {b.MaxX, b.MinY},
		{b.MinX, b.MaxY}, {b.MaxX, b.MaxY},
	}
	for _, p := range samples {
		c, err := h3.LatLngToCell(h3.LatLng{Lat: p[1], Lng: p[0]}, e.res)
		if err != nil {
			continue
		}
		if _, ok := e.cells[c]; ok {
			return true
		}
	}
	for _, ll := range e.centres {
		if b.Contains(ll.Lng, ll.Lat) {
			return true
		}
	}
	return false
}

// drops a duplicated closing vertex
func toLoop(ring [][2]float64) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(ring))
	for _, xy := range ring {
		loop = append(loop, h3.LatLng{Lat: xy[1], Lng: xy[0]})
	}
	if len(loop) >= 2 {
		first, last := loop[0], loop[len(loop)-1]
		if first.Lat == last.Lat && first.Lng == last.Lng {
			loop = loop[:len(loop)-1]
		}
	}
	return loop
}

func ringBounds(loop h3.GeoLoop) tile.BBox {
	b := tile.BBox{MinX: loop[0].Lng, MaxX: loop[0].Lng, MinY: loop[0].Lat, MaxY: loop[0].Lat}
	for _, ll := range loop[1:] {
		b.MinX = min(b.MinX, ll.Lng)
		b.MaxX = max(b.MaxX, ll.Lng)
		b.MinY = min(b.MinY, ll.Lat)
		b.MaxY = max(b.MaxY, ll.Lat)
	}
	return b
}
