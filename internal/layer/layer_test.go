package layer

import (
	"strings"
	"testing"

	"github.com/mohammed-shakir/tile-streamer/internal/raster"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
)

const catalogTOML = `
[[layers]]
id = "ortho"
url = "http://tiles/{z}/{x}/{y}.png"
zoom_min = 2
zoom_max = 18
strategy = "progressive"
increment = 2
bbox = [0.0, 40.0, 10.0, 50.0]

[[layers]]
id = "dem"
kind = "elevation"
url = "http://dem/{z}/{x}/{y}.bil"
zoom_max = 14
no_data = -9999.0
visible = false
`

func TestDecodeCatalog(t *testing.T) {
	ls, err := DecodeCatalog(strings.NewReader(catalogTOML))
	if err != nil {
		t.Fatalf("DecodeCatalog: %v", err)
	}
	if len(ls) != 2 {
		t.Fatalf("layers=%d want 2", len(ls))
	}
	ortho, dem := ls[0], ls[1]
	if ortho.Kind != Imagery || ortho.Format != raster.FormatPNG || ortho.Protocol != "tms" {
		t.Fatalf("ortho=%+v", ortho)
	}
	if ortho.UpdateStrategy.Type != Progressive || ortho.UpdateStrategy.Increment != 2 {
		t.Fatalf("strategy=%+v", ortho.UpdateStrategy)
	}
	if !ortho.Visible || ortho.Opacity != 1 {
		t.Fatalf("defaults not applied: visible=%v opacity=%v", ortho.Visible, ortho.Opacity)
	}
	if dem.Kind != Elevation || dem.Format != raster.FormatXBIL || dem.NoDataValue != -9999 || dem.Visible {
		t.Fatalf("dem=%+v", dem)
	}
}

func TestDecodeCatalog_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":     ``,
		"duplicate": "[[layers]]\nid=\"a\"\nzoom_max=1\n[[layers]]\nid=\"a\"\nzoom_max=1\n",
		"zoom":      "[[layers]]\nid=\"a\"\nzoom_min=5\nzoom_max=1\n",
		"format":    "[[layers]]\nid=\"a\"\nkind=\"elevation\"\nformat=\"png\"\nzoom_max=1\n",
		"strategy":  "[[layers]]\nid=\"a\"\nstrategy=\"greedy\"\nzoom_max=1\n",
	}
	for name, doc := range cases {
		if _, err := DecodeCatalog(strings.NewReader(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestInsideLimit(t *testing.T) {
	tr := tile.NewTree(tile.Geographic())
	root := tr.Roots()[1] // east hemisphere
	l := &Layer{
		ID:     "a",
		Zoom:   ZoomRange{Min: 0, Max: 3},
		Extent: BBoxExtent(tile.BBox{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20}),
	}
	if !l.InsideLimit(root, -1) {
		t.Fatalf("root must intersect the extent")
	}
	if l.InsideLimit(root, 4) {
		t.Fatalf("target level above zoom max must be outside")
	}
	west := tr.Roots()[0]
	if l.InsideLimit(west, -1) {
		t.Fatalf("west hemisphere must not intersect the extent")
	}

	l.TileInsideLimit = func(*tile.Tile, *Layer, int) bool { return true }
	if !l.InsideLimit(west, 10) {
		t.Fatalf("custom predicate must win")
	}
}

func TestH3Extent(t *testing.T) {
	ring := [][2]float64{{10, 40}, {12, 40}, {12, 42}, {10, 42}, {10, 40}}
	e, err := NewH3Extent(ring, 5)
	if err != nil {
		t.Fatalf("NewH3Extent: %v", err)
	}
	if e.Len() == 0 {
		t.Fatalf("expected covered cells")
	}
	// small tile in the middle of the coverage
	if !e.Intersects(tile.BBox{MinX: 10.9, MinY: 40.9, MaxX: 11.1, MaxY: 41.1}) {
		t.Fatalf("inner tile must intersect")
	}
	// large tile containing the whole coverage
	if !e.Intersects(tile.BBox{MinX: 0, MinY: 0, MaxX: 90, MaxY: 90}) {
		t.Fatalf("enclosing tile must intersect")
	}
	if e.Intersects(tile.BBox{MinX: -50, MinY: -50, MaxX: -40, MaxY: -40}) {
		t.Fatalf("far tile must not intersect")
	}
	if _, err := NewH3Extent(ring, 16); err == nil {
		t.Fatalf("expected resolution error")
	}
}
