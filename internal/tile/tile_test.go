package tile

import (
	"testing"

	"github.com/mohammed-shakir/tile-streamer/internal/raster"
)

func TestCoord_OffsetToParent(t *testing.T) {
	c := Coord{Z: 3, X: 5, Y: 2}
	p := c.Ancestor(1)
	if p != (Coord{Z: 1, X: 1, Y: 0}) {
		t.Fatalf("ancestor=%v want 1/1/0", p)
	}
	if !c.IsInside(p) {
		t.Fatalf("%v must be inside %v", c, p)
	}
	if c.IsInside(Coord{Z: 1, X: 0, Y: 0}) {
		t.Fatalf("%v must not be inside 1/0/0", c)
	}
	got := c.OffsetToParent(p)
	want := OffsetScale{X: 0.25, Y: 0.5, ScaleX: 0.25, ScaleY: 0.25}
	if got != want {
		t.Fatalf("offset=%+v want %+v", got, want)
	}
	if c.OffsetToParent(c) != raster.Identity {
		t.Fatalf("offset to self must be identity")
	}
}

func TestCoord_Children(t *testing.T) {
	kids := Coord{Z: 1, X: 1, Y: 0}.Children(1)
	want := []Coord{{2, 2, 0}, {2, 3, 0}, {2, 2, 1}, {2, 3, 1}}
	if len(kids) != len(want) {
		t.Fatalf("len=%d want %d", len(kids), len(want))
	}
	for i := range want {
		if kids[i] != want[i] {
			t.Fatalf("child %d=%v want %v", i, kids[i], want[i])
		}
	}
}

func TestMatrix_BBox(t *testing.T) {
	m := Geographic()
	b := m.BBox(Coord{Z: 0, X: 1, Y: 0})
	if b.MinX != 0 || b.MaxX != 180 || b.MinY != -90 || b.MaxY != 90 {
		t.Fatalf("bbox=%+v", b)
	}
	b = m.BBox(Coord{Z: 1, X: 0, Y: 1})
	if b.MinX != -180 || b.MaxX != -90 || b.MinY != -90 || b.MaxY != 0 {
		t.Fatalf("bbox=%+v", b)
	}
}

func TestMaterial_SequenceRecomputesOffsets(t *testing.T) {
	m := NewMaterial(Coord{})
	a := m.AddLayer("a", Coord{}.Children(1))
	b := m.AddLayer("b", Coord{}.Children(0))
	if a.TextureOffset != 0 || b.TextureOffset != 4 {
		t.Fatalf("offsets a=%d b=%d want 0/4", a.TextureOffset, b.TextureOffset)
	}
	m.SetSequence([]string{"b", "missing", "a"})
	if b.TextureOffset != 0 || a.TextureOffset != 1 {
		t.Fatalf("offsets a=%d b=%d want 1/0", a.TextureOffset, b.TextureOffset)
	}
	m.RemoveLayer("b")
	if a.TextureOffset != 0 || len(m.Sequence()) != 1 {
		t.Fatalf("after remove: offset=%d seq=%v", a.TextureOffset, m.Sequence())
	}
}

func TestLayerTextures_LevelAndRefs(t *testing.T) {
	m := NewMaterial(Coord{Z: 2})
	lt := m.AddLayer("a", Coord{Z: 2}.Children(1))
	if lt.Level() != EmptyLevel {
		t.Fatalf("empty level=%d", lt.Level())
	}

	released := 0
	tex := &Texture{Coord: Coord{Z: 2}, OnRelease: func(*Texture) { released++ }}
	for i := range lt.Slots {
		lt.SetTexture(i, tex, raster.Identity)
	}
	if lt.Level() != 2 || tex.Refs() != 4 {
		t.Fatalf("level=%d refs=%d want 2/4", lt.Level(), tex.Refs())
	}
	m.Dispose()
	if tex.Refs() != 0 || released != 1 {
		t.Fatalf("refs=%d released=%d want 0/1", tex.Refs(), released)
	}
	if m.Layer("a") != nil || m.Elevation() != nil {
		t.Fatalf("disposed material must expose no layers")
	}
}

func TestTree_SubdivideAndPrune(t *testing.T) {
	tr := NewTree(Geographic())
	if tr.Len() != 2 {
		t.Fatalf("roots=%d want 2", tr.Len())
	}
	root := tr.Roots()[0]
	kids := tr.Subdivide(root.ID())
	if len(kids) != 4 || kids[0].Parent() != root {
		t.Fatalf("subdivide failed")
	}
	grand := tr.Subdivide(kids[0].ID())

	tex := &Texture{Coord: root.Coord}
	root.Material.SetElevation("dem", tex, raster.Identity)
	grand[0].Material.SetElevation("dem", tex, grand[0].Coord.OffsetToParent(root.Coord))
	if tex.Refs() != 2 {
		t.Fatalf("refs=%d want 2", tex.Refs())
	}

	tr.Prune(root.ID())
	if tr.Len() != 2 {
		t.Fatalf("len=%d want 2 after prune", tr.Len())
	}
	if !grand[0].Detached() || grand[0].Parent() != nil || grand[0].Material != nil {
		t.Fatalf("pruned tile must be detached")
	}
	if tex.Refs() != 1 {
		t.Fatalf("shared texture refs=%d want 1", tex.Refs())
	}
	if !root.IsLeaf() {
		t.Fatalf("root must be a leaf after prune")
	}
}
