package tile

import (
	"github.com/mohammed-shakir/tile-streamer/internal/updatestate"
)

// ID is an opaque handle into a Tree. The zero ID never names a tile.
type ID uint64

const NoID ID = 0

type Tile struct {
	Coord              Coord
	BBox               BBox
	Displayed          bool
	PendingSubdivision bool
	Material           *Material

	id       ID
	parent   ID
	children []ID
	states   map[string]*updatestate.State
	tree     *Tree
}

func (t *Tile) ID() ID     { return t.id }
func (t *Tile) Level() int { return t.Coord.Z }

// Detached reports whether the tile was pruned from its tree.
func (t *Tile) Detached() bool { return t.tree == nil }

// Parent looks the parent up in the tree; nil for roots and pruned tiles.
func (t *Tile) Parent() *Tile {
	if t.tree == nil || t.parent == NoID {
		return nil
	}
	return t.tree.Get(t.parent)
}

func (t *Tile) Children() []ID {
	out := make([]ID, len(t.children))
	copy(out, t.children)
	return out
}

func (t *Tile) IsLeaf() bool { return len(t.children) == 0 }

func (t *Tile) UpdateState(layerID string) (*updatestate.State, bool) {
	st, ok := t.states[layerID]
	return st, ok
}

func (t *Tile) SetUpdateState(layerID string, st *updatestate.State) {
	t.states[layerID] = st
}

// UpdateStates iterates over every (layer id, state) pair of the tile.
func (t *Tile) UpdateStates(fn func(layerID string, st *updatestate.State)) {
	for id, st := range t.states {
		fn(id, st)
	}
}

// CoordsForLayer returns the sub-tile coords a layer binds one slot each for.
func (t *Tile) CoordsForLayer(subTileDepth int) []Coord {
	return t.Coord.Children(subTileDepth)
}

func (t *Tile) SetBBoxZ(lo, hi float64) {
	t.BBox.MinZ, t.BBox.MaxZ = lo, hi
}

// Tree is an arena of tiles; the parent relation is a lookup, never ownership.
type Tree struct {
	matrix Matrix
	next   ID
	tiles  map[ID]*Tile
	roots  []ID
}

func NewTree(m Matrix) *Tree {
	tr := &Tree{matrix: m, tiles: map[ID]*Tile{}}
	for _, c := range m.Roots() {
		t := tr.add(c, NoID)
		tr.roots = append(tr.roots, t.id)
	}
	return tr
}

func (tr *Tree) Matrix() Matrix { return tr.matrix }

func (tr *Tree) Len() int { return len(tr.tiles) }

func (tr *Tree) Get(id ID) *Tile {
	return tr.tiles[id]
}

func (tr *Tree) Roots() []*Tile {
	out := make([]*Tile, 0, len(tr.roots))
	for _, id := range tr.roots {
		out = append(out, tr.tiles[id])
	}
	return out
}

// Subdivide creates the four children of id. It is a no-op returning the
// existing children when the tile is already subdivided.
func (tr *Tree) Subdivide(id ID) []*Tile {
	t := tr.tiles[id]
	if t == nil {
		return nil
	}
	if len(t.children) == 0 {
		for _, c := range t.Coord.Children(1) {
			child := tr.add(c, t.id)
			child.BBox.MinZ, child.BBox.MaxZ = t.BBox.MinZ, t.BBox.MaxZ
			t.children = append(t.children, child.id)
		}
	}
	t.PendingSubdivision = false
	out := make([]*Tile, 0, len(t.children))
	for _, cid := range t.children {
		out = append(out, tr.tiles[cid])
	}
	return out
}

// Prune removes the descendants of id, deepest first, disposing their
// materials. The tile itself stays.
func (tr *Tree) Prune(id ID) {
	t := tr.tiles[id]
	if t == nil {
		return
	}
	for _, cid := range t.children {
		tr.remove(cid)
	}
	t.children = nil
}

func (tr *Tree) remove(id ID) {
	t := tr.tiles[id]
	if t == nil {
		return
	}
	for _, cid := range t.children {
		tr.remove(cid)
	}
	t.children = nil
	t.Material.Dispose()
	t.Material = nil
	t.tree = nil
	delete(tr.tiles, id)
}

// Walk visits tiles depth first from the roots; returning false skips the
// tile's children.
func (tr *Tree) Walk(fn func(*Tile) bool) {
	for _, id := range tr.roots {
		tr.walk(id, fn)
	}
}

func (tr *Tree) walk(id ID, fn func(*Tile) bool) {
	t := tr.tiles[id]
	if t == nil || !fn(t) {
		return
	}
	for _, cid := range t.children {
		tr.walk(cid, fn)
	}
}

func (tr *Tree) add(c Coord, parent ID) *Tile {
	tr.next++
	t := &Tile{
		Coord:    c,
		BBox:     tr.matrix.BBox(c),
		Material: NewMaterial(c),
		id:       tr.next,
		parent:   parent,
		states:   map[string]*updatestate.State{},
		tree:     tr,
	}
	tr.tiles[t.id] = t
	return t
}
