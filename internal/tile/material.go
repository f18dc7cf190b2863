package tile

import (
	"github.com/mohammed-shakir/tile-streamer/internal/raster"
)

// EmptyLevel is the level reported by a slot that holds no texture.
const EmptyLevel = -1

type Slot struct {
	Texture     *Texture
	Level       int
	OffsetScale OffsetScale
}

func (s Slot) Empty() bool { return s.Texture == nil }

// LayerTextures is the bound texture state of one layer on one tile: one slot
// per sub-tile coord, placed at TextureOffset in the material's flat list.
type LayerTextures struct {
	LayerID       string
	Coords        []Coord
	Slots         []Slot
	TextureOffset int
	Visible       bool
	Opacity       float64
}

func newLayerTextures(id string, coords []Coord) *LayerTextures {
	lt := &LayerTextures{
		LayerID: id,
		Coords:  coords,
		Slots:   make([]Slot, len(coords)),
		Visible: true,
		Opacity: 1,
	}
	for i := range lt.Slots {
		lt.Slots[i] = Slot{Level: EmptyLevel, OffsetScale: raster.Identity}
	}
	return lt
}

func (lt *LayerTextures) TextureCount() int { return len(lt.Slots) }

// Level is the coarsest level bound across slots, EmptyLevel if any is empty.
func (lt *LayerTextures) Level() int {
	if lt == nil || len(lt.Slots) == 0 {
		return EmptyLevel
	}
	lvl := lt.Slots[0].Level
	for _, s := range lt.Slots[1:] {
		lvl = min(lvl, s.Level)
	}
	return lvl
}

// SetTexture binds tex into slot i. It does not enforce level monotonicity;
// callers decide whether a texture is an improvement.
func (lt *LayerTextures) SetTexture(i int, tex *Texture, os OffsetScale) {
	if i < 0 || i >= len(lt.Slots) {
		return
	}
	old := lt.Slots[i].Texture
	if tex != nil {
		tex.retain()
	}
	lvl := EmptyLevel
	if tex != nil {
		lvl = tex.Level()
	}
	lt.Slots[i] = Slot{Texture: tex, Level: lvl, OffsetScale: os}
	if old != nil {
		old.release()
	}
}

func (lt *LayerTextures) releaseAll() {
	for i := range lt.Slots {
		if t := lt.Slots[i].Texture; t != nil {
			lt.Slots[i] = Slot{Level: EmptyLevel, OffsetScale: raster.Identity}
			t.release()
		}
	}
}

// Material is what the renderer consumes for one tile: per-layer imagery slots
// ordered by sequence and a single elevation slot shared by all elevation layers.
type Material struct {
	layers    map[string]*LayerTextures
	sequence  []string
	elevation *LayerTextures
	// id of the elevation layer whose texture is bound
	elevationSource string
	disposed        bool
}

func NewMaterial(c Coord) *Material {
	return &Material{
		layers:    map[string]*LayerTextures{},
		elevation: newLayerTextures("", []Coord{c}),
	}
}

func (m *Material) Disposed() bool { return m == nil || m.disposed }

func (m *Material) Layer(id string) *LayerTextures {
	if m.Disposed() {
		return nil
	}
	return m.layers[id]
}

// AddLayer registers slot bookkeeping for an imagery layer. The layer lands
// at the end of the sequence until SetSequence is called.
func (m *Material) AddLayer(id string, coords []Coord) *LayerTextures {
	if lt, ok := m.layers[id]; ok {
		return lt
	}
	lt := newLayerTextures(id, coords)
	m.layers[id] = lt
	m.sequence = append(m.sequence, id)
	m.recomputeOffsets()
	return lt
}

func (m *Material) RemoveLayer(id string) {
	lt, ok := m.layers[id]
	if !ok {
		return
	}
	lt.releaseAll()
	delete(m.layers, id)
	seq := m.sequence[:0]
	for _, s := range m.sequence {
		if s != id {
			seq = append(seq, s)
		}
	}
	m.sequence = seq
	m.recomputeOffsets()
}

// SetSequence orders imagery layers by ids. Registered layers missing from
// ids keep their relative order after the listed ones; unknown ids are ignored.
func (m *Material) SetSequence(ids []string) {
	seen := make(map[string]struct{}, len(ids))
	seq := make([]string, 0, len(m.layers))
	for _, id := range ids {
		if _, ok := m.layers[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		seq = append(seq, id)
	}
	for _, id := range m.sequence {
		if _, ok := seen[id]; !ok {
			seq = append(seq, id)
		}
	}
	m.sequence = seq
	m.recomputeOffsets()
}

func (m *Material) Sequence() []string {
	out := make([]string, len(m.sequence))
	copy(out, m.sequence)
	return out
}

func (m *Material) recomputeOffsets() {
	off := 0
	for _, id := range m.sequence {
		lt := m.layers[id]
		lt.TextureOffset = off
		off += lt.TextureCount()
	}
}

func (m *Material) Elevation() *LayerTextures {
	if m.Disposed() {
		return nil
	}
	return m.elevation
}

func (m *Material) ElevationLevel() int {
	return m.Elevation().Level()
}

func (m *Material) ElevationSource() string { return m.elevationSource }

// SetElevation binds tex as the tile's single elevation texture.
func (m *Material) SetElevation(layerID string, tex *Texture, os OffsetScale) {
	if m.Disposed() {
		return
	}
	m.elevation.SetTexture(0, tex, os)
	m.elevationSource = layerID
}

// Dispose releases every bound texture; the material is unusable afterwards.
func (m *Material) Dispose() {
	if m.Disposed() {
		return
	}
	for _, lt := range m.layers {
		lt.releaseAll()
	}
	m.elevation.releaseAll()
	m.layers = nil
	m.sequence = nil
	m.disposed = true
}
