package tile

import (
	"image"
	"sync/atomic"

	"github.com/mohammed-shakir/tile-streamer/internal/raster"
)

// Texture is one decoded payload. The same Texture is shared by every slot
// that maps into it (parent inheritance) and by the result cache.
type Texture struct {
	Coord Coord
	Image image.Image
	Grid  *raster.Grid
	Min   *float64
	Max   *float64

	// OnRelease runs when the last slot referencing the texture lets go of it.
	OnRelease func(*Texture)

	refs atomic.Int32
}

func NewTexture(c Coord, d raster.Decoded) *Texture {
	return &Texture{Coord: c, Image: d.Image, Grid: d.Grid, Min: d.Min, Max: d.Max}
}

func (t *Texture) Level() int { return t.Coord.Z }

func (t *Texture) Refs() int { return int(t.refs.Load()) }

func (t *Texture) retain() { t.refs.Add(1) }

func (t *Texture) release() {
	if t.refs.Add(-1) == 0 && t.OnRelease != nil {
		t.OnRelease(t)
	}
}

// TextureSet is what a provider settles a command with: one texture per slot
// of the requesting layer, and for each the mapping from the slot's UV space
// into the texture. Elevation sets hold exactly one texture.
type TextureSet struct {
	Textures []*Texture
	Pitches  []OffsetScale
}

func (s TextureSet) Len() int { return len(s.Textures) }
