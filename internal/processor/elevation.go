package processor

import (
	"fmt"

	"github.com/mohammed-shakir/tile-streamer/internal/core/observability"
	"github.com/mohammed-shakir/tile-streamer/internal/layer"
	"github.com/mohammed-shakir/tile-streamer/internal/raster"
	"github.com/mohammed-shakir/tile-streamer/internal/scheduler"
	"github.com/mohammed-shakir/tile-streamer/internal/strategy"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
)

// UpdateElevation runs one traversal pass of elevation layer l over tile t.
// All elevation layers compete for the tile's single elevation slot.
func (p *Processor) UpdateElevation(c *Context, l *layer.Layer, t *tile.Tile) {
	m := t.Material
	if m.Disposed() {
		return
	}

	st, ok := t.UpdateState(l.ID)
	if !ok {
		st = p.newState()
		t.SetUpdateState(l.ID, st)

		inside := l.InsideLimit(t, -1)
		parent := t.Parent()
		if !inside && (l.NoTextureParentOutsideLimit || parent == nil || parent.Material.Elevation() == nil) {
			st.NoMoreUpdatePossible()
			return
		}
		inherited := p.inheritElevation(parent, t, l.NoDataValue)
		if inherited || m.ElevationLevel() >= l.Zoom.Min {
			c.View.NotifyChange(false, t)
		}
		if m.ElevationLevel() >= l.Zoom.Min {
			return
		}
	}

	if m.ElevationLevel() == tile.EmptyLevel && p.inheritElevation(t.Parent(), t, l.NoDataValue) {
		c.View.NotifyChange(false, t)
	}

	if !t.Displayed {
		return
	}
	if l.Frozen || !l.Visible || !st.CanTryUpdate(c.now()) {
		return
	}

	current := m.ElevationLevel()
	nodeLevel := t.Level()
	if !canImprove(l, t, current, nodeLevel) {
		st.NoMoreUpdatePossible()
		return
	}

	target := strategy.ChooseNextLevelToFetch(l, t, nodeLevel, current, st.FailureParams())
	if target <= current {
		return
	}
	if !l.InsideLimit(t, target) {
		st.NoMoreUpdatePossible()
		return
	}

	p.dispatch(c, l, t, st, target, func(cmd *scheduler.Command, o scheduler.Outcome) {
		p.settleElevation(c, l, t, cmd, o)
	})
}

func (p *Processor) settleElevation(c *Context, l *layer.Layer, t *tile.Tile, cmd *scheduler.Command, o scheduler.Outcome) {
	st, ok := t.UpdateState(l.ID)
	if !ok {
		return
	}
	switch o.Status {
	case scheduler.Cancelled:
		st.Success()
		p.record(c, l, t, st, cmd, o.Status, nil)
		return
	case scheduler.Failed:
		p.fail(c, l, t, st, cmd, o.Err)
		return
	}

	m := t.Material
	if m.Disposed() {
		st.Success()
		return
	}
	// a slower, coarser fetch (possibly from another elevation layer) lost the race
	if cmd.TargetLevel <= m.ElevationLevel() {
		st.Success()
		return
	}
	set, ok := textureSet(o.Value)
	if !ok || set.Textures[0] == nil {
		p.fail(c, l, t, st, cmd, fmt.Errorf("elevation %s: unexpected payload %T", l.ID, o.Value))
		return
	}

	tex, pitch := set.Textures[0], set.Pitches[0]
	substituted := false
	if tex.Grid != nil && !raster.CornersValid(tex.Grid, l.NoDataValue) {
		if pt := t.Parent(); hasElevation(pt) {
			ps := pt.Material.Elevation().Slots[0]
			if ps.Texture.Grid != nil && tex.Coord.IsInside(ps.Texture.Coord) {
				grid := raster.SubstituteFromParent(tex.Grid, ps.Texture.Grid, tex.Coord.OffsetToParent(ps.Texture.Coord), l.NoDataValue)
				tex = &tile.Texture{Coord: tex.Coord, Grid: grid}
				substituted = true
			}
		}
	}

	m.SetElevation(l.ID, tex, pitch)
	if lo, hi, ok := verticalExtent(tex, pitch, substituted, l.NoDataValue); ok {
		t.SetBBoxZ(lo, hi)
	}
	observability.IncTextureBound(l.Kind.String())
	st.Success()
	p.record(c, l, t, st, cmd, o.Status, nil)
	c.View.NotifyChange(false, t)
}

// verticalExtent returns the min/max the tile should report for tex. A
// declared extent covering the whole texture is accepted as is; otherwise the
// tile's region is scanned. ok is false when neither yields a value, in which
// case the tile keeps the extent it inherited.
func verticalExtent(tex *tile.Texture, pitch tile.OffsetScale, substituted bool, noData float64) (lo, hi float64, ok bool) {
	if !substituted && pitch == raster.Identity && tex.Min != nil && tex.Max != nil {
		return *tex.Min, *tex.Max, true
	}
	if tex.Grid == nil {
		return 0, 0, false
	}
	return raster.MinMax(tex.Grid, pitch, noData)
}

func hasElevation(t *tile.Tile) bool {
	if t == nil {
		return false
	}
	e := t.Material.Elevation()
	return e != nil && !e.Slots[0].Empty()
}

// inheritElevation shares the parent's elevation texture with t when it is
// finer than what t holds, and reports whether it did. Close to the
// texture's native level the tile's own sub-region is scanned for min/max;
// further away the parent's extent is reused.
func (p *Processor) inheritElevation(parent, t *tile.Tile, noData float64) bool {
	if !hasElevation(parent) {
		return false
	}
	ps := parent.Material.Elevation().Slots[0]
	if ps.Level <= t.Material.ElevationLevel() {
		return false
	}
	pitch := t.Coord.OffsetToParent(ps.Texture.Coord)
	t.Material.SetElevation(parent.Material.ElevationSource(), ps.Texture, pitch)

	if ps.Texture.Grid != nil && t.Level()-ps.Level <= p.cfg.MinMaxInheritGap {
		if lo, hi, ok := raster.MinMax(ps.Texture.Grid, pitch, noData); ok {
			t.SetBBoxZ(lo, hi)
			return true
		}
	}
	t.SetBBoxZ(parent.BBox.MinZ, parent.BBox.MaxZ)
	return true
}
