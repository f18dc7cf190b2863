package processor

import (
	"fmt"

	"github.com/mohammed-shakir/tile-streamer/internal/core/observability"
	"github.com/mohammed-shakir/tile-streamer/internal/layer"
	"github.com/mohammed-shakir/tile-streamer/internal/scheduler"
	"github.com/mohammed-shakir/tile-streamer/internal/strategy"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
)

// UpdateImagery runs one traversal pass of imagery layer l over tile t.
func (p *Processor) UpdateImagery(c *Context, l *layer.Layer, t *tile.Tile) {
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
		// an out-of-limit tile still inherits from a parent that registered
		// the layer; whether it may fetch is decided against the target level
		if !inside && (l.NoTextureParentOutsideLimit || !registered(parent, l.ID)) {
			st.NoMoreUpdatePossible()
			return
		}

		lt := m.AddLayer(l.ID, t.CoordsForLayer(l.SubTileDepth))
		m.SetSequence(c.View.ColorLayerSequence())
		inherited := parent != nil && inheritImagery(parent.Material.Layer(l.ID), lt)
		if inherited || lt.Level() >= l.Zoom.Min {
			c.View.NotifyChange(false, t)
		}
		if lt.Level() >= l.Zoom.Min {
			return
		}
	}

	lt := m.Layer(l.ID)
	if lt == nil {
		return
	}
	// the parent may have been pending when this tile registered
	if lt.Level() == tile.EmptyLevel {
		if parent := t.Parent(); parent != nil && inheritImagery(parent.Material.Layer(l.ID), lt) {
			c.View.NotifyChange(false, t)
		}
	}
	lt.Visible = l.Visible
	lt.Opacity = l.Opacity

	if !t.Displayed {
		return
	}
	if l.Frozen || !l.Visible || !st.CanTryUpdate(c.now()) {
		return
	}

	current := lt.Level()
	nodeLevel := t.Level() + l.SubTileDepth
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
		p.settleImagery(c, l, t, cmd, o)
	})
}

func (p *Processor) settleImagery(c *Context, l *layer.Layer, t *tile.Tile, cmd *scheduler.Command, o scheduler.Outcome) {
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

	lt := t.Material.Layer(l.ID)
	if lt == nil {
		// pruned or layer removed while in flight; the payload is dropped
		st.Success()
		return
	}
	set, ok := textureSet(o.Value)
	if !ok || set.Len() != lt.TextureCount() {
		p.fail(c, l, t, st, cmd, fmt.Errorf("imagery %s: unexpected payload %T", l.ID, o.Value))
		return
	}

	bound := 0
	for i, tex := range set.Textures {
		// slots only ever move to finer levels
		if tex == nil || tex.Level() <= lt.Slots[i].Level {
			continue
		}
		lt.SetTexture(i, tex, set.Pitches[i])
		bound++
	}
	if bound > 0 {
		observability.IncTextureBound(l.Kind.String())
	}
	st.Success()
	p.record(c, l, t, st, cmd, o.Status, nil)
	c.View.NotifyChange(false, t)
}

func registered(parent *tile.Tile, layerID string) bool {
	return parent != nil && parent.Material.Layer(layerID) != nil
}

// inheritImagery fills every empty slot of lt from the parent slot covering
// it and reports whether any slot was bound. The parent texture is shared,
// only the mapping differs.
func inheritImagery(plt, lt *tile.LayerTextures) bool {
	if plt == nil {
		return false
	}
	bound := false
	for i, sc := range lt.Coords {
		if !lt.Slots[i].Empty() {
			continue
		}
		for j, pc := range plt.Coords {
			if !sc.IsInside(pc) {
				continue
			}
			ps := plt.Slots[j]
			if !ps.Empty() && ps.Level > lt.Slots[i].Level {
				lt.SetTexture(i, ps.Texture, sc.OffsetToParent(ps.Texture.Coord))
				bound = true
			}
			break
		}
	}
	return bound
}
