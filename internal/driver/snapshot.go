package driver

import (
	"time"

	"github.com/mohammed-shakir/tile-streamer/internal/tile"
	"github.com/mohammed-shakir/tile-streamer/internal/updatestate"
)

// TileStatus is a read-only view of one tile for the admin surface.
type TileStatus struct {
	Tile           string            `json:"tile"`
	Displayed      bool              `json:"displayed"`
	MinZ           float64           `json:"min_z"`
	MaxZ           float64           `json:"max_z"`
	ElevationLevel int               `json:"elevation_level"`
	ElevationLayer string            `json:"elevation_layer,omitempty"`
	ImageryLevels  map[string]int    `json:"imagery_levels,omitempty"`
	States         map[string]string `json:"states,omitempty"`
}

type Snapshot struct {
	Frame   uint64       `json:"frame"`
	At      time.Time    `json:"at"`
	Queued  int          `json:"queued"`
	Running int          `json:"running"`
	Tiles   []TileStatus `json:"tiles"`
}

// Snapshot returns the state captured at the end of the last frame. Safe
// from any goroutine.
func (d *Driver) Snapshot() Snapshot {
	d.smu.RLock()
	defer d.smu.RUnlock()
	return d.snap
}

func (d *Driver) publish() {
	q, r := d.sched.Len()
	snap := Snapshot{Frame: d.frame, At: time.Now(), Queued: q, Running: r}
	d.tree.Walk(func(t *tile.Tile) bool {
		ts := TileStatus{
			Tile:      t.Coord.String(),
			Displayed: t.Displayed,
			MinZ:      t.BBox.MinZ,
			MaxZ:      t.BBox.MaxZ,
		}
		if m := t.Material; !m.Disposed() {
			ts.ElevationLevel = m.ElevationLevel()
			ts.ElevationLayer = m.ElevationSource()
			for _, id := range m.Sequence() {
				lt := m.Layer(id)
				if lt == nil {
					continue
				}
				if ts.ImageryLevels == nil {
					ts.ImageryLevels = map[string]int{}
				}
				ts.ImageryLevels[id] = lt.Level()
			}
		}
		t.UpdateStates(func(id string, st *updatestate.State) {
			if ts.States == nil {
				ts.States = map[string]string{}
			}
			ts.States[id] = st.Status().String()
		})
		snap.Tiles = append(snap.Tiles, ts)
		return true
	})

	d.smu.Lock()
	d.snap = snap
	d.smu.Unlock()
}
