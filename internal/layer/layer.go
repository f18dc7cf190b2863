// Package layer describes imagery and elevation data sources.
package layer

import (
	"fmt"
	"strings"

	"github.com/mohammed-shakir/tile-streamer/internal/raster"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
)

type Kind int

const (
	Imagery Kind = iota
	Elevation
)

func (k Kind) String() string {
	if k == Elevation {
		return "elevation"
	}
	return "imagery"
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "imagery", "color":
		return Imagery, nil
	case "elevation":
		return Elevation, nil
	default:
		return Imagery, fmt.Errorf("unknown layer kind %q", s)
	}
}

type StrategyType int

const (
	MinNetworkTraffic StrategyType = iota
	Group
	Progressive
	Dichotomy
)

func ParseStrategy(s string) (StrategyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "min_network_traffic":
		return MinNetworkTraffic, nil
	case "group":
		return Group, nil
	case "progressive":
		return Progressive, nil
	case "dichotomy":
		return Dichotomy, nil
	default:
		return MinNetworkTraffic, fmt.Errorf("unknown update strategy %q", s)
	}
}

type UpdateStrategy struct {
	Type StrategyType
	// Group: ascending levels to snap to
	Groups []int
	// Progressive: levels to advance per fetch
	Increment int
}

type ZoomRange struct {
	Min, Max int
}

func (z ZoomRange) Contains(level int) bool {
	return level >= z.Min && level <= z.Max
}

// Layer is one configured imagery or elevation source.
type Layer struct {
	ID       string
	Kind     Kind
	Protocol string
	URL      string
	Format   raster.Format

	Visible bool
	Opacity float64
	// Frozen disables fetching, bound textures stay
	Frozen bool

	Zoom           ZoomRange
	UpdateStrategy UpdateStrategy
	NoDataValue    float64
	// each tile binds 4^SubTileDepth slots of this layer
	SubTileDepth int
	Extent       Extent
	// when set, a tile outside the limit never inherits its parent's texture
	NoTextureParentOutsideLimit bool

	// optional overrides of the default policies
	CanTileTextureBeImproved func(l *Layer, t *tile.Tile) bool
	TileInsideLimit          func(t *tile.Tile, l *Layer, targetLevel int) bool
}

// InsideLimit reports whether t may be textured by l at targetLevel; a
// negative targetLevel checks the tile's own level.
func (l *Layer) InsideLimit(t *tile.Tile, targetLevel int) bool {
	if l.TileInsideLimit != nil {
		return l.TileInsideLimit(t, l, targetLevel)
	}
	lvl := targetLevel
	if lvl < 0 {
		lvl = t.Level()
	}
	if lvl < l.Zoom.Min || lvl > l.Zoom.Max {
		return false
	}
	if l.Extent != nil && !l.Extent.Intersects(t.BBox) {
		return false
	}
	return true
}

func (l *Layer) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("layer id is required")
	}
	if l.Zoom.Min < 0 || l.Zoom.Max < l.Zoom.Min {
		return fmt.Errorf("layer %s: invalid zoom range [%d,%d]", l.ID, l.Zoom.Min, l.Zoom.Max)
	}
	if l.Kind == Elevation && l.Format != "" && !l.Format.Elevation() {
		return fmt.Errorf("layer %s: format %s cannot carry elevation", l.ID, l.Format)
	}
	if l.SubTileDepth < 0 || l.SubTileDepth > 2 {
		return fmt.Errorf("layer %s: sub tile depth %d out of range 0..2", l.ID, l.SubTileDepth)
	}
	return nil
}
