// Package strategy picks the next resolution level to fetch for a tile.
package strategy

import (
	"github.com/mohammed-shakir/tile-streamer/internal/layer"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
	"github.com/mohammed-shakir/tile-streamer/internal/updatestate"
)

// ChooseNextLevelToFetch returns a level above current when progress is
// possible; anything <= current means there is nothing to improve. The result
// never leaves the layer's zoom range.
func ChooseNextLevelToFetch(l *layer.Layer, t *tile.Tile, nodeLevel, current int, fp updatestate.FailureParams) int {
	var next int
	opts := l.UpdateStrategy
	switch {
	case fp.HasError:
		// back off below the level that failed instead of retrying it verbatim
		next = dichotomy(min(nodeLevel, fp.LowestLevelError-1), current, l.Zoom.Min)
	default:
		switch opts.Type {
		case layer.Group:
			next = group(nodeLevel, opts.Groups)
		case layer.Progressive:
			next = progressive(nodeLevel, current, opts.Increment, l.Zoom.Min)
		case layer.Dichotomy:
			next = dichotomy(nodeLevel, current, l.Zoom.Min)
		default:
			next = minNetworkTraffic(t, nodeLevel, current)
		}
	}

	next = min(next, l.Zoom.Max)
	if next < l.Zoom.Min {
		return current
	}
	return next
}

// a tile about to split will be replaced by its children; keep what it has
func minNetworkTraffic(t *tile.Tile, nodeLevel, current int) int {
	if t != nil && t.PendingSubdivision {
		return current
	}
	return nodeLevel
}

func group(nodeLevel int, groups []int) int {
	if len(groups) == 0 {
		return nodeLevel
	}
	best := groups[0]
	for _, g := range groups {
		if g <= nodeLevel {
			best = g
		}
	}
	return best
}

func progressive(nodeLevel, current, increment, zoomMin int) int {
	if increment <= 0 {
		increment = 1
	}
	if current == tile.EmptyLevel {
		return min(nodeLevel, zoomMin)
	}
	return min(nodeLevel, current+increment)
}

func dichotomy(nodeLevel, current, zoomMin int) int {
	from := current
	if current == tile.EmptyLevel {
		from = zoomMin
	}
	return min(nodeLevel, (from+nodeLevel+1)/2)
}
