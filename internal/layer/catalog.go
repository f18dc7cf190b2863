package layer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/mohammed-shakir/tile-streamer/internal/raster"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
)

type catalogFile struct {
	Layers []layerConfig `toml:"layers"`
}

type layerConfig struct {
	ID                          string       `toml:"id"`
	Kind                        string       `toml:"kind"`
	Protocol                    string       `toml:"protocol"`
	URL                         string       `toml:"url"`
	Format                      string       `toml:"format"`
	Visible                     *bool        `toml:"visible"`
	Opacity                     *float64     `toml:"opacity"`
	Frozen                      bool         `toml:"frozen"`
	ZoomMin                     int          `toml:"zoom_min"`
	ZoomMax                     int          `toml:"zoom_max"`
	Strategy                    string       `toml:"strategy"`
	Groups                      []int        `toml:"groups"`
	Increment                   int          `toml:"increment"`
	NoData                      *float64     `toml:"no_data"`
	SubTileDepth                int          `toml:"sub_tile_depth"`
	BBox                        []float64    `toml:"bbox"`
	H3Extent                    [][2]float64 `toml:"h3_extent"`
	H3Res                       int          `toml:"h3_res"`
	NoTextureParentOutsideLimit bool         `toml:"no_texture_parent_outside_limit"`
}

// DefaultNoData is the elevation sentinel used when a layer declares none.
const DefaultNoData = -99999

// LoadCatalog reads a TOML layer catalog from path.
func LoadCatalog(path string) ([]*Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open layer catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeCatalog(f)
}

func DecodeCatalog(r io.Reader) ([]*Layer, error) {
	var cf catalogFile
	if _, err := toml.NewDecoder(r).Decode(&cf); err != nil {
		return nil, fmt.Errorf("decode layer catalog: %w", err)
	}
	if len(cf.Layers) == 0 {
		return nil, errors.New("layer catalog declares no layers")
	}
	seen := map[string]struct{}{}
	out := make([]*Layer, 0, len(cf.Layers))
	for i, lc := range cf.Layers {
		l, err := lc.build()
		if err != nil {
			return nil, fmt.Errorf("layer #%d: %w", i, err)
		}
		if _, dup := seen[l.ID]; dup {
			return nil, fmt.Errorf("layer #%d: duplicate id %q", i, l.ID)
		}
		seen[l.ID] = struct{}{}
		out = append(out, l)
	}
	return out, nil
}

func (lc layerConfig) build() (*Layer, error) {
	kind, err := ParseKind(lc.Kind)
	if err != nil {
		return nil, err
	}
	st, err := ParseStrategy(lc.Strategy)
	if err != nil {
		return nil, err
	}
	l := &Layer{
		ID:          lc.ID,
		Kind:        kind,
		Protocol:    lc.Protocol,
		URL:         lc.URL,
		Visible:     true,
		Opacity:     1,
		Frozen:      lc.Frozen,
		Zoom:        ZoomRange{Min: lc.ZoomMin, Max: lc.ZoomMax},
		NoDataValue: DefaultNoData,
		UpdateStrategy: UpdateStrategy{
			Type:      st,
			Groups:    lc.Groups,
			Increment: lc.Increment,
		},
		SubTileDepth:                lc.SubTileDepth,
		NoTextureParentOutsideLimit: lc.NoTextureParentOutsideLimit,
	}
	if l.Protocol == "" {
		l.Protocol = "tms"
	}
	if lc.Format != "" {
		f, err := raster.ParseFormat(lc.Format)
		if err != nil {
			return nil, err
		}
		l.Format = f
	} else if kind == Elevation {
		l.Format = raster.FormatXBIL
	} else {
		l.Format = raster.FormatPNG
	}
	if lc.Visible != nil {
		l.Visible = *lc.Visible
	}
	if lc.Opacity != nil {
		l.Opacity = *lc.Opacity
	}
	if lc.NoData != nil {
		l.NoDataValue = *lc.NoData
	}

	switch {
	case len(lc.H3Extent) > 0:
		e, err := NewH3Extent(lc.H3Extent, lc.H3Res)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", lc.ID, err)
		}
		l.Extent = e
	case len(lc.BBox) == 4:
		l.Extent = BBoxExtent(tile.BBox{MinX: lc.BBox[0], MinY: lc.BBox[1], MaxX: lc.BBox[2], MaxY: lc.BBox[3]})
	case len(lc.BBox) != 0:
		return nil, fmt.Errorf("layer %s: bbox needs 4 values, got %d", lc.ID, len(lc.BBox))
	}

	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}
