// Package tms provides textures for layers addressed by a z/x/y URL template.
package tms

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/tile-streamer/internal/cache/keys"
	"github.com/mohammed-shakir/tile-streamer/internal/cache/result"
	"github.com/mohammed-shakir/tile-streamer/internal/layer"
	"github.com/mohammed-shakir/tile-streamer/internal/raster"
	"github.com/mohammed-shakir/tile-streamer/internal/scheduler"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
)

const Protocol = "tms"

// Fetcher is the raw payload primitive; *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	// Forget evicts a payload that failed to decode.
	Forget(ctx context.Context, url string)
}

type Provider struct {
	fetch  Fetcher
	cache  *result.Cache
	matrix tile.Matrix
	log    *slog.Logger
}

func New(f Fetcher, c *result.Cache, m tile.Matrix, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Provider{fetch: f, cache: c, matrix: m, log: log}
}

// Execute settles with a tile.TextureSet. It reads only immutable command
// data (tile coord, layer source settings) and never touches tile materials.
func (p *Provider) Execute(ctx context.Context, cmd *scheduler.Command) (any, error) {
	l, t := cmd.Layer, cmd.Requester
	if l == nil || t == nil {
		return nil, fmt.Errorf("tms: incomplete command")
	}

	if l.Kind == layer.Elevation {
		c := SourceCoord(t.Coord, cmd.TargetLevel)
		tex, err := p.texture(ctx, l, c)
		if err != nil {
			return nil, err
		}
		return tile.TextureSet{
			Textures: []*tile.Texture{tex},
			Pitches:  []tile.OffsetScale{t.Coord.OffsetToParent(c)},
		}, nil
	}

	coords := t.CoordsForLayer(l.SubTileDepth)
	out := tile.TextureSet{
		Textures: make([]*tile.Texture, len(coords)),
		Pitches:  make([]tile.OffsetScale, len(coords)),
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range coords {
		src := SourceCoord(sc, cmd.TargetLevel)
		out.Pitches[i] = sc.OffsetToParent(src)
		g.Go(func() error {
			tex, err := p.texture(gctx, l, src)
			if err != nil {
				return err
			}
			out.Textures[i] = tex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// texture fetches and decodes one source tile through the result cache, so
// every command asking for the same resource shares a single download.
func (p *Provider) texture(ctx context.Context, l *layer.Layer, c tile.Coord) (*tile.Texture, error) {
	u := p.URL(l.URL, c)
	opts := keys.Options{"format": string(l.Format)}
	policy := result.PolicyImagery
	if l.Kind == layer.Elevation {
		opts["nodata"] = strconv.FormatFloat(l.NoDataValue, 'g', -1, 64)
		policy = result.PolicyElevation
	}

	v, err := p.cache.Do(ctx, keys.Resource(u, opts), policy, func(ctx context.Context) (any, error) {
		b, err := p.fetch.Fetch(ctx, u)
		if err != nil {
			return nil, err
		}
		d, err := raster.Decode(l.Format, b, raster.DecodeOptions{NoData: l.NoDataValue})
		if err != nil {
			p.fetch.Forget(ctx, u)
			return nil, fmt.Errorf("%s: %w", u, err)
		}
		return tile.NewTexture(c, d), nil
	})
	if err != nil {
		return nil, err
	}
	tex, ok := v.(*tile.Texture)
	if !ok {
		return nil, fmt.Errorf("tms: cached value for %s is %T", u, v)
	}
	return tex, nil
}

// URL expands {z} {x} {y} and {-y} (row counted from the bottom).
func (p *Provider) URL(template string, c tile.Coord) string {
	rows := p.matrix.RootRows << c.Z
	return strings.NewReplacer(
		"{z}", strconv.Itoa(c.Z),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
		"{-y}", strconv.Itoa(rows-1-c.Y),
	).Replace(template)
}

// SourceCoord is the coord fetched for c at level: c itself when level is
// at least as fine, otherwise its ancestor.
func SourceCoord(c tile.Coord, level int) tile.Coord {
	if level >= c.Z || level < 0 {
		return c
	}
	return c.Ancestor(level)
}
