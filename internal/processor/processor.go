// Package processor decides, per displayed tile and per layer, whether a
// better texture should be fetched, dispatches the fetch and merges the
// settled result into the tile's material.
//
// Every function here runs on the traversal goroutine: settlement callbacks
// are delivered by scheduler.Poll, so tile state is never shared.
package processor

import (
	"log/slog"
	"time"

	"github.com/mohammed-shakir/tile-streamer/internal/core/observability"
	"github.com/mohammed-shakir/tile-streamer/internal/events"
	"github.com/mohammed-shakir/tile-streamer/internal/layer"
	"github.com/mohammed-shakir/tile-streamer/internal/scheduler"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
	"github.com/mohammed-shakir/tile-streamer/internal/updatestate"
)

const (
	PriorityDisplayed = 100
	PriorityVisible   = 10
)

// View is the part of the renderer the processor talks back to.
type View interface {
	// NotifyChange requests a re-render (and re-traversal) of t.
	NotifyChange(immediate bool, t *tile.Tile)
	// NotifyChangeAfter re-triggers traversal of t once d has elapsed.
	NotifyChangeAfter(d time.Duration, t *tile.Tile)
	// ColorLayerSequence is the imagery layer order, bottom first.
	ColorLayerSequence() []string
}

// Submitter is implemented by *scheduler.Scheduler.
type Submitter interface {
	Execute(cmd *scheduler.Command, settle func(scheduler.Outcome))
}

type Context struct {
	View      View
	Scheduler Submitter
	Now       func() time.Time
}

func (c *Context) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

type Config struct {
	// MaxRetry is the number of failures tolerated before giving up; the
	// failure that arrives with errorCount > MaxRetry is definitive.
	MaxRetry int
	// MinMaxInheritGap is the largest level gap at which an inherited
	// elevation texture is still sampled for the tile's own vertical extent.
	MinMaxInheritGap int
	Backoff          []time.Duration
}

func DefaultConfig() Config {
	return Config{MaxRetry: 4, MinMaxInheritGap: 6, Backoff: updatestate.DefaultBackoff}
}

type Processor struct {
	cfg Config
	log *slog.Logger
	rec events.Recorder
}

func New(cfg Config, log *slog.Logger, rec events.Recorder) *Processor {
	def := DefaultConfig()
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = def.MaxRetry
	}
	if cfg.MinMaxInheritGap <= 0 {
		cfg.MinMaxInheritGap = def.MinMaxInheritGap
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = def.Backoff
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if rec == nil {
		rec = events.Nop{}
	}
	return &Processor{cfg: cfg, log: log, rec: rec}
}

// Priority favours what is on screen now over what is merely about to be.
func Priority(t *tile.Tile) float64 {
	if t.Displayed {
		return PriorityDisplayed
	}
	return PriorityVisible
}

// RefinementDrop is the default early-drop predicate: drop when the tile was
// pruned, when another elevation layer already bound something at least as
// fine, or when the tile left the screen and the command is not forced.
func RefinementDrop(cmd *scheduler.Command) bool {
	t := cmd.Requester
	if t == nil || t.Detached() || t.Material.Disposed() {
		return true
	}
	if cmd.Layer != nil && cmd.Layer.Kind == layer.Elevation && t.Material.ElevationLevel() >= cmd.TargetLevel {
		return true
	}
	return !cmd.Force && !t.Displayed
}

func (p *Processor) newState() *updatestate.State {
	return updatestate.New(p.cfg.Backoff, func(_, to updatestate.Status) {
		observability.IncTransition(to.String())
	})
}

// canImprove falls back to "bound level below what the tile can use".
func canImprove(l *layer.Layer, t *tile.Tile, current, nodeLevel int) bool {
	if l.CanTileTextureBeImproved != nil {
		return l.CanTileTextureBeImproved(l, t)
	}
	return current < min(nodeLevel, l.Zoom.Max)
}

func (p *Processor) dispatch(c *Context, l *layer.Layer, t *tile.Tile, st *updatestate.State, target int,
	settle func(*scheduler.Command, scheduler.Outcome),
) {
	st.NewTry()
	cmd := &scheduler.Command{
		Layer:       l,
		Requester:   t,
		TargetLevel: target,
		Priority:    Priority(t),
		EarlyDrop:   RefinementDrop,
	}
	c.Scheduler.Execute(cmd, func(o scheduler.Outcome) { settle(cmd, o) })
}

// fail records a fetch failure and schedules the retry wake-up.
func (p *Processor) fail(c *Context, l *layer.Layer, t *tile.Tile, st *updatestate.State, cmd *scheduler.Command, err error) {
	definitive := st.ErrorCount() > p.cfg.MaxRetry
	st.Failure(c.now(), definitive, updatestate.FailureParams{HasError: true, LowestLevelError: cmd.TargetLevel})

	if st.Terminal() {
		p.log.Warn("giving up on tile texture",
			"tile", t.Coord.String(), "layer", l.ID, "level", cmd.TargetLevel,
			"errors", st.ErrorCount(), "err", err)
	} else {
		p.log.Debug("tile texture fetch failed",
			"tile", t.Coord.String(), "layer", l.ID, "level", cmd.TargetLevel,
			"errors", st.ErrorCount(), "retry_in", st.UntilNextTry(), "err", err)
		c.View.NotifyChangeAfter(st.UntilNextTry(), t)
	}
	p.record(c, l, t, st, cmd, scheduler.Failed, err)
}

func (p *Processor) record(c *Context, l *layer.Layer, t *tile.Tile, st *updatestate.State, cmd *scheduler.Command, s scheduler.Status, err error) {
	ev := events.Event{
		Tile:       t.Coord.String(),
		Layer:      l.ID,
		Level:      cmd.TargetLevel,
		Outcome:    s.String(),
		ErrorCount: st.ErrorCount(),
		Status:     st.Status().String(),
		TS:         c.now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.rec.Record(ev)
}

func textureSet(v any) (tile.TextureSet, bool) {
	set, ok := v.(tile.TextureSet)
	if !ok || set.Len() == 0 || len(set.Pitches) != set.Len() {
		return tile.TextureSet{}, false
	}
	return set, true
}
