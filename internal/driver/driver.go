// Package driver runs the traversal loop: it owns the tile tree, calls the
// processor for every visible tile and layer, and delivers scheduler
// settlements and retry wake-ups, all from a single goroutine.
package driver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/tile-streamer/internal/layer"
	"github.com/mohammed-shakir/tile-streamer/internal/processor"
	"github.com/mohammed-shakir/tile-streamer/internal/scheduler"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
)

type Config struct {
	FrameInterval time.Duration
	// TreeDepth is the level the default visibility refines every tile to.
	TreeDepth int
}

func DefaultConfig() Config {
	return Config{FrameInterval: 50 * time.Millisecond, TreeDepth: 3}
}

// Visibility decides, per traversed tile, whether it is visible (processed,
// children traversed) and displayed (drawn, so worth fetching for).
type Visibility func(t *tile.Tile) (visible, displayed bool)

type Driver struct {
	cfg     Config
	log     *slog.Logger
	tree    *tile.Tree
	layers  []*layer.Layer
	sched   *scheduler.Scheduler
	proc    *processor.Processor
	pctx    *processor.Context
	visible Visibility

	wake   chan tile.ID
	ops    chan func(*Driver)
	timers map[*time.Timer]struct{}
	tmu    sync.Mutex
	redraw bool
	frame  uint64

	smu  sync.RWMutex
	snap Snapshot
}

func New(cfg Config, layers []*layer.Layer, sched *scheduler.Scheduler, proc *processor.Processor, log *slog.Logger) *Driver {
	def := DefaultConfig()
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.TreeDepth < 0 {
		cfg.TreeDepth = def.TreeDepth
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	d := &Driver{
		cfg:    cfg,
		log:    log,
		tree:   tile.NewTree(tile.Geographic()),
		layers: layers,
		sched:  sched,
		proc:   proc,
		wake:   make(chan tile.ID, 256),
		ops:    make(chan func(*Driver), 16),
		timers: make(map[*time.Timer]struct{}),
	}
	d.pctx = &processor.Context{View: d, Scheduler: sched, Now: time.Now}
	d.visible = d.refineTo(cfg.TreeDepth)
	return d
}

// SetVisibility replaces the default fixed-depth refinement. Loop goroutine only.
func (d *Driver) SetVisibility(v Visibility) { d.visible = v }

func (d *Driver) Tree() *tile.Tree { return d.tree }

// refineTo subdivides down to depth and displays the leaves there.
func (d *Driver) refineTo(depth int) Visibility {
	return func(t *tile.Tile) (bool, bool) {
		if t.Level() >= depth {
			if !t.IsLeaf() {
				d.tree.Prune(t.ID())
			}
			return true, true
		}
		if t.IsLeaf() {
			d.tree.Subdivide(t.ID())
		}
		return true, false
	}
}

// NotifyChange requests a redraw; an immediate one runs the next frame now.
func (d *Driver) NotifyChange(immediate bool, _ *tile.Tile) {
	d.redraw = true
	if immediate {
		d.post(tile.NoID)
	}
}

// NotifyChangeAfter re-traverses after dur. The timer fires on its own
// goroutine and only posts the tile id back to the loop.
func (d *Driver) NotifyChangeAfter(dur time.Duration, t *tile.Tile) {
	id := t.ID()
	var tm *time.Timer
	d.tmu.Lock()
	tm = time.AfterFunc(dur, func() {
		d.tmu.Lock()
		delete(d.timers, tm)
		d.tmu.Unlock()
		d.post(id)
	})
	d.timers[tm] = struct{}{}
	d.tmu.Unlock()
}

func (d *Driver) post(id tile.ID) {
	select {
	case d.wake <- id:
	default:
		// a frame is already due
	}
}

// ColorLayerSequence lists imagery layers in catalog order.
func (d *Driver) ColorLayerSequence() []string {
	out := make([]string, 0, len(d.layers))
	for _, l := range d.layers {
		if l.Kind == layer.Imagery {
			out = append(out, l.ID)
		}
	}
	return out
}

// Do runs fn on the loop goroutine before the next frame.
func (d *Driver) Do(ctx context.Context, fn func(*Driver)) error {
	select {
	case d.ops <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Layers returns the configured layers. Loop goroutine only.
func (d *Driver) Layers() []*layer.Layer { return d.layers }

// Layer returns the configured layer with id.
func (d *Driver) Layer(id string) (*layer.Layer, bool) {
	for _, l := range d.layers {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

// Frame runs one traversal pass. Elevation layers go first so imagery sees
// this frame's vertical extents.
func (d *Driver) Frame() {
	d.frame++
	d.redraw = false
	d.sched.Poll()

	d.tree.Walk(func(t *tile.Tile) bool {
		visible, displayed := d.visible(t)
		t.Displayed = visible && displayed
		if !visible {
			return false
		}
		for _, l := range d.layers {
			if l.Kind == layer.Elevation {
				d.proc.UpdateElevation(d.pctx, l, t)
			}
		}
		for _, l := range d.layers {
			if l.Kind == layer.Imagery {
				d.proc.UpdateImagery(d.pctx, l, t)
			}
		}
		return true
	})

	d.sched.Poll()
	d.publish()
}

// Run drives frames until ctx is done, then cancels outstanding commands.
func (d *Driver) Run(ctx context.Context) error {
	tick := time.NewTicker(d.cfg.FrameInterval)
	defer tick.Stop()
	defer d.stopTimers()

	d.log.Info("traversal loop started", "layers", len(d.layers), "depth", d.cfg.TreeDepth)
	d.Frame()
	for {
		select {
		case <-ctx.Done():
			d.sched.Close()
			d.publish()
			d.log.Info("traversal loop stopped", "frames", d.frame)
			return nil
		case fn := <-d.ops:
			fn(d)
		case <-tick.C:
			d.Frame()
		case <-d.wake:
			d.Frame()
		case <-d.sched.Ready():
			if d.sched.Poll() > 0 && d.redraw {
				d.publish()
			}
		}
	}
}

func (d *Driver) stopTimers() {
	d.tmu.Lock()
	defer d.tmu.Unlock()
	for tm := range d.timers {
		tm.Stop()
	}
	clear(d.timers)
}

func (d *Driver) pendingTimers() int {
	d.tmu.Lock()
	defer d.tmu.Unlock()
	return len(d.timers)
}
