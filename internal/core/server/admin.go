package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/tile-streamer/internal/driver"
	"github.com/mohammed-shakir/tile-streamer/internal/layer"
	mylog "github.com/mohammed-shakir/tile-streamer/internal/logger"
)

type LayerSummary struct {
	ID      string  `json:"id"`
	Kind    string  `json:"kind"`
	Visible bool    `json:"visible"`
	Frozen  bool    `json:"frozen"`
	Opacity float64 `json:"opacity"`
	ZoomMin int     `json:"zoom_min"`
	ZoomMax int     `json:"zoom_max"`
}

func summarize(l *layer.Layer) LayerSummary {
	return LayerSummary{
		ID: l.ID, Kind: l.Kind.String(), Visible: l.Visible, Frozen: l.Frozen,
		Opacity: l.Opacity, ZoomMin: l.Zoom.Min, ZoomMax: l.Zoom.Max,
	}
}

var errUnknownLayer = errors.New("unknown layer")

type admin struct {
	loop      Loop
	log       *slog.Logger
	opTimeout time.Duration
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *admin) snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.loop.Snapshot())
}

// onLoop runs fn on the traversal goroutine and waits for its result.
func onLoop[T any](ctx context.Context, loop Loop, fn func(*driver.Driver) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	var zero T
	if err := loop.Do(ctx, func(d *driver.Driver) {
		v, err := fn(d)
		ch <- result{v, err}
	}); err != nil {
		return zero, err
	}
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (a *admin) listLayers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.opTimeout)
	defer cancel()
	out, err := onLoop(ctx, a.loop, func(d *driver.Driver) ([]LayerSummary, error) {
		ls := d.Layers()
		out := make([]LayerSummary, 0, len(ls))
		for _, l := range ls {
			out = append(out, summarize(l))
		}
		return out, nil
	})
	if err != nil {
		http.Error(w, "traversal loop unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func freeze(on bool) func(*layer.Layer) { return func(l *layer.Layer) { l.Frozen = on } }

func show(on bool) func(*layer.Layer) { return func(l *layer.Layer) { l.Visible = on } }

func (a *admin) layerAction(apply func(*layer.Layer)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx, cancel := context.WithTimeout(mylog.WithLayer(r.Context(), id), a.opTimeout)
		defer cancel()

		sum, err := onLoop(ctx, a.loop, func(d *driver.Driver) (LayerSummary, error) {
			l, ok := d.Layer(id)
			if !ok {
				return LayerSummary{}, errUnknownLayer
			}
			apply(l)
			d.NotifyChange(true, nil)
			return summarize(l), nil
		})
		switch {
		case errors.Is(err, errUnknownLayer):
			http.Error(w, "unknown layer", http.StatusNotFound)
			return
		case err != nil:
			a.log.WarnContext(ctx, "layer action not applied", "err", err)
			http.Error(w, "traversal loop unavailable", http.StatusServiceUnavailable)
			return
		}
		a.log.InfoContext(ctx, "layer updated", "frozen", sum.Frozen, "visible", sum.Visible)
		writeJSON(w, http.StatusOK, sum)
	}
}
