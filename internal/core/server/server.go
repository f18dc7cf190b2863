package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/tile-streamer/internal/core/health"
	middleware "github.com/mohammed-shakir/tile-streamer/internal/core/middleware"
	"github.com/mohammed-shakir/tile-streamer/internal/driver"
	"github.com/mohammed-shakir/tile-streamer/internal/metrics"
)

// Loop is the part of the traversal driver the admin surface drives.
type Loop interface {
	Snapshot() driver.Snapshot
	Do(ctx context.Context, fn func(*driver.Driver)) error
}

type Deps struct {
	Log     *slog.Logger
	Metrics *metrics.Provider
	Loop    Loop
	Checks  map[string]health.Check
	// OpTimeout bounds how long a request waits for the traversal loop.
	OpTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = slog.New(slog.DiscardHandler)
	}
	if d.OpTimeout <= 0 {
		d.OpTimeout = 5 * time.Second
	}
	a := &admin{loop: d.Loop, log: d.Log, opTimeout: d.OpTimeout}

	r := chi.NewRouter()
	r.Use(middleware.Recover(d.Log))
	r.Use(middleware.Logging(d.Log))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, d.Checks))
	if d.Metrics != nil {
		r.Handle(d.Metrics.Path(), d.Metrics.Handler())
	}

	r.Get("/debug/tiles", a.snapshot)
	r.Route("/layers", func(r chi.Router) {
		r.Get("/", a.listLayers)
		r.Post("/{id}/freeze", a.layerAction(freeze(true)))
		r.Post("/{id}/unfreeze", a.layerAction(freeze(false)))
		r.Post("/{id}/show", a.layerAction(show(true)))
		r.Post("/{id}/hide", a.layerAction(show(false)))
	})
	return r
}

// Run serves h on addr until ctx is done.
func Run(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
