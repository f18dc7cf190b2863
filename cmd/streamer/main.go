package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/tile-streamer/internal/cache/redisstore"
	"github.com/mohammed-shakir/tile-streamer/internal/cache/result"
	"github.com/mohammed-shakir/tile-streamer/internal/core/config"
	"github.com/mohammed-shakir/tile-streamer/internal/core/health"
	"github.com/mohammed-shakir/tile-streamer/internal/core/httpclient"
	"github.com/mohammed-shakir/tile-streamer/internal/core/observability"
	"github.com/mohammed-shakir/tile-streamer/internal/core/server"
	"github.com/mohammed-shakir/tile-streamer/internal/driver"
	"github.com/mohammed-shakir/tile-streamer/internal/events"
	"github.com/mohammed-shakir/tile-streamer/internal/fetch"
	"github.com/mohammed-shakir/tile-streamer/internal/layer"
	"github.com/mohammed-shakir/tile-streamer/internal/logger"
	"github.com/mohammed-shakir/tile-streamer/internal/metrics"
	"github.com/mohammed-shakir/tile-streamer/internal/processor"
	"github.com/mohammed-shakir/tile-streamer/internal/provider/tms"
	"github.com/mohammed-shakir/tile-streamer/internal/scheduler"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	layersFlag := flag.String("layers", "", "layer catalog (overrides LAYERS_FILE)")
	flag.Parse()

	cfg := config.FromEnv()
	if *layersFlag != "" {
		cfg.LayersFile = *layersFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "tile-streamer",
		Component: "streamer",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	mp := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(mp.Registerer(), cfg.MetricsEnabled)

	layers, err := layer.LoadCatalog(cfg.LayersFile)
	if err != nil {
		appLog.Error("layer catalog", "path", cfg.LayersFile, "err", err)
		return 1
	}
	appLog.Info("starting streamer",
		"addr", cfg.Addr,
		"version", Version,
		"layers", len(layers),
		"redis", cfg.Redis.Enabled,
		"events", cfg.Events.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]health.Check{}

	var l2 fetch.Store
	if cfg.Redis.Enabled {
		rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		rc, err := redisstore.New(rctx, cfg.Redis.Addr)
		cancel()
		if err != nil {
			// the shared tier is an optimization; run on memory and HTTP alone
			appLog.Warn("redis unavailable, continuing without shared tier", "addr", cfg.Redis.Addr, "err", err)
		} else {
			defer func() { _ = rc.Close() }()
			l2 = rc
			checks["redis"] = rc.Ping
		}
	}

	fetcher, err := fetch.New(fetch.Config{L1MaxCost: cfg.BytesL1MaxCost, L2TTL: cfg.Redis.TTL},
		httpclient.NewOutbound(cfg.FetchTimeout), l2, appLog.With("component", "fetch"))
	if err != nil {
		appLog.Error("fetcher setup failed", "err", err)
		return 1
	}
	defer fetcher.Close()

	results, err := result.New(result.Config{
		ImagerySize:   cfg.CacheImagerySize,
		ElevationSize: cfg.CacheElevationSize,
		ElevationTTL:  cfg.CacheElevationTTL,
	})
	if err != nil {
		appLog.Error("result cache setup failed", "err", err)
		return 1
	}

	var rec events.Recorder = events.Nop{}
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events.BrokerList(), cfg.Events.Topic, cfg.Events.Queue, appLog.With("component", "events"))
		if err != nil {
			appLog.Warn("event publisher unavailable", "brokers", cfg.Events.Brokers, "err", err)
		} else {
			defer func() { _ = pub.Close() }()
			rec = pub
		}
	}

	sched := scheduler.New(scheduler.Config{MaxRunning: cfg.SchedMaxRunning, DropCheck: cfg.SchedDropCheck},
		appLog.With("component", "scheduler"))
	sched.Register(tms.Protocol, tms.New(fetcher, results, tile.Geographic(), appLog.With("component", "tms")))

	proc := processor.New(processor.Config{
		MaxRetry:         cfg.MaxRetry,
		MinMaxInheritGap: cfg.MinMaxInheritGap,
		Backoff:          cfg.RetryBackoff,
	}, appLog.With("component", "processor"), rec)

	drv := driver.New(driver.Config{FrameInterval: cfg.FrameInterval, TreeDepth: cfg.TreeDepth},
		layers, sched, proc, appLog.With("component", "driver"))

	stale := max(2*time.Second, 20*cfg.FrameInterval)
	checks["frames"] = func(context.Context) error {
		at := drv.Snapshot().At
		if at.IsZero() || time.Since(at) > stale {
			return fmt.Errorf("no frame since %s", at.Format(time.RFC3339))
		}
		return nil
	}

	handler := server.NewRouter(server.Deps{
		Log:     appLog,
		Metrics: mp,
		Loop:    drv,
		Checks:  checks,
	})

	loopDone := make(chan error, 1)
	go func() { loopDone <- drv.Run(ctx) }()

	srvErr := server.Run(ctx, cfg.Addr, handler, appLog)
	stop()
	loopErr := <-loopDone

	if err := errors.Join(srvErr, loopErr); err != nil {
		appLog.Error("streamer stopped with error", "err", err)
		return 1
	}
	appLog.Info("streamer stopped")
	return 0
}
