// Package observability holds the streaming engine's Prometheus metrics.
// Helpers are no-ops until Init binds them to a registry.
package observability

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type vectors struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	running         prometheus.Gauge
	resultCache     *prometheus.CounterVec
	bytesCache      *prometheus.CounterVec
	cacheOps        *prometheus.CounterVec
	redisDuration   *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	texturesBound   *prometheus.CounterVec
	upstream        *prometheus.HistogramVec
}

var active atomic.Pointer[vectors]

// Init creates the metric vectors and registers them on reg. Calling it again
// (tests do, with fresh registries) replaces the previous set.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		active.Store(nil)
		return
	}
	v := &vectors{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_total",
			Help: "Settled fetch commands by layer kind and outcome.",
		}, []string{"layer_kind", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Time from command start to settlement.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		}, []string{"layer_kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_queue_depth",
			Help: "Commands waiting for a running slot.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_running",
			Help: "Commands currently running.",
		}),
		resultCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "result_cache_total",
			Help: "Result cache lookups by policy and outcome (hit, miss, coalesced).",
		}, []string{"policy", "outcome"}),
		bytesCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bytes_cache_total",
			Help: "Payload cache lookups by tier and outcome.",
		}, []string{"tier", "outcome"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		}, []string{"op", "result"}),
		redisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "update_state_transitions_total",
			Help: "Update state transitions by target status.",
		}, []string{"to"}),
		texturesBound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "textures_bound_total",
			Help: "Textures bound into tile materials.",
		}, []string{"layer_kind"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream tile fetches.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"host"}),
	}
	for _, c := range []prometheus.Collector{
		v.commands, v.commandDuration, v.queueDepth, v.running, v.resultCache,
		v.bytesCache, v.cacheOps, v.redisDuration, v.transitions, v.texturesBound, v.upstream,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
	active.Store(v)
}

func ObserveCommand(layerKind, outcome string, durationSeconds float64) {
	v := active.Load()
	if v == nil {
		return
	}
	v.commands.WithLabelValues(layerKind, outcome).Inc()
	if durationSeconds >= 0 {
		v.commandDuration.WithLabelValues(layerKind).Observe(durationSeconds)
	}
}

func SetScheduler(queued, running int) {
	v := active.Load()
	if v == nil {
		return
	}
	v.queueDepth.Set(float64(queued))
	v.running.Set(float64(running))
}

func IncResultCache(policy, outcome string) {
	if v := active.Load(); v != nil {
		v.resultCache.WithLabelValues(policy, outcome).Inc()
	}
}

func IncBytesCache(tier, outcome string) {
	if v := active.Load(); v != nil {
		v.bytesCache.WithLabelValues(tier, outcome).Inc()
	}
}

// ObserveCacheOp records one redis operation.
func ObserveCacheOp(op string, err error, durationSeconds float64) {
	v := active.Load()
	if v == nil {
		return
	}
	res := "ok"
	if err != nil {
		res = "error"
	}
	v.cacheOps.WithLabelValues(op, res).Inc()
	v.redisDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncTransition(to string) {
	if v := active.Load(); v != nil {
		v.transitions.WithLabelValues(to).Inc()
	}
}

func IncTextureBound(layerKind string) {
	if v := active.Load(); v != nil {
		v.texturesBound.WithLabelValues(layerKind).Inc()
	}
}

func ObserveUpstreamLatency(host string, durationSeconds float64) {
	if v := active.Load(); v != nil {
		v.upstream.WithLabelValues(host).Observe(durationSeconds)
	}
}
