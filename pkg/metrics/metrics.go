package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)

	// CompileRetries records how many DIAGNOSE/fetch rounds a compile needed
	// before succeeding or exhausting MaxRetries, by engine.
	CompileRetries = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "texfabric", Name: "compile_retries", Help: "Number of diagnose-and-fetch retries consumed per compile.", Buckets: prometheus.LinearBuckets(0, 1, 11)},
		[]string{"engine"},
	)
	// CompileDuration is the wall clock of one whole Compile call, from its
	// start to its return (cache hit, success, no progress or MaxRetries).
	CompileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "texfabric", Name: "compile_duration_seconds", Help: "Wall-clock duration of one Compile call.", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12)},
		[]string{"engine", "outcome"},
	)
	// CacheHits/CacheMisses are split by logical cache kind (ctan, bundle,
	// wasm, aux, doc, fmt) so a hit-ratio can be derived per tier.
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "texfabric", Name: "cache_hits_total", Help: "Cache fabric hits by kind."},
		[]string{"kind"},
	)
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "texfabric", Name: "cache_misses_total", Help: "Cache fabric misses by kind."},
		[]string{"kind"},
	)
	// CompileQueueDepth tracks how many compile requests are waiting on the
	// bounded worker pool.
	CompileQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "texfabric", Name: "compile_queue_depth", Help: "Number of compile requests queued awaiting a worker."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(CompileRetries)
	reg.MustRegister(CompileDuration)
	reg.MustRegister(CacheHits)
	reg.MustRegister(CacheMisses)
	reg.MustRegister(CompileQueueDepth)
}
