package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binpastes_paste_created_total",
			Help: "no. of pastes created",
		},
		[]string{"exposure"},
	)
	PasteViewed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binpastes_paste_viewed_total",
			Help: "no. of paste views served",
		},
		[]string{"exposure"},
	)
	OnceConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binpastes_once_consumed_total",
		Help: "no. of one-time pastes burnt by a view",
	})
	ConsumeConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binpastes_consume_conflicts_total",
		Help: "no. of one-time views that lost the consumption race",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binpastes_paste_deleted_total",
		Help: "no. of pastes removed by their creator",
	})
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binpastes_cache_hits_total",
			Help: "no. of cache hits",
		},
		[]string{"tier"},
	)
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binpastes_cache_misses_total",
		Help: "no. of views that fell through to the store",
	})
	Searches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binpastes_searches_total",
		Help: "no. of searches executed against the store",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "binpastes_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binpastes_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	ReaperCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binpastes_reaper_cycles_total",
		Help: "no. of reaper cycles",
	})
	ReaperDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binpastes_reaper_deleted_total",
		Help: "no. of expired or consumed pastes purged",
	})
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binpastes_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
