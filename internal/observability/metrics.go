package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., bifrost_...).
const namespace = "bifrost"

// lowLatencyBuckets covers in-process decisions and the HTTP layer in front of them.
// Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

// Decision path labels for ExperimentDecisionsTotal.
const (
	PathInactive         = "inactive"
	PathForced           = "forced"
	PathWhitelisted      = "whitelisted"
	PathSticky           = "sticky"
	PathAudienceMismatch = "audience_mismatch"
	PathBucketed         = "bucketed"
	PathTrafficExcluded  = "traffic_excluded"
)

var (
	// -------------------------------------------------------------------------
	// DATAFILE
	// -------------------------------------------------------------------------

	// DatafileInfo is 1 for the datafile currently served.
	// Metric: bifrost_datafile_info
	DatafileInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "datafile_info",
		Help:      "Version and revision of the loaded datafile",
	}, []string{"version", "revision"})

	// -------------------------------------------------------------------------
	// DECISION ENGINE
	// -------------------------------------------------------------------------

	// ExperimentDecisionsTotal counts experiment decisions by the step that settled them.
	// Metric: bifrost_decision_experiment_decisions_total
	ExperimentDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decision",
		Name:      "experiment_decisions_total",
		Help:      "Experiment decisions by the step that settled them",
	}, []string{"path"})

	// FeatureDecisionsTotal counts feature decisions by source (experiment, rollout, none).
	// Metric: bifrost_decision_feature_decisions_total
	FeatureDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decision",
		Name:      "feature_decisions_total",
		Help:      "Feature decisions by source",
	}, []string{"source"})

	// ProfileFailuresTotal counts profile storage errors swallowed by the decision service.
	ProfileFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decision",
		Name:      "profile_failures_total",
		Help:      "Profile lookup/save failures handled during decisions",
	}, []string{"operation"}) // lookup, save

	// FactsEmittedTotal counts impression and conversion facts handed to the listener.
	FactsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "facts_emitted_total",
		Help:      "Decision facts handed to the listener",
	}, []string{"kind"}) // impression, conversion

	// -------------------------------------------------------------------------
	// PROFILE STORES
	// -------------------------------------------------------------------------

	// ProfileStoreDuration measures backend latency for profile lookups and saves.
	// Metric: bifrost_profiles_store_duration_seconds
	ProfileStoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "profiles",
		Name:      "store_duration_seconds",
		Help:      "Time taken by profile store operations",
		Buckets:   lowLatencyBuckets,
	}, []string{"backend", "operation"})

	// MemoryProfileHits and MemoryProfileMisses track the in-process profile cache.
	MemoryProfileHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "profiles",
		Name:      "memory_hits_total",
		Help:      "Total in-memory profile store hits",
	})

	MemoryProfileMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "profiles",
		Name:      "memory_misses_total",
		Help:      "Total in-memory profile store misses",
	})

	// MemoryProfileRejected tracks writes the cache refused to admit.
	MemoryProfileRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "profiles",
		Name:      "memory_rejected_total",
		Help:      "Total profile writes rejected by the in-memory store",
	})

	// MemoryProfileItems reports the number of profiles held in memory.
	MemoryProfileItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "profiles",
		Name:      "memory_items_count",
		Help:      "Current number of profiles in the in-memory store",
	})

	// MemoryProfileEvictions counts profiles evicted for capacity.
	MemoryProfileEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "profiles",
		Name:      "memory_evictions_total",
		Help:      "Total profiles evicted from the in-memory store",
	})

	// -------------------------------------------------------------------------
	// CONNECTION POOLS
	// -------------------------------------------------------------------------

	// DBPoolConnections reports pgx pool connections by state (total, idle, in_use, max).
	// Metric: bifrost_database_pool_connections
	DBPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "PostgreSQL pool connections by state",
	}, []string{"state"})

	// DBPoolAcquireCount counts successful connection acquisitions.
	DBPoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Total successful connection acquisitions",
	})

	// DBPoolAcquireDuration accumulates time spent acquiring connections.
	DBPoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds_total",
		Help:      "Total time spent acquiring connections",
	})

	// DBPoolWaitCount counts acquisitions that had to wait for a free connection.
	DBPoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Total acquisitions that waited for a connection",
	})

	// RedisPoolConnections reports go-redis pool connections by state (total, idle, stale).
	// Metric: bifrost_redis_pool_connections
	RedisPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_connections",
		Help:      "Redis pool connections by state",
	}, []string{"state"})

	// RedisPoolHits, RedisPoolMisses and RedisPoolTimeouts mirror go-redis PoolStats.
	RedisPoolHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_hits_total",
		Help:      "Times a free connection was found in the pool",
	})

	RedisPoolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_misses_total",
		Help:      "Times a free connection was not found in the pool",
	})

	RedisPoolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_timeouts_total",
		Help:      "Times a wait timeout occurred",
	})

	// -------------------------------------------------------------------------
	// DECIDE API (HTTP)
	// -------------------------------------------------------------------------

	// DecideAPIReqDuration measures the latency of HTTP requests.
	// Metric: bifrost_decide_api_http_handling_seconds
	DecideAPIReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "decide_api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the decide API",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "route"})

	// DecideAPIReqTotal counts the total number of HTTP requests.
	// Metric: bifrost_decide_api_http_requests_total
	DecideAPIReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decide_api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the decide API",
	}, []string{"method", "route", "code"})
)
