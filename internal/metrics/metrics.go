package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_extractor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_extractor_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_extractor_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_extractor_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_extractor_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Job metrics
var (
	JobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_jobs_created_total",
			Help: "Total number of jobs created, by mode and origin (new, cache_hit, attached)",
		},
		[]string{"mode", "origin"},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"mode", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_extractor_job_duration_seconds",
			Help:    "Time from dispatch to terminal state",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"mode"},
	)

	JobsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_extractor_jobs",
			Help: "Number of job records by status",
		},
		[]string{"status"},
	)

	JobsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_jobs_rejected_total",
			Help: "Total number of create requests rejected, by reason",
		},
		[]string{"reason"},
	)

	QualityClampsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_extractor_quality_clamps_total",
			Help: "Total number of jobs whose bitrate was reduced for long content",
		},
	)

	CleanupRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_extractor_cleanup_runs_total",
			Help: "Total number of cleanup sweeps",
		},
	)

	CleanupExpiredJobsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_extractor_cleanup_expired_jobs_total",
			Help: "Total number of jobs moved to expired by the cleanup sweep",
		},
	)
)

// Worker pool metrics
var (
	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_extractor_worker_pool_size",
			Help: "Number of worker slots",
		},
	)

	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_extractor_workers_busy",
			Help: "Number of worker slots currently running a task",
		},
	)

	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_extractor_worker_queue_depth",
			Help: "Number of tasks waiting for a free worker slot",
		},
	)

	WorkerTaskPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_extractor_worker_task_panics_total",
			Help: "Total number of worker tasks that panicked",
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_extractor_memory_usage_ratio",
			Help: "Go heap allocation as a fraction of GOMEMLIMIT",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_extractor_memory_paused",
			Help: "1 while worker slots are held back by memory pressure",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_extractor_memory_gc_pauses_total",
			Help: "Total number of times memory pressure paused the worker pool",
		},
	)
)

// Dedup metrics
var (
	DedupAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_dedup_acquire_total",
			Help: "Total number of dedup lock acquisitions, by result (acquired, held, error)",
		},
		[]string{"result"},
	)

	DedupLocksExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_extractor_dedup_locks_expired_total",
			Help: "Total number of dedup locks reclaimed after expiry",
		},
	)
)

// Artifact cache metrics
var (
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_extractor_cache_hits_total",
			Help: "Total number of artifact cache hits",
		},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_cache_misses_total",
			Help: "Total number of artifact cache misses, by reason (absent, expired, missing_artifact)",
		},
		[]string{"reason"},
	)

	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_cache_evictions_total",
			Help: "Total number of artifact cache evictions, by reason (capacity, ttl, missing_artifact, removed)",
		},
		[]string{"reason"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_extractor_cache_entries",
			Help: "Current number of artifact cache entries",
		},
	)
)

// External tool metrics
var (
	ToolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_tool_invocations_total",
			Help: "Total number of external tool invocations",
		},
		[]string{"tool", "operation", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_extractor_tool_duration_seconds",
			Help:    "External tool run time in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"tool", "operation"},
	)

	ConverterRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_converter_requests_total",
			Help: "Total number of paid conversion API requests",
		},
		[]string{"status"},
	)
)

// Streaming metrics
var (
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_extractor_streams_active",
			Help: "Number of live pipe streams currently running",
		},
	)

	StreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_streams_total",
			Help: "Total number of live pipe streams, by outcome (completed, client_gone, failed)",
		},
		[]string{"outcome"},
	)

	StreamBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_extractor_stream_bytes_total",
			Help: "Total number of bytes delivered by live pipe streams",
		},
	)
)

// Filesystem retry metrics for artifact and temp volumes (NFS resilience)
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_filesystem_retry_attempts_total",
			Help: "Total number of filesystem operation retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_filesystem_retry_success_total",
			Help: "Total number of filesystem operations that succeeded after retrying",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_filesystem_stale_errors_total",
			Help: "Total number of stale file handle errors observed",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_extractor_filesystem_retry_duration_seconds",
			Help:    "Duration of filesystem operations including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		},
		[]string{"operation", "volume"},
	)
)

// AppInfo exposes build information as labels.
var AppInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "media_extractor_app_info",
		Help: "Application build information",
	},
	[]string{"version", "commit", "go_version"},
)
