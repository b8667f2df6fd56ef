package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_gallery_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Metadata store metrics
var (
	StoreUpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_store_upserts_total",
			Help: "Total number of collection upserts by outcome",
		},
		[]string{"collection", "status"}, // "success", "aborted", "error"
	)

	StoreUpsertDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_gallery_store_upsert_duration_seconds",
			Help:    "Time spent inside the per-collection critical section, including the durable write",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"collection"},
	)

	StoreCollectionVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_gallery_store_collection_version",
			Help: "Last durably written version of each collection document",
		},
		[]string{"collection"},
	)

	StoreCollectionRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_gallery_store_collection_records",
			Help: "Number of records in each collection document",
		},
		[]string{"collection"},
	)
)

// Upload metrics
var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_uploads_total",
			Help: "Total number of uploads by outcome",
		},
		[]string{"status"}, // "success", "invalid_type", "too_large", "derivation_error", "error"
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_gallery_upload_bytes",
			Help:    "Size of accepted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		},
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_gallery_upload_duration_seconds",
			Help:    "Time from first byte to persisted asset",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_thumbnail_generations_total",
			Help: "Total number of thumbnail generations by engine and status",
		},
		[]string{"engine", "status"}, // engine: "imaging", "vips"
	)

	ThumbnailGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_gallery_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"engine"},
	)

	ThumbnailImageDecodeByFormat = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_thumbnail_decode_by_format_total",
			Help: "Source images decoded for thumbnails by format",
		},
		[]string{"format"},
	)
)

// Transform queue metrics
var (
	TransformJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_transform_jobs_total",
			Help: "Total number of transform jobs by terminal status",
		},
		[]string{"status"}, // "done", "failed", "rejected"
	)

	TransformJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_gallery_transform_job_duration_seconds",
			Help:    "Transform job duration from start to terminal status",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	TransformQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_transform_queue_depth",
			Help: "Number of jobs waiting in the transform queue",
		},
	)

	TransformJobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_transform_jobs_in_progress",
			Help: "Number of transform jobs currently running",
		},
	)

	TransformRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_gallery_transform_retries_total",
			Help: "Total number of transform attempts retried after a transient I/O error",
		},
	)

	TransformOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_transform_operations_total",
			Help: "Total number of applied transform operations by type",
		},
		[]string{"type"},
	)
)

// Memory backpressure metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_memory_usage_ratio",
			Help: "Heap in use as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_memory_paused",
			Help: "1 while transform workers are held back by memory pressure",
		},
	)

	MemoryPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_gallery_memory_pauses_total",
			Help: "Number of times memory pressure paused transform workers",
		},
	)
)

// Broadcast hub metrics
var (
	HubConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_hub_connections",
			Help: "Number of live websocket connections",
		},
	)

	HubBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_hub_broadcasts_total",
			Help: "Total number of broadcast events by type",
		},
		[]string{"type"},
	)

	HubDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_hub_deliveries_total",
			Help: "Per-connection deliveries by result",
		},
		[]string{"result"}, // "queued", "dropped"
	)

	HubInboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_hub_inbound_messages_total",
			Help: "Inbound client messages by type and result",
		},
		[]string{"type", "result"}, // result: "accepted", "rejected"
	)
)

// Analytics metrics
var (
	AnalyticsViewsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_gallery_analytics_views_total",
			Help: "Total number of recorded asset views",
		},
	)
)

// Gallery contents, refreshed by the Collector
var (
	GalleryAssetsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_assets",
			Help: "Number of assets in the gallery",
		},
	)

	GalleryAlbumsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_albums",
			Help: "Number of albums",
		},
	)

	GalleryFavoritesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_favorites",
			Help: "Number of favorite entries across all users",
		},
	)

	GalleryTagsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_tags",
			Help: "Number of distinct tags",
		},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_gallery_filesystem_operation_duration_seconds",
			Help:    "Duration of failed filesystem operations by volume",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_filesystem_operation_errors_total",
			Help: "Total number of filesystem operation errors by volume",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_filesystem_retry_attempts_total",
			Help: "Total number of filesystem operation retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_filesystem_retry_success_total",
			Help: "Total number of filesystem operations that succeeded after a retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that failed after all retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_gallery_filesystem_retry_duration_seconds",
			Help:    "Total time spent on a filesystem operation including retries",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)

	FilesystemTransientErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_filesystem_transient_errors_total",
			Help: "Total number of transient filesystem errors (ESTALE, EAGAIN, EBUSY, EINTR, ETIMEDOUT)",
		},
		[]string{"operation", "volume"},
	)
)

// AppInfo exposes build information as labels on a constant gauge.
var AppInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "media_gallery_app_info",
		Help: "Application build information",
	},
	[]string{"version", "commit", "go_version"},
)
