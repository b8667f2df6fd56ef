// Package metrics provides Prometheus instrumentation for the media gallery.
//
// All metrics are registered on the default registry with promauto and are
// prefixed with "media_gallery_". They are grouped by the component that
// records them:
//
//   - HTTP: request counts, durations and in-flight requests (middleware)
//   - Store: upserts per collection, critical-section time, last durable
//     version and record count per collection
//   - Uploads: outcomes, accepted sizes and end-to-end ingest duration
//   - Thumbnails: generations per engine (imaging or vips) and decode formats
//   - Transform: terminal job counts, duration, queue depth, retries
//   - Hub: live connections, broadcasts per event type, per-connection
//     deliveries and inbound message validation results
//   - Analytics: recorded views
//   - Filesystem: retry and transient error counts per volume, recorded
//     through the filesystem.Observer returned by NewFilesystemObserver
//
// The [Collector] periodically refreshes gallery content gauges (assets,
// albums, favorites, tags) from a [StatsProvider]:
//
//	collector := metrics.NewCollector(lib, time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// Expose the registry with promhttp on the metrics port:
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// Example queries:
//
//	sum(rate(media_gallery_uploads_total{status!="success"}[5m])) by (status)
//	histogram_quantile(0.95, sum(rate(media_gallery_store_upsert_duration_seconds_bucket[5m])) by (le, collection))
//	media_gallery_transform_queue_depth
package metrics
