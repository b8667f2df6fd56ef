package metrics

// Collections are the store collections pre-populated on the store metrics.
var Collections = []string{"assets", "favorites", "albums", "analytics"}

// Volumes are the labels produced by the filesystem volume resolver.
var Volumes = []string{"images", "thumbnails", "derived", "database", "unknown"}

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, c := range Collections {
		for _, status := range []string{"success", "aborted", "error"} {
			StoreUpsertsTotal.WithLabelValues(c, status)
		}
		StoreUpsertDuration.WithLabelValues(c)
		StoreCollectionVersion.WithLabelValues(c)
		StoreCollectionRecords.WithLabelValues(c)
	}

	for _, status := range []string{"success", "invalid_type", "too_large", "derivation_error", "error"} {
		UploadsTotal.WithLabelValues(status)
	}

	for _, engine := range []string{"imaging", "vips"} {
		for _, status := range []string{"success", "error_unsupported", "error_io", "error_timeout"} {
			ThumbnailGenerationsTotal.WithLabelValues(engine, status)
		}
		ThumbnailGenerationDuration.WithLabelValues(engine)
	}

	for _, format := range []string{"jpeg", "png", "gif", "webp", "bmp", "tiff", "unknown"} {
		ThumbnailImageDecodeByFormat.WithLabelValues(format)
	}

	for _, status := range []string{"done", "failed", "rejected"} {
		TransformJobsTotal.WithLabelValues(status)
	}
	for _, op := range []string{"resize", "rotate", "reformat"} {
		TransformOperationsTotal.WithLabelValues(op)
	}

	for _, t := range []string{"snapshot", "new-image", "favorite-update", "derived-image"} {
		HubBroadcastsTotal.WithLabelValues(t)
	}
	HubDeliveriesTotal.WithLabelValues("queued")
	HubDeliveriesTotal.WithLabelValues("dropped")
	for _, t := range []string{"favorite-update", "view", "unknown"} {
		HubInboundMessagesTotal.WithLabelValues(t, "accepted")
		HubInboundMessagesTotal.WithLabelValues(t, "rejected")
	}

	fsOps := []string{"stat", "open", "write"}
	for _, vol := range Volumes {
		for _, op := range fsOps {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
			FilesystemTransientErrors.WithLabelValues(op, vol)
		}
	}
}
