// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// All configuration is loaded from environment variables via [LoadConfig],
// after reading an optional .env file. The following variables are supported:
//
//   - DATA_DIR: Root for images/, thumbnails/ and derived/ (default: ./data)
//   - DATABASE_DIR: Metadata store directory (default: $DATA_DIR/db)
//   - STORE_BACKEND: sqlite or json (default: sqlite)
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable metrics server (default: true)
//   - MAX_UPLOAD_BYTES: Upload size ceiling (default: 5242880)
//   - DERIVATION_TIMEOUT: Thumbnail derivation deadline (default: 30s)
//   - TRANSFORM_WORKERS: Worker count or "auto" (default: 1)
//   - TRANSFORM_QUEUE_SIZE: Pending job capacity (default: 100)
//   - TRANSFORM_MAX_ATTEMPTS: Attempts per job for transient errors (default: 3)
//   - VIPS_ENABLED: Use libvips for thumbnails (default: false)
//   - CORS_ALLOWED_ORIGINS: Comma separated origins; empty disables CORS
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//   - LOG_STATIC_FILES: Log static file requests (default: false)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//
// Every directory is created if missing and must be writable.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
//
// # Example Usage
//
//	config, err := startup.LoadConfig()
//	if err != nil {
//	    startup.LogFatal("Configuration error: %v", err)
//	}
//	startup.LogStoreInit(config.StoreBackend, time.Since(t0))
//	...
//	startup.LogServerStarted(startup.ServerConfig{
//	    Port:            config.Port,
//	    MetricsPort:     config.MetricsPort,
//	    MetricsEnabled:  config.MetricsEnabled,
//	    StartupDuration: time.Since(startTime),
//	})
package startup
