package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"media-gallery/internal/logging"
	"media-gallery/internal/store"
	"media-gallery/internal/workers"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// maxTransformWorkers caps TRANSFORM_WORKERS=auto and explicit counts.
const maxTransformWorkers = 4

// Config holds all application configuration
type Config struct {
	DataDir      string
	DatabaseDir  string
	StoreBackend string
	Port         string
	MetricsPort  string

	MaxUploadBytes    int64
	DerivationTimeout time.Duration

	TransformWorkers     int
	TransformQueueSize   int
	TransformMaxAttempts int

	VipsEnabled        bool
	CORSAllowedOrigins []string

	LogStaticFiles  bool
	LogHealthChecks bool
	MetricsEnabled  bool

	// Derived paths
	ImagesDir    string
	ThumbnailDir string
	DerivedDir   string
}

// LoadConfig loads and validates configuration from environment variables.
// A .env file in the working directory is read first when present; real
// environment variables win over it.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	if err := godotenv.Load(); err == nil {
		logging.Info("  Loaded .env file")
	} else if !os.IsNotExist(err) {
		logging.Warn("  Failed to read .env file: %v", err)
	}

	dataDir := getEnv("DATA_DIR", "./data")
	databaseDir := getEnv("DATABASE_DIR", filepath.Join(dataDir, "db"))
	storeBackend := strings.ToLower(getEnv("STORE_BACKEND", store.BackendSQLite))
	port := getEnv("PORT", "8080")
	metricsPort := getEnv("METRICS_PORT", "9090")
	maxUploadBytes := getEnvInt64("MAX_UPLOAD_BYTES", 5<<20)
	derivationTimeout := getEnvDuration("DERIVATION_TIMEOUT", 30*time.Second)
	queueSize := int(getEnvInt64("TRANSFORM_QUEUE_SIZE", 100))
	maxAttempts := int(getEnvInt64("TRANSFORM_MAX_ATTEMPTS", 3))
	vipsEnabled := getEnvBool("VIPS_ENABLED", false)
	corsOrigins := getEnvList("CORS_ALLOWED_ORIGINS")
	logStaticFiles := getEnvBool("LOG_STATIC_FILES", false)
	logHealthChecks := getEnvBool("LOG_HEALTH_CHECKS", true)
	metricsEnabled := getEnvBool("METRICS_ENABLED", true)

	transformWorkers, err := workers.FromEnv(1, maxTransformWorkers)
	if err != nil {
		return nil, err
	}

	logging.Info("  DATA_DIR:               %s", dataDir)
	logging.Info("  DATABASE_DIR:           %s", databaseDir)
	logging.Info("  STORE_BACKEND:          %s", storeBackend)
	logging.Info("  PORT:                   %s", port)
	logging.Info("  METRICS_PORT:           %s", metricsPort)
	logging.Info("  METRICS_ENABLED:        %v", metricsEnabled)
	logging.Info("  MAX_UPLOAD_BYTES:       %d", maxUploadBytes)
	logging.Info("  DERIVATION_TIMEOUT:     %s", derivationTimeout)
	logging.Info("  TRANSFORM_WORKERS:      %d", transformWorkers)
	logging.Info("  TRANSFORM_QUEUE_SIZE:   %d", queueSize)
	logging.Info("  TRANSFORM_MAX_ATTEMPTS: %d", maxAttempts)
	logging.Info("  VIPS_ENABLED:           %v", vipsEnabled)
	logging.Info("  CORS_ALLOWED_ORIGINS:   %s", strings.Join(corsOrigins, ","))
	logging.Info("  LOG_STATIC_FILES:       %v", logStaticFiles)
	logging.Info("  LOG_HEALTH_CHECKS:      %v", logHealthChecks)
	logging.Info("  LOG_LEVEL:              %s", logging.GetLevel())

	switch storeBackend {
	case store.BackendSQLite, store.BackendJSON:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: must be %q or %q", storeBackend, store.BackendSQLite, store.BackendJSON)
	}
	if maxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", maxUploadBytes)
	}
	if queueSize <= 0 || maxAttempts <= 0 {
		return nil, fmt.Errorf("TRANSFORM_QUEUE_SIZE and TRANSFORM_MAX_ATTEMPTS must be positive")
	}

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	dataDir, err = filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	logging.Info("  Data directory (absolute): %s", dataDir)

	databaseDir, err = filepath.Abs(databaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	logging.Info("  Database directory (absolute): %s", databaseDir)

	config := &Config{
		DataDir:              dataDir,
		DatabaseDir:          databaseDir,
		StoreBackend:         storeBackend,
		Port:                 port,
		MetricsPort:          metricsPort,
		MaxUploadBytes:       maxUploadBytes,
		DerivationTimeout:    derivationTimeout,
		TransformWorkers:     transformWorkers,
		TransformQueueSize:   queueSize,
		TransformMaxAttempts: maxAttempts,
		VipsEnabled:          vipsEnabled,
		CORSAllowedOrigins:   corsOrigins,
		LogStaticFiles:       logStaticFiles,
		LogHealthChecks:      logHealthChecks,
		MetricsEnabled:       metricsEnabled,
		ImagesDir:            filepath.Join(dataDir, "images"),
		ThumbnailDir:         filepath.Join(dataDir, "thumbnails"),
		DerivedDir:           filepath.Join(dataDir, "derived"),
	}

	// Every directory is required: uploads, thumbnails and derived files
	// are all part of the ingestion pipeline.
	for _, d := range []struct{ path, name string }{
		{config.DatabaseDir, "database"},
		{config.ImagesDir, "images"},
		{config.ThumbnailDir, "thumbnails"},
		{config.DerivedDir, "derived"},
	} {
		if err := ensureDirectory(d.path, d.name); err != nil {
			return nil, fmt.Errorf("%s directory error: %w", d.name, err)
		}
		if err := testWriteAccess(d.path); err != nil {
			return nil, fmt.Errorf("%s directory is not writable: %w", d.name, err)
		}
		logging.Info("  [OK] %s directory is writable", d.name)
	}

	return config, nil
}

// LogStoreInit logs metadata store initialization
func LogStoreInit(backend string, duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("STORE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] %s store opened in %v", backend, duration)
}

// LogThumbnailInit logs which thumbnail engine is in use
func LogThumbnailInit(vips bool) {
	if vips {
		logging.Info("  Thumbnail engine: libvips")
	} else {
		logging.Info("  Thumbnail engine: imaging (pure Go)")
	}
}

// LogQueueInit logs transform queue initialization
func LogQueueInit(workers, capacity, maxAttempts int) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("TRANSFORM QUEUE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Workers:      %d", workers)
	logging.Info("  Capacity:     %d", capacity)
	logging.Info("  Max attempts: %d", maxAttempts)
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			pathTemplate, err = route.GetPathRegexp()
			if err != nil {
				// Matcher-only routes (the websocket upgrade) have no path
				pathTemplate = "(matcher)"
			}
		}

		methods, err := route.GetMethods()
		if err != nil {
			// Route might not have methods specified (e.g., static file server)
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logStaticFiles, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logStaticFiles {
		logging.Info("    Static file logging: ON")
	} else {
		logging.Info("    Static file logging: OFF (set LOG_STATIC_FILES=true to enable)")
	}
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Application:   http://0.0.0.0:%s", config.Port)
	logging.Info("    Realtime:      ws://0.0.0.0:%s/ws", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
   ______      ____
  / ____/___ _/ / /__  _______  __
 / / __/ __ '/ / / _ \/ ___/ / / /
/ /_/ / /_/ / / /  __/ /  / /_/ /
\____/\__,_/_/_/\___/_/   \__, /
                         /____/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
