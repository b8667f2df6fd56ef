package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"media-gallery/internal/analytics"
	"media-gallery/internal/filesystem"
	"media-gallery/internal/handlers"
	"media-gallery/internal/hub"
	"media-gallery/internal/ingest"
	"media-gallery/internal/library"
	"media-gallery/internal/logging"
	"media-gallery/internal/media"
	"media-gallery/internal/memory"
	"media-gallery/internal/metrics"
	"media-gallery/internal/middleware"
	"media-gallery/internal/startup"
	"media-gallery/internal/store"
	"media-gallery/internal/transform"
)

const shutdownTimeout = 30 * time.Second

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	memory.ConfigureFromEnv()

	if config.VipsEnabled {
		if err := media.InitVips(); err != nil {
			logging.Warn("libvips unavailable, falling back to imaging: %v", err)
		}
	}

	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"images":     config.ImagesDir,
		"thumbnails": config.ThumbnailDir,
		"derived":    config.DerivedDir,
		"database":   config.DatabaseDir,
	}))

	// Open the metadata store and load every collection up front
	storeStart := time.Now()
	backend, err := store.NewBackend(context.Background(), config.StoreBackend, config.DatabaseDir)
	if err != nil {
		startup.LogFatal("Failed to open %s store: %v", config.StoreBackend, err)
	}
	st, err := store.Open(context.Background(), backend,
		library.CollectionAssets, library.CollectionFavorites, library.CollectionAlbums, analytics.Collection)
	if err != nil {
		startup.LogFatal("Failed to load store: %v", err)
	}
	startup.LogStoreInit(config.StoreBackend, time.Since(storeStart))

	lib := library.New(st)
	tracker := analytics.New(st)

	realtime := hub.New(hub.Config{AllowedOrigins: config.CORSAllowedOrigins}, hubHooks(lib, tracker))

	startup.LogThumbnailInit(media.IsVipsAvailable())
	generator := media.NewGenerator(config.ThumbnailDir)

	ingestor := ingest.New(ingest.Config{
		UploadDir:         config.ImagesDir,
		MaxUploadBytes:    config.MaxUploadBytes,
		DerivationTimeout: config.DerivationTimeout,
	}, generator, lib, realtime)

	gate := memory.NewGate(memory.DefaultGateConfig())
	gate.Start()

	startup.LogQueueInit(config.TransformWorkers, config.TransformQueueSize, config.TransformMaxAttempts)
	queue := transform.New(transform.Config{
		SourceDir:   config.ImagesDir,
		OutputDir:   config.DerivedDir,
		URLPrefix:   "/derived",
		Workers:     config.TransformWorkers,
		QueueSize:   config.TransformQueueSize,
		MaxAttempts: config.TransformMaxAttempts,
		Gate:        gate,
	}, lib, realtime)
	queue.Start()

	h := handlers.New(lib, tracker, ingestor, queue, realtime)

	router := setupRouter(h, realtime, config)
	startup.LogHTTPRoutes(router, config.LogStaticFiles, config.LogHealthChecks)

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           wrapHandler(router, config),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	var (
		metricsSrv *http.Server
		collector  *metrics.Collector
	)
	if config.MetricsEnabled {
		metrics.InitializeMetrics()
		collector = metrics.NewCollector(lib, 30*time.Second)
		collector.Start()

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", handlers.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              ":" + config.MetricsPort,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case sig := <-sigChan:
			startup.LogShutdownInitiated(sig.String())
		case <-gctx.Done():
			startup.LogShutdownInitiated("server error")
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		h.SetReady(false)

		startup.LogShutdownStep("Shutting down HTTP server")
		if err := srv.Shutdown(ctx); err != nil {
			logging.Warn("Server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("HTTP server stopped")
		}

		startup.LogShutdownStep("Closing websocket connections")
		realtime.Close()
		startup.LogShutdownStepComplete("Websocket connections closed")

		startup.LogShutdownStep("Stopping transform queue")
		queue.Stop()
		gate.Stop()
		startup.LogShutdownStepComplete("Transform queue stopped")

		if metricsSrv != nil {
			collector.Stop()
			if err := metricsSrv.Shutdown(ctx); err != nil {
				logging.Warn("Metrics server shutdown error: %v", err)
			}
		}

		startup.LogShutdownStep("Closing store")
		if err := st.Close(); err != nil {
			logging.Warn("Store close error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Store closed")
		}

		media.ShutdownVips()
		return nil
	})

	h.SetReady(true)
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	if err := g.Wait(); err != nil {
		startup.LogFatal("Server error: %v", err)
	}
	startup.LogShutdownComplete()
}

// hubHooks wires inbound websocket messages to the library and tracker.
func hubHooks(lib *library.Library, tracker *analytics.Tracker) hub.Hooks {
	return hub.Hooks{
		Snapshot: func(ctx context.Context) (any, error) {
			return lib.Snapshot(ctx)
		},
		Favorite: func(ctx context.Context, f hub.FavoriteUpdate) error {
			state := f.IsFavorite
			_, err := lib.SetFavorite(ctx, f.UserID, f.AssetID, &state)
			return err
		},
		View: func(ctx context.Context, v hub.View) error {
			ok, err := lib.HasAsset(ctx, v.AssetID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", library.ErrAssetNotFound, v.AssetID)
			}
			_, err = tracker.RecordView(ctx, v.AssetID, v.ViewerID)
			return err
		},
	}
}

func setupRouter(h *handlers.Handlers, realtime *hub.Hub, config *startup.Config) *mux.Router {
	r := mux.NewRouter()

	if config.MetricsEnabled {
		r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	}

	// Realtime endpoint: /ws, or an upgrade request on /
	r.Handle("/ws", realtime).Methods(http.MethodGet)
	r.Handle("/", realtime).Methods(http.MethodGet).MatcherFunc(isWebsocketUpgrade)

	h.RegisterProbes(r)
	h.RegisterAPI(r)

	// Stored originals, thumbnails and derived files
	r.PathPrefix("/images/").Handler(handlers.StaticFiles("/images/", config.ImagesDir)).Methods(http.MethodGet, http.MethodHead)
	r.PathPrefix("/thumbnails/").Handler(handlers.StaticFiles("/thumbnails/", config.ThumbnailDir)).Methods(http.MethodGet, http.MethodHead)
	r.PathPrefix("/derived/").Handler(handlers.StaticFiles("/derived/", config.DerivedDir)).Methods(http.MethodGet, http.MethodHead)

	// Front end
	r.PathPrefix("/").Handler(http.FileServer(http.Dir("./static")))

	return r
}

func isWebsocketUpgrade(r *http.Request, _ *mux.RouteMatch) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// wrapHandler applies the outer middleware: access logging, compression
// and, when origins are configured, CORS.
func wrapHandler(router http.Handler, config *startup.Config) http.Handler {
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Logger(loggingConfig)(router)

	handler = middleware.Compression(middleware.DefaultCompressionConfig())(handler)

	if len(config.CORSAllowedOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins: config.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		})(handler)
	}
	return handler
}
