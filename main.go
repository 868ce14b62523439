package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-extractor/internal/cache"
	"media-extractor/internal/converter"
	"media-extractor/internal/database"
	"media-extractor/internal/dedup"
	"media-extractor/internal/extractor"
	"media-extractor/internal/filesystem"
	"media-extractor/internal/handlers"
	"media-extractor/internal/jobs"
	"media-extractor/internal/logging"
	"media-extractor/internal/memory"
	"media-extractor/internal/metrics"
	"media-extractor/internal/middleware"
	"media-extractor/internal/pipeline"
	"media-extractor/internal/startup"
	"media-extractor/internal/transcoder"

	"github.com/gorilla/mux"
)

// services is everything handleShutdown has to stop.
type services struct {
	srv        *http.Server
	metricsSrv *http.Server
	handlers   *handlers.Handlers
	manager    *jobs.Manager
	monitor    *memory.Monitor
	streamer   *pipeline.Streamer
	extractor  *extractor.Extractor
	transcoder *transcoder.Transcoder
	collector  *metrics.Collector
	db         *database.Database
}

func main() {
	startTime := time.Now()

	// Must run before anything allocates much.
	memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"artifacts": config.ArtifactDir,
		"temp":      config.TempDir,
		"database":  config.DatabaseDir,
	}))

	metrics.InitializeMetrics()

	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	collector := metrics.NewCollector(db, time.Minute)
	collector.Start()

	ext := extractor.New(config.ExtractorPath)
	trans := transcoder.New(config.FFmpegPath)
	startup.LogToolsInit(ext, trans)

	var conv jobs.Converter
	if config.ConverterEnabled() {
		conv = converter.New(converter.Config{
			BaseURL:           config.ConverterURL,
			APIKey:            config.ConverterKey,
			Timeout:           config.ConverterTimeout,
			RequestsPerSecond: config.ConverterRPS,
		})
	}

	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()
	startup.LogWorkersInit(config.WorkerCount, config.WorkerQueueSize, monitor.Limit())

	streamer := pipeline.NewStreamer(ext, trans)

	manager := jobs.New(jobs.Config{
		ArtifactDir:     config.ArtifactDir,
		TempDir:         config.TempDir,
		JobTTL:          config.JobTTL,
		JobTimeout:      config.JobTimeout,
		CleanupInterval: config.CleanupInterval,
		Workers:         config.WorkerCount,
		QueueSize:       config.WorkerQueueSize,
	}, jobs.Deps{
		Store: db,
		Dedup: dedup.New(db, config.DedupLockTTL),
		Cache: cache.New(cache.Config{
			TTL:           config.CacheTTL,
			MaxEntries:    config.CacheMaxEntries,
			SweepInterval: config.CacheSweepInterval,
		}),
		Source:    ext,
		Encoder:   trans,
		Converter: conv,
		Streamer:  streamer,
		Gate:      monitor,
	})
	if err := manager.Start(context.Background()); err != nil {
		startup.LogFatal("Failed to start job manager: %v", err)
	}

	h := handlers.New(manager, handlers.Options{
		Pool:    manager.Pool(),
		Store:   db,
		Streams: streamer,
		APIMode: conv != nil,
	})

	router := setupRouter(h)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Logger(loggingConfig)(router)
	if config.MetricsEnabled {
		handler = middleware.Metrics(middleware.DefaultMetricsConfig())(handler)
	}

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streams and downloads can run for as long as the media does.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = startMetricsServer(config.MetricsPort, h)
	}

	svc := &services{
		srv:        srv,
		metricsSrv: metricsSrv,
		handlers:   h,
		manager:    manager,
		monitor:    monitor,
		streamer:   streamer,
		extractor:  ext,
		transcoder: trans,
		collector:  collector,
		db:         db,
	}
	shutdownDone := make(chan struct{})
	go func() {
		handleShutdown(svc)
		close(shutdownDone)
	}()

	h.SetReady(true)
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-shutdownDone
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", h.CreateJob).Methods("POST")
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/download", h.DownloadArtifact).Methods("GET", "HEAD")
	api.HandleFunc("/stream", h.Stream).Methods("GET")
	api.HandleFunc("/cleanup", h.RunCleanup).Methods("POST")

	return r
}

func startMetricsServer(port string, h *handlers.Handlers) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", h.MetricsHandler())

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics server error: %v", err)
		}
	}()
	return srv
}

func handleShutdown(svc *services) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc.handlers.SetReady(false)

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := svc.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	// Releases slots parked on the memory gate so the pool can drain.
	svc.monitor.Stop()

	startup.LogShutdownStep("Draining job workers")
	if err := svc.manager.Stop(ctx); err != nil {
		logging.Warn("Job manager shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Job workers drained")
	}

	startup.LogShutdownStep("Killing external processes")
	svc.streamer.Cleanup()
	svc.extractor.Cleanup()
	svc.transcoder.Cleanup()
	startup.LogShutdownStepComplete("External processes stopped")

	svc.collector.Stop()
	if svc.metricsSrv != nil {
		if err := svc.metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownStep("Closing database")
	if err := svc.db.Close(); err != nil {
		logging.Warn("Database close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Database closed")
	}

	startup.LogShutdownComplete()
}
