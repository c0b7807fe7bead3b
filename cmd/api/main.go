package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/cache"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/config"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/database"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/extract"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/frame"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/middleware"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/playback"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/queue"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/snapshot"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/studio"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/tracing"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/webhook"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if _, err := os.Stat(configPath); err != nil {
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create logger")
	}

	tracer, err := tracing.Setup(cfg.Tracing.Enabled, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer tracer.Close()

	ctx := context.Background()

	ff := frame.NewFFmpeg(cfg.Extractor.FFmpegPath, cfg.Extractor.FFprobePath, cfg.Extractor.SeekMode)
	extractor := extract.NewExtractor(ff, extract.Options{
		JPEGQuality:       cfg.Extractor.JPEGQuality,
		ProgressEvery:     cfg.Extractor.ProgressEvery,
		MaxDecodeFailures: cfg.Extractor.MaxDecodeFailures,
	}, logger)
	capturer := snapshot.NewCapturer(cfg.Extractor.JPEGQuality, logger)

	opts := []extract.ManagerOption{extract.WithSource("api")}
	checks := map[string]HealthCheck{}
	var history JobHistory

	// Initialize database
	if cfg.Database.Enabled {
		db, err := database.New(cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Fatalf("Failed to migrate database: %v", err)
		}
		repo := database.NewRepository(db, logger)
		opts = append(opts, extract.WithJobStore(repo))
		history = repo
		checks["database"] = db.Health
	}

	// Initialize cache
	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer c.Close()

		opts = append(opts, extract.WithProgressCache(c, cfg.Redis.TTL))
		checks["redis"] = c.Ping
	}

	// Initialize storage mirror
	var frames FrameLinker
	if cfg.Extractor.MirrorToStorage {
		stor, err := storage.New(ctx, cfg.Storage, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize storage: %v", err)
		}
		extractor.MirrorTo(stor)
		capturer.MirrorTo(stor)
		frames = stor
	}

	// Initialize completion webhook
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		opts = append(opts, extract.WithNotifier(
			webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Timeout, cfg.Webhook.MaxAttempts, logger),
		))
	}

	manager := extract.NewManager(extractor, logger, opts...)
	st := studio.New(playback.NewController(ff, logger), capturer, manager, cfg.Extractor.OutputDirName, logger)
	defer st.Close()

	api := NewAPI(st, logger)
	api.history = history
	api.frames = frames
	api.checks = checks
	api.previewWidth = cfg.Extractor.PreviewWidth
	api.previewHeight = cfg.Extractor.PreviewHeight

	// Initialize queue for remote dispatch
	if cfg.Queue.Host != "" {
		q, err := queue.New(cfg.Queue)
		if err != nil {
			logger.WithError(err).Warn("Queue unavailable, remote dispatch disabled")
		} else {
			defer q.Close()
			api.dispatcher = q
			checks["queue"] = q.Health
		}
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	go limiter.Cleanup(5*time.Minute, stopCleanup)

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, logger, limiter)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if job := manager.Running(); job != nil {
		logger.WithJobID(job.ID).Info("Cancelling running extraction")
		job.Cancel()
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, logger *logging.Logger, limiter *middleware.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)

	// API routes
	v1 := router.Group("/api/v1")
	if limiter != nil {
		v1.Use(middleware.RateLimit(limiter))
	}
	{
		// Session
		v1.POST("/session/load", api.loadVideo)
		v1.GET("/session", api.getSession)
		v1.PUT("/session/range", api.setRange)
		v1.PUT("/session/output", api.setOutputDir)
		v1.POST("/session/mark-in", api.markIn)
		v1.POST("/session/mark-out", api.markOut)

		// Playback
		v1.POST("/playback/toggle", api.togglePlayback)
		v1.POST("/playback/scrub", api.scrubPlayback)
		v1.POST("/playback/step", api.stepPlayback)
		v1.GET("/playback/stream", api.streamPreview)

		// Snapshots
		v1.POST("/snapshot", api.captureSnapshot)

		// Extractions
		v1.POST("/extractions", api.createExtraction)
		v1.GET("/extractions", api.listExtractions)
		v1.GET("/extractions/:id", api.getExtraction)
		v1.GET("/extractions/:id/events", api.extractionEvents)
		v1.POST("/extractions/:id/cancel", api.cancelExtraction)
	}

	return router
}
