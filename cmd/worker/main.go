package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/cache"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/config"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/database"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/extract"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/frame"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/queue"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/tracing"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/webhook"
)

const (
	depthInterval = 15 * time.Second
	drainTimeout  = 30 * time.Second
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

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	baseLogger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create logger")
	}
	logger := baseLogger.WithWorkerID(workerID)

	tracer, err := tracing.Setup(cfg.Tracing.Enabled, cfg.Tracing.ServiceName+"-worker", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer tracer.Close()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ff := frame.NewFFmpeg(cfg.Extractor.FFmpegPath, cfg.Extractor.FFprobePath, cfg.Extractor.SeekMode)
	extractor := extract.NewExtractor(ff, extract.Options{
		JPEGQuality:       cfg.Extractor.JPEGQuality,
		ProgressEvery:     cfg.Extractor.ProgressEvery,
		MaxDecodeFailures: cfg.Extractor.MaxDecodeFailures,
	}, logger)

	opts := []extract.ManagerOption{extract.WithSource("queue"), extract.WithWorkerID(workerID)}

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
		opts = append(opts, extract.WithJobStore(database.NewRepository(db, logger)))
	}

	// Initialize cache
	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer c.Close()
		opts = append(opts, extract.WithProgressCache(c, cfg.Redis.TTL))
	}

	// Initialize storage
	if cfg.Extractor.MirrorToStorage {
		stor, err := storage.New(ctx, cfg.Storage, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize storage: %v", err)
		}
		extractor.MirrorTo(stor)
	}

	// Initialize completion webhook
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		opts = append(opts, extract.WithNotifier(
			webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Timeout, cfg.Webhook.MaxAttempts, logger),
		))
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
		defer metricsServer.Shutdown(context.Background())
	}

	worker := &Worker{
		manager:   extract.NewManager(extractor, logger, opts...),
		publisher: q,
		logger:    logger,
	}

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		if job := worker.manager.Running(); job != nil {
			job.Cancel()
		}
		cancel()
	}()

	// Start consuming jobs
	logger.Info("Worker started, waiting for extraction requests...")
	consumerDone, err := q.ConsumeExtractions(ctx, worker.Handle)
	if err != nil {
		logger.Fatalf("Failed to consume extraction requests: %v", err)
	}
	go q.MonitorDepth(ctx, depthInterval)

	// Wait for shutdown
	<-ctx.Done()

	// Let the cancelled job record its outcome before connections close
	select {
	case <-consumerDone:
	case <-time.After(drainTimeout):
		logger.Warn("Timed out waiting for the running extraction to finish")
	}
	logger.Info("Worker stopped")
}
