package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crucible/internal/broadcast"
	"crucible/internal/cache"
	"crucible/internal/config"
	"crucible/internal/controller"
	"crucible/internal/manager"
	"crucible/internal/orchestrator"
	"crucible/internal/orchestrator/handler"
	"crucible/internal/pipelines"
	"crucible/internal/rabbitmq"
	"crucible/internal/report"
	"crucible/internal/server"
	"crucible/internal/store"
	"crucible/pkg/qualitygate"
)

func main() {
	configPath := "config/dev.config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}

	setupLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Update broadcaster
	hub := broadcast.NewHub(cfg.WebSocket.QueueSize,
		time.Duration(cfg.WebSocket.PublishTimeout)*time.Millisecond)
	go hub.Run(ctx)

	publishers := manager.Publishers{hub}

	// Optional AMQP relay mirroring job updates onto an exchange
	var rabbitClient rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		relay, err := rabbitmq.NewEventRelay(rabbitClient, cfg.RabbitMQ.ExchangeName)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize job event relay")
		}
		publishers = append(publishers, relay)
	}

	// Persistence
	jobStore, err := store.NewFileStore(cfg.Storage.JobsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize job store")
	}

	resultStore, err := store.NewFileResultStore(cfg.Storage.ResultsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize result store")
	}

	mgr, err := manager.New(jobStore, publishers)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize job manager")
	}

	// Optional Redis cache for pipeline definition lookups
	var defCache cache.Cache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Redis cache")
		}
		defer redisCache.Close()
		defCache = redisCache
	}

	defs := pipelines.NewStore(cfg.Storage.PipelinesDir, cfg.Storage.ProjectsDir,
		defCache, time.Duration(cfg.Redis.TTL)*time.Second)

	// External validation services
	gate := qualitygate.New(cfg.Services.QualityGateURL,
		time.Duration(cfg.Services.RequestTimeout)*time.Second)

	// Consolidated reports, optionally archived to S3
	var archiver report.Archiver
	if cfg.AWS.Enabled {
		s3Archiver, err := report.NewS3Archiver(cfg.AWS.AccessKey, cfg.AWS.SecretKey,
			cfg.AWS.Bucket, cfg.AWS.Region)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 archiver")
		}
		if err := s3Archiver.TestConnection(); err != nil {
			log.Fatal().Err(err).Str("bucket", cfg.AWS.Bucket).Msg("S3 bucket unreachable")
		}
		archiver = s3Archiver
	}

	reports, err := report.NewBuilder(resultStore, cfg.Storage.ReportsDir, archiver)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize report builder")
	}

	// Operation handlers
	pipelineHandler := handler.NewPipelineHandler(gate, defs, resultStore,
		time.Duration(cfg.Services.PollInterval)*time.Second,
		time.Duration(cfg.Services.MaxPollWait)*time.Second)

	registry := orchestrator.NewRegistry(
		pipelineHandler,
		handler.NewDataGenerationHandler(gate),
		handler.NewMetadataExtractionHandler(gate),
		handler.NewMultiProjectValidationHandler(defs, pipelineHandler),
		handler.NewGenericHandler(),
	)

	executor := orchestrator.NewExecutor(ctx, mgr, registry, reports)

	jc := controller.NewJobController(mgr, executor, registry, reports, cfg.Jobs)

	srv := server.New(*cfg, jc, hub)

	go func() {
		log.Info().Int("port", cfg.Port).Str("app", cfg.AppName).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	cancel()

	if rabbitClient != nil {
		if err := rabbitClient.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ client")
		}
	}

	log.Info().Msg("Shutdown complete")
}

func setupLogger(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}
