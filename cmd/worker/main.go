/**
 * Follow Verification Worker - Main Entry Point
 *
 * Go worker that verifies users follow the target account from a
 * profile screenshot.
 *
 * Architecture:
 * - Asynq consumer for chat events enqueued by the bot gateway
 * - Per-user session state machine (Redis or in-memory)
 * - Tesseract recognition + layout classification of the screenshot
 * - Decision orchestrator: auto-accept or escalate to operators
 * - PostgreSQL persistence for verified users and pending reviews
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/followverify-worker/internal/clients"
	"github.com/adverant/nexus/followverify-worker/internal/config"
	"github.com/adverant/nexus/followverify-worker/internal/logging"
	"github.com/adverant/nexus/followverify-worker/internal/ocr"
	"github.com/adverant/nexus/followverify-worker/internal/ocr/tesseract"
	"github.com/adverant/nexus/followverify-worker/internal/processor"
	"github.com/adverant/nexus/followverify-worker/internal/queue"
	"github.com/adverant/nexus/followverify-worker/internal/session"
	"github.com/adverant/nexus/followverify-worker/internal/storage"
)

func main() {
	logger := logging.NewLogger("Main")

	// Load environment variables
	if err := godotenv.Load(".env.verifier"); err != nil {
		logger.Warn(".env.verifier not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Configure(cfg.AppEnv, cfg.LogLevel); err != nil {
		logger.Error("Failed to configure logging", "error", err)
		os.Exit(1)
	}
	defer logging.Sync()
	logger = logging.NewLogger("Main")

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker exited with error", "error", err)
		logging.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Follow verification worker starting",
		"queue", cfg.QueueName, "workers", cfg.WorkerConcurrency,
		"target", cfg.TargetHandle, "sessions", cfg.SessionBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	logger.Info("Connecting to PostgreSQL...")
	db, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeWith(logger, "PostgreSQL", db.Close)

	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = db.EnsureSchema(schemaCtx)
	cancel()
	if err != nil {
		return err
	}

	// Redis: session store and decision events
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(redisOpt)
	defer closeWith(logger, "Redis", rdb.Close)

	var store session.Store
	switch cfg.SessionBackend {
	case config.SessionBackendMemory:
		store = session.NewMemoryStore()
	default:
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		store = session.NewRedisStore(rdb, session.DefaultRedisKeyPrefix)
	}
	logger.Info("Session store ready", "backend", cfg.SessionBackend)

	machine := session.NewMachine(store, logging.NewLogger("Session"))
	sweeper := session.NewSweeper(store, cfg.SweepInterval, cfg.SessionTimeout, logging.NewLogger("Sweeper"))
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	// Recognition
	loader := ocr.NewLoader(&ocr.LoaderConfig{MaxSize: cfg.MaxEvidenceSize})
	engine := tesseract.NewEngine(&tesseract.Config{
		Languages: cfg.TesseractLanguages,
		Loader:    loader,
	})
	defer closeWith(logger, "Tesseract", engine.Close)
	if err := engine.Warmup(); err != nil {
		return err
	}
	logger.Info("Tesseract ready", "languages", cfg.TesseractLanguages)

	// Bot gateway
	gateway, err := clients.NewGatewayClient(&clients.GatewayConfig{
		BaseURL:           cfg.GatewayURL,
		OperatorChannelID: cfg.OperatorChannelID,
	})
	if err != nil {
		return err
	}
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := gateway.HealthCheck(healthCtx); err != nil {
		logger.Warn("Gateway health check failed, continuing", "error", err)
	}
	cancel()

	proc, err := processor.NewProcessor(&processor.Config{
		TargetHandle:       cfg.TargetHandle,
		RecognitionTimeout: cfg.RecognitionTimeout,
		PhotoRateInterval:  cfg.PhotoRateInterval,
		PhotoRateBurst:     cfg.PhotoRateBurst,
		Machine:            machine,
		Recognizer:         engine,
		Persistence:        db,
		Notifier:           gateway,
		Events:             queue.NewEventPublisher(rdb, cfg.EventsChannel),
	})
	if err != nil {
		return err
	}

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Handler:           proc,
		ProcessingTimeout: cfg.ProcessingTimeout,
	})
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	logger.Info("Worker ready, waiting for events", "stats", consumer.GetStatistics())

	<-ctx.Done()
	logger.Info("Shutdown signal received, draining...")

	if err := consumer.Stop(context.Background()); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}
	<-sweepDone

	logger.Info("Shutdown complete")
	return nil
}

func closeWith(logger *logging.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error("Error closing "+name, "error", err)
		return
	}
	logger.Info(name + " closed")
}
