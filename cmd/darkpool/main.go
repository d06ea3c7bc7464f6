package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/obsidianex/darkpool/internal/book"
	"github.com/obsidianex/darkpool/internal/config"
	"github.com/obsidianex/darkpool/internal/database"
	"github.com/obsidianex/darkpool/internal/matching"
	"github.com/obsidianex/darkpool/internal/notifier"
	"github.com/obsidianex/darkpool/internal/settlement"
	"github.com/obsidianex/darkpool/internal/store"
	"github.com/obsidianex/darkpool/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	var configPaths []string
	if path := os.Getenv("DARKPOOL_CONFIG"); path != "" {
		configPaths = append(configPaths, path)
	}
	cfg, err := config.LoadConfig(configPaths...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Open durable storage
	db, err := database.Open(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to open database", zap.Error(err))
	}

	// Create stores
	orderStore, err := store.NewOrderStore(db, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create order store", zap.Error(err))
	}
	settlementStore := store.NewSettlementStore(db)

	// Create notifier
	var events notifier.Notifier = notifier.Noop{}
	if cfg.Kafka.Enabled {
		kafkaNotifier := notifier.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, zapLogger)
		defer kafkaNotifier.Close()
		events = kafkaNotifier
	}

	// Optional snapshot cache
	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer cache.Close()
	}

	// Create order book service
	bookSvc := book.NewService(orderStore, cfg.Book, events, cache, cfg.Redis.SnapshotTTL, zapLogger)

	// The compute service here is the local development stand-in; a real
	// deployment wires the MPC cluster client behind the same contract.
	compute := settlement.NewLocalComputeService(250 * time.Millisecond)

	// Create matching engine first so the settlement client can release its
	// in-flight holds.
	engine := matching.NewEngine(orderStore, nil, events, cfg.Matching.CycleInterval, zapLogger)

	settler := settlement.NewClient(
		compute,
		settlementStore,
		bookSvc,
		engine,
		events,
		settlement.RetryPolicy{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialDelay:   cfg.Retry.InitialDelay,
			MaxDelay:       cfg.Retry.MaxDelay,
			Multiplier:     cfg.Retry.Multiplier,
			AttemptTimeout: cfg.Retry.AttemptTimeout,
		},
		settlement.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		},
		zapLogger,
	)
	engine.SetSettler(settler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start matching engine", zap.Error(err))
	}

	zapLogger.Info("dark pool venue started",
		zap.Duration("cycle_interval", cfg.Matching.CycleInterval),
		zap.Int("configured_pairs", len(cfg.Book.Pairs)))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zapLogger.Info("shutting down")
	if err := engine.Stop(); err != nil {
		zapLogger.Error("Failed to stop matching engine", zap.Error(err))
	}
	settler.Stop()
}
