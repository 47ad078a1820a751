package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/profile-ledger/internal/anticheat"
	"github.com/profile-ledger/internal/auth"
	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
	"github.com/profile-ledger/internal/handler"
	"github.com/profile-ledger/internal/identity"
	"github.com/profile-ledger/internal/kafka"
	"github.com/profile-ledger/internal/kv"
	"github.com/profile-ledger/internal/leaderboard"
	"github.com/profile-ledger/internal/ledger"
	"github.com/profile-ledger/internal/postgres"
	"github.com/profile-ledger/internal/provider"
	"github.com/profile-ledger/internal/websocket"
	"github.com/profile-ledger/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := domain.RealClock{}

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	store, err := kv.New(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("connected to Redis")

	// Initialize PostgreSQL archive
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	archiveRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer archiveRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := archiveRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize core services
	boards := leaderboard.NewStore(store, &cfg.Leaderboard, clock, logger)
	validator := anticheat.NewValidator(&cfg.Progression)
	sigCheck := anticheat.NewSignatureCheck(&cfg.Auth)

	policy := identity.NewAllowListPolicy(cfg.Identity.AllowList)
	resolver := identity.NewResolver(store, &cfg.Identity, policy, clock, logger)

	ledgerService := ledger.NewService(
		store,
		boards,
		validator,
		&cfg.Progression,
		&cfg.Leaderboard,
		clock,
		logger,
	)
	ledgerService.SetHub(wsHub)
	ledgerService.SetArchive(archiveRepo)

	// Initialize archive worker
	archiver := worker.NewArchiver(store, boards, archiveRepo, &cfg.Archive, clock, logger)
	if cfg.Archive.Enabled {
		if err := archiver.Start(ctx); err != nil {
			logger.Error("failed to start archive worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for bulk sync ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, ledgerService, sigCheck, clock, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Provider clients and admin auth
	providers := provider.NewRegistry(cfg.Identity.ProviderBaseURLs, logger)
	admin := auth.NewAdmin(cfg.Auth.AdminJWTSecret, clock)
	if !admin.Enabled() {
		logger.Warn("admin JWT secret not configured, admin API disabled")
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(
		resolver,
		ledgerService,
		boards,
		providers,
		admin,
		sigCheck,
		archiveRepo,
		wsHub,
		clock,
		&cfg.Leaderboard,
		logger,
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop archive worker
	if err := archiver.Stop(); err != nil {
		logger.Error("failed to stop archive worker", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
