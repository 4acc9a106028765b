package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prohmpiriya/ticket-registry/internal/metrics"
	"github.com/prohmpiriya/ticket-registry/internal/repository"
	"github.com/prohmpiriya/ticket-registry/internal/service"
	"github.com/prohmpiriya/ticket-registry/internal/worker"
	"github.com/prohmpiriya/ticket-registry/pkg/config"
	"github.com/prohmpiriya/ticket-registry/pkg/database"
	"github.com/prohmpiriya/ticket-registry/pkg/logger"
	"github.com/prohmpiriya/ticket-registry/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "event-relay",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Registry Event Relay...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "event-relay",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
		MetricInterval: cfg.OTel.MetricInterval,
	}); err != nil {
		appLog.Warn(fmt.Sprintf("Telemetry initialization failed: %v", err))
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn(fmt.Sprintf("Metrics initialization failed: %v", err))
	}

	// Standalone relay reads the postgres event log
	if err := cfg.ValidateDatabase(); err != nil {
		appLog.Fatal(fmt.Sprintf("Invalid database config: %v", err))
	}
	if len(cfg.Kafka.Brokers) == 0 {
		appLog.Fatal("KAFKA_BROKERS is required")
	}

	// Initialize database connection
	dbCfg := &database.PostgresConfig{
		Host:          cfg.Database.Host,
		Port:          cfg.Database.Port,
		User:          cfg.Database.User,
		Password:      cfg.Database.Password,
		Database:      cfg.Database.DBName,
		SSLMode:       cfg.Database.SSLMode,
		MaxConns:      5,
		MinConns:      1,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		EnableTracing: cfg.OTel.Enabled,
	}
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to database: %v", err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	store := repository.NewPostgresRegistryStore(db.Pool())
	if err := store.EnsureSchema(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to apply schema: %v", err))
	}

	// Initialize Kafka publisher
	publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Registry.EventsTopic,
		ServiceName: "ticket-registry",
		ClientID:    cfg.Kafka.ClientID + "-relay",
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to create Kafka publisher: %v", err))
	}
	defer publisher.Close()
	appLog.Info("Kafka publisher connected")

	relayCfg := worker.DefaultEventRelayConfig()
	relayCfg.PollInterval = cfg.Registry.RelayInterval
	relayCfg.BatchSize = cfg.Registry.RelayBatchSize

	relay := worker.NewEventRelay(store, publisher, relayCfg, appLog)
	if err := relay.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start event relay: %v", err))
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down event relay...")
	relay.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn(fmt.Sprintf("Telemetry shutdown failed: %v", err))
	}

	appLog.Info("Event relay stopped")
}
