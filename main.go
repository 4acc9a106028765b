package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-registry/internal/di"
	"github.com/prohmpiriya/ticket-registry/internal/gateway"
	"github.com/prohmpiriya/ticket-registry/internal/metrics"
	"github.com/prohmpiriya/ticket-registry/internal/repository"
	"github.com/prohmpiriya/ticket-registry/internal/service"
	"github.com/prohmpiriya/ticket-registry/internal/worker"
	"github.com/prohmpiriya/ticket-registry/pkg/config"
	"github.com/prohmpiriya/ticket-registry/pkg/database"
	"github.com/prohmpiriya/ticket-registry/pkg/logger"
	"github.com/prohmpiriya/ticket-registry/pkg/middleware"
	pkgredis "github.com/prohmpiriya/ticket-registry/pkg/redis"
	"github.com/prohmpiriya/ticket-registry/pkg/telemetry"
)

const serviceName = "ticket-registry"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Ticket Registry...")

	ctx := context.Background()

	// Initialize telemetry
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
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

	// Initialize registry store
	var db *database.PostgresDB
	var store repository.Store
	switch cfg.Registry.Store {
	case "postgres":
		if err := cfg.ValidateDatabase(); err != nil {
			appLog.Fatal(fmt.Sprintf("Invalid database config: %v", err))
		}
		dbCfg := &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  5 * time.Second,
			MaxRetries:      3,
			RetryInterval:   time.Second,
			EnableTracing:   cfg.OTel.Enabled,
		}
		db, err = database.NewPostgres(ctx, dbCfg)
		if err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to connect to database: %v", err))
		}
		defer db.Close()

		pgStore := repository.NewPostgresRegistryStore(db.Pool())
		if err := pgStore.EnsureSchema(ctx); err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to apply schema: %v", err))
		}
		store = pgStore
		appLog.Info(fmt.Sprintf("Using PostgreSQL registry store (pool: min=%d, max=%d)", dbCfg.MinConns, dbCfg.MaxConns))
	default:
		store = repository.NewMemoryRegistryStore()
		appLog.Warn("Using in-memory registry store (data will not persist)")
	}

	// Initialize Redis connection
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisCfg := &pkgredis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
			EnableTracing: cfg.OTel.Enabled,
		}
		redisClient, err = pkgredis.NewClient(ctx, redisCfg)
		if err != nil {
			appLog.Warn(fmt.Sprintf("Redis connection failed, idempotency disabled: %v", err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			appLog.Info(fmt.Sprintf("Redis connected (pool: %d, minIdle: %d)", redisCfg.PoolSize, redisCfg.MinIdleConns))
		}
	}

	// Initialize payment gateway
	paymentGateway, err := gateway.NewPaymentGateway(cfg.Payment.Gateway, &gateway.GatewayConfig{
		SecretKey:      cfg.Payment.StripeSecret,
		Environment:    cfg.App.Environment,
		OpeningBalance: cfg.Payment.OpeningBalance,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to create payment gateway: %v", err))
	}
	appLog.Info("Payment gateway ready", zap.String("gateway", paymentGateway.Name()))

	// Initialize event publisher
	var publisher service.EventPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Registry.EventsTopic,
			ServiceName: serviceName,
			ClientID:    cfg.Kafka.ClientID,
		})
		if err != nil {
			appLog.Warn(fmt.Sprintf("Kafka publisher unavailable, events stay in the log: %v", err))
		} else {
			publisher = kafkaPublisher
			appLog.Info(fmt.Sprintf("Relaying registry events to topic %s", cfg.Registry.EventsTopic))
		}
	}

	policy := service.KeepListingOnTransfer
	if cfg.Registry.ClearListingOnTransfer {
		policy = service.ClearListingOnTransfer
	}

	relayCfg := worker.DefaultEventRelayConfig()
	relayCfg.PollInterval = cfg.Registry.RelayInterval
	relayCfg.BatchSize = cfg.Registry.RelayBatchSize

	// Build dependency injection container
	container := di.NewContainer(&di.ContainerConfig{
		DB:             db,
		Redis:          redisClient,
		Logger:         appLog,
		Store:          store,
		Gateway:        paymentGateway,
		EventPublisher: publisher,
		ServiceConfig: &service.RegistryServiceConfig{
			ListingPolicy: policy,
			Currency:      cfg.Payment.Currency,
		},
		RelayConfig: relayCfg,
	})
	appLog.Info("Registry service ready", zap.String("listing_policy", policy.String()))

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	if container.EventRelay != nil {
		if err := container.EventRelay.Start(relayCtx); err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to start event relay: %v", err))
		}
	}

	// Setup Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Apply middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(telemetry.TracingMiddleware(serviceName))
	router.Use(middleware.Logger(appLog))

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	auth := middleware.JWTMiddleware(&middleware.JWTConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
	})

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"version": cfg.App.Version,
				"service": serviceName,
				"gateway": paymentGateway.Name(),
			})
		})

		tickets := v1.Group("/tickets")
		{
			// Read operations
			tickets.GET("/:id", container.RegistryHandler.Get)
			tickets.GET("/:id/verify", container.RegistryHandler.Verify)
			tickets.GET("/:id/price", container.RegistryHandler.GetPrice)

			// Write operations act on behalf of the token subject
			tickets.POST("", auth, container.RegistryHandler.Issue)
			tickets.POST("/:id/transfer", auth, container.RegistryHandler.Transfer)
			tickets.POST("/:id/listing", auth, container.RegistryHandler.List)
			if redisClient != nil {
				idempotency := middleware.IdempotencyMiddleware(&middleware.IdempotencyConfig{
					Redis:    redisClient.Client(),
					Required: true,
				})
				tickets.POST("/:id/buy", auth, idempotency, container.RegistryHandler.Buy)
			} else {
				tickets.POST("/:id/buy", auth, container.RegistryHandler.Buy)
			}
		}

		v1.GET("/accounts/:account/tickets", container.RegistryHandler.GetUserTickets)
		v1.GET("/events", container.RegistryHandler.ListEvents)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Ticket Registry listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	if container.EventRelay != nil {
		container.EventRelay.Stop()
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			appLog.Warn(fmt.Sprintf("Failed to close event publisher: %v", err))
		}
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn(fmt.Sprintf("Telemetry shutdown failed: %v", err))
	}

	appLog.Info("Server exited gracefully")
}
