package di

import (
	"github.com/prohmpiriya/ticket-registry/internal/gateway"
	"github.com/prohmpiriya/ticket-registry/internal/handler"
	"github.com/prohmpiriya/ticket-registry/internal/repository"
	"github.com/prohmpiriya/ticket-registry/internal/service"
	"github.com/prohmpiriya/ticket-registry/internal/worker"
	"github.com/prohmpiriya/ticket-registry/pkg/database"
	"github.com/prohmpiriya/ticket-registry/pkg/logger"
	"github.com/prohmpiriya/ticket-registry/pkg/redis"
)

// Container holds all dependencies for the registry service
type Container struct {
	// Infrastructure
	DB     *database.PostgresDB
	Redis  *redis.Client
	Logger *logger.Logger

	// Repositories
	Store repository.Store

	// Collaborators
	Gateway        gateway.PaymentGateway
	EventPublisher service.EventPublisher

	// Services
	RegistryService service.RegistryService

	// Workers
	EventRelay *worker.EventRelay

	// Handlers
	HealthHandler   *handler.HealthHandler
	RegistryHandler *handler.RegistryHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	DB             *database.PostgresDB
	Redis          *redis.Client
	Logger         *logger.Logger
	Store          repository.Store
	Gateway        gateway.PaymentGateway
	EventPublisher service.EventPublisher
	ServiceConfig  *service.RegistryServiceConfig
	RelayConfig    *worker.EventRelayConfig
}

// NewContainer creates a new dependency injection container.
// The event relay is built only when an event publisher is configured.
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		DB:             cfg.DB,
		Redis:          cfg.Redis,
		Logger:         cfg.Logger,
		Store:          cfg.Store,
		Gateway:        cfg.Gateway,
		EventPublisher: cfg.EventPublisher,
	}
	if c.Logger == nil {
		c.Logger = logger.Get()
	}

	// Initialize services
	c.RegistryService = service.NewRegistryService(
		c.Store,
		c.Gateway,
		c.Logger,
		cfg.ServiceConfig,
	)

	// Initialize workers
	if c.EventPublisher != nil {
		c.EventRelay = worker.NewEventRelay(c.Store, c.EventPublisher, cfg.RelayConfig, c.Logger)
	}

	// Initialize handlers
	components := map[string]handler.HealthChecker{
		"database": nil,
		"redis":    nil,
	}
	if c.DB != nil {
		components["database"] = c.DB
	}
	if c.Redis != nil {
		components["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(components)
	c.RegistryHandler = handler.NewRegistryHandler(c.RegistryService)

	return c
}
