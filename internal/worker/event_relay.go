package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-registry/internal/domain"
	"github.com/prohmpiriya/ticket-registry/internal/metrics"
	"github.com/prohmpiriya/ticket-registry/internal/repository"
	"github.com/prohmpiriya/ticket-registry/internal/service"
	"github.com/prohmpiriya/ticket-registry/pkg/logger"
	"github.com/prohmpiriya/ticket-registry/pkg/retry"
)

// EventRelayConfig contains configuration for the event relay
type EventRelayConfig struct {
	// PollInterval is the interval between polling for unpublished events
	PollInterval time.Duration
	// BatchSize is the number of events fetched per poll
	BatchSize int
	// Retry controls backoff when publishing a single event
	Retry *retry.Config
}

// DefaultEventRelayConfig returns default configuration
func DefaultEventRelayConfig() *EventRelayConfig {
	return &EventRelayConfig{
		PollInterval: time.Second,
		BatchSize:    100,
		Retry: &retry.Config{
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	}
}

// EventRelay publishes committed registry events from the store's event log.
// Events go out in sequence order; a batch stops at the first event that
// cannot be published and resumes from it on the next poll.
type EventRelay struct {
	log       repository.EventLog
	publisher service.EventPublisher
	config    *EventRelayConfig
	retrier   *retry.Retrier
	logger    *logger.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// NewEventRelay creates a new event relay
func NewEventRelay(eventLog repository.EventLog, publisher service.EventPublisher, config *EventRelayConfig, log *logger.Logger) *EventRelay {
	defaults := DefaultEventRelayConfig()
	if config == nil {
		config = defaults
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Retry == nil {
		config.Retry = defaults.Retry
	}
	if log == nil {
		log = logger.Get()
	}

	return &EventRelay{
		log:       eventLog,
		publisher: publisher,
		config:    config,
		retrier:   retry.New(config.Retry),
		logger:    log,
	}
}

// Start starts the relay loop
func (r *EventRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("event relay already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Info("Starting event relay",
		zap.Duration("poll_interval", r.config.PollInterval),
		zap.Int("batch_size", r.config.BatchSize),
	)

	go r.poll(ctx, stopCh)

	return nil
}

// Stop stops the relay loop and waits for the current batch
func (r *EventRelay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.logger.Info("Stopping event relay")
	r.wg.Wait()
	r.logger.Info("Event relay stopped")
}

// IsRunning reports whether the relay loop is active
func (r *EventRelay) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *EventRelay) poll(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			// drain backlogs without waiting for the next tick
			for {
				n, err := r.RelayOnce(ctx)
				if err != nil {
					r.logger.Error("Event relay batch failed", zap.Error(err))
				}
				if err != nil || n < r.config.BatchSize {
					break
				}
				select {
				case <-ctx.Done():
					return
				case <-stopCh:
					return
				default:
				}
			}
		}
	}
}

// RelayOnce publishes one batch of unpublished events and returns how many were published.
// When another relay holds the claim on the event log it publishes nothing.
func (r *EventRelay) RelayOnce(ctx context.Context) (int, error) {
	var (
		published  []uint64
		publishErr error
	)
	claimed, err := r.log.ClaimUnpublished(ctx, r.config.BatchSize, func(ctx context.Context, events []*domain.RegistryEvent) []uint64 {
		published, publishErr = r.publishBatch(ctx, events)
		return published
	})
	if err != nil {
		return 0, fmt.Errorf("failed to relay event batch: %w", err)
	}
	if !claimed {
		r.logger.Debug("Event log claimed by another relay")
		return 0, nil
	}
	if len(published) > 0 {
		r.logger.Debug("Relayed registry events", zap.Int("count", len(published)))
	}
	return len(published), publishErr
}

// publishBatch publishes events in order and stops at the first one that fails
func (r *EventRelay) publishBatch(ctx context.Context, events []*domain.RegistryEvent) ([]uint64, error) {
	metrics.RecordRelayBatch(ctx, len(events), false)
	defer metrics.RecordRelayBatch(ctx, len(events), true)

	published := make([]uint64, 0, len(events))
	for _, event := range events {
		result := r.retrier.Do(ctx, func(ctx context.Context) error {
			return r.publisher.Publish(ctx, event)
		}, func(attempt int, err error, next time.Duration) {
			r.logger.Warn("Retrying event publish",
				zap.Uint64("sequence", event.Sequence),
				zap.String("event_type", string(event.Type)),
				zap.Int("attempt", attempt),
				zap.Duration("next_interval", next),
				zap.Error(err),
			)
		})
		if result.Err != nil {
			metrics.RecordEventPublishFailed(ctx, string(event.Type))
			cause := result.LastError
			if cause == nil {
				cause = result.Err
			}
			return published, fmt.Errorf("failed to publish event %d after %d attempts: %w", event.Sequence, result.Attempts, cause)
		}
		metrics.RecordEventPublished(ctx, string(event.Type))
		published = append(published, event.Sequence)
	}
	return published, nil
}
