package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prohmpiriya/ticket-registry/internal/domain"
	"github.com/prohmpiriya/ticket-registry/pkg/kafka"
)

// MockProducer records produced messages
type MockProducer struct {
	mu       sync.Mutex
	messages []*kafka.Message
	err      error
	closed   bool
}

func (m *MockProducer) Produce(ctx context.Context, msg *kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MockProducer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func TestKafkaEventPublisher_Publish(t *testing.T) {
	producer := &MockProducer{}
	publisher := NewKafkaEventPublisherWithProducer(producer, "", "")

	event := domain.NewTicketSoldEvent(42, "bob", 1000)
	event.Sequence = 7

	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(producer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(producer.messages))
	}

	msg := producer.messages[0]
	if msg.Topic != "ticket-registry-events" {
		t.Errorf("expected default topic, got %s", msg.Topic)
	}
	if string(msg.Key) != "42" {
		t.Errorf("expected key 42, got %s", msg.Key)
	}
	if msg.Headers["event_type"] != "ticket.sold" {
		t.Errorf("unexpected event_type header %q", msg.Headers["event_type"])
	}
	if msg.Headers["event_id"] != event.EventID {
		t.Errorf("unexpected event_id header %q", msg.Headers["event_id"])
	}
	if msg.Headers["sequence"] != "7" {
		t.Errorf("unexpected sequence header %q", msg.Headers["sequence"])
	}
	if msg.Headers["source"] != "ticket-registry" {
		t.Errorf("unexpected source header %q", msg.Headers["source"])
	}

	var decoded domain.RegistryEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	var sold domain.TicketSold
	if err := decoded.DecodePayload(&sold); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if sold.Buyer != "bob" || sold.Price != 1000 {
		t.Errorf("unexpected payload %+v", sold)
	}
}

func TestKafkaEventPublisher_PublishError(t *testing.T) {
	brokerDown := errors.New("broker down")
	publisher := NewKafkaEventPublisherWithProducer(&MockProducer{err: brokerDown}, "events", "svc")

	err := publisher.Publish(context.Background(), domain.NewTicketIssuedEvent(1, "alice"))
	if !errors.Is(err, brokerDown) {
		t.Fatalf("expected wrapped producer error, got %v", err)
	}
}

func TestKafkaEventPublisher_Close(t *testing.T) {
	producer := &MockProducer{}
	publisher := NewKafkaEventPublisherWithProducer(producer, "events", "svc")

	if err := publisher.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !producer.closed {
		t.Error("expected producer to be closed")
	}
}

func TestNewKafkaEventPublisher_Validation(t *testing.T) {
	if _, err := NewKafkaEventPublisher(context.Background(), nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewKafkaEventPublisher(context.Background(), &EventPublisherConfig{}); err == nil {
		t.Error("expected error for missing brokers")
	}
}

func TestNoOpEventPublisher(t *testing.T) {
	p := NewNoOpEventPublisher()
	if err := p.Publish(context.Background(), domain.NewTicketIssuedEvent(0, "a")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
