package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RegistryEventType identifies the kind of registry event
type RegistryEventType string

const (
	EventTicketIssued      RegistryEventType = "ticket.issued"
	EventTicketTransferred RegistryEventType = "ticket.transferred"
	EventTicketListed      RegistryEventType = "ticket.listed"
	EventTicketSold        RegistryEventType = "ticket.sold"
)

// TicketIssued is emitted when a ticket is created
type TicketIssued struct {
	TicketID TicketID  `json:"ticket_id"`
	Owner    AccountID `json:"owner"`
}

// TicketTransferred is emitted when an owner gives a ticket away
type TicketTransferred struct {
	TicketID TicketID  `json:"ticket_id"`
	From     AccountID `json:"from"`
	To       AccountID `json:"to"`
}

// TicketListed is emitted when a ticket is listed or re-priced
type TicketListed struct {
	TicketID TicketID `json:"ticket_id"`
	Price    uint64   `json:"price"`
}

// TicketSold is emitted when a purchase settles
type TicketSold struct {
	TicketID TicketID  `json:"ticket_id"`
	Buyer    AccountID `json:"buyer"`
	Price    uint64    `json:"price"`
}

// RegistryEvent is the envelope recorded in the event log and published to Kafka.
// Sequence is assigned by the store on commit.
type RegistryEvent struct {
	Sequence   uint64            `json:"sequence"`
	EventID    string            `json:"event_id"`
	Type       RegistryEventType `json:"event_type"`
	TicketID   TicketID          `json:"ticket_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    json.RawMessage   `json:"payload"`
}

// Key returns the partition key; events of one ticket stay ordered
func (e *RegistryEvent) Key() string {
	return e.TicketID.String()
}

// DecodePayload unmarshals the payload into v
func (e *RegistryEvent) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

func newRegistryEvent(t RegistryEventType, id TicketID, payload any) *RegistryEvent {
	// payloads are plain structs of strings and integers
	raw, _ := json.Marshal(payload)
	return &RegistryEvent{
		EventID:    uuid.NewString(),
		Type:       t,
		TicketID:   id,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}
}

func NewTicketIssuedEvent(id TicketID, owner AccountID) *RegistryEvent {
	return newRegistryEvent(EventTicketIssued, id, TicketIssued{TicketID: id, Owner: owner})
}

func NewTicketTransferredEvent(id TicketID, from, to AccountID) *RegistryEvent {
	return newRegistryEvent(EventTicketTransferred, id, TicketTransferred{TicketID: id, From: from, To: to})
}

func NewTicketListedEvent(id TicketID, price uint64) *RegistryEvent {
	return newRegistryEvent(EventTicketListed, id, TicketListed{TicketID: id, Price: price})
}

func NewTicketSoldEvent(id TicketID, buyer AccountID, price uint64) *RegistryEvent {
	return newRegistryEvent(EventTicketSold, id, TicketSold{TicketID: id, Buyer: buyer, Price: price})
}
