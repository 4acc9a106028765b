package dto

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/prohmpiriya/ticket-registry/internal/domain"
)

// IssueTicketRequest represents the request to issue a new ticket
type IssueTicketRequest struct {
	EventName      string `json:"event_name" binding:"required,max=255"`
	ExpirationDate int64  `json:"expiration_date"`
}

// Validate validates the IssueTicketRequest
func (r *IssueTicketRequest) Validate() (bool, string) {
	if strings.TrimSpace(r.EventName) == "" {
		return false, "Event name is required"
	}
	return true, ""
}

// IssueTicketResponse is returned after a ticket is issued
type IssueTicketResponse struct {
	TicketID domain.TicketID `json:"ticket_id"`
}

// TransferTicketRequest represents the request to give a ticket to another account
type TransferTicketRequest struct {
	To string `json:"to" binding:"required"`
}

// Validate validates the TransferTicketRequest
func (r *TransferTicketRequest) Validate() (bool, string) {
	if strings.TrimSpace(r.To) == "" {
		return false, "Recipient account is required"
	}
	return true, ""
}

// ListTicketRequest represents the request to list a ticket for sale
type ListTicketRequest struct {
	Price *uint64 `json:"price" binding:"required"`
}

// BuyTicketRequest represents the request to buy a listed ticket
type BuyTicketRequest struct {
	Payment *uint64 `json:"payment" binding:"required"`
}

// TicketResponse represents a ticket in API responses
type TicketResponse struct {
	TicketID       domain.TicketID  `json:"ticket_id"`
	EventName      string           `json:"event_name"`
	ExpirationDate int64            `json:"expiration_date"`
	Owner          domain.AccountID `json:"owner"`
}

// VerifyTicketResponse reports whether a ticket exists
type VerifyTicketResponse struct {
	TicketID domain.TicketID `json:"ticket_id"`
	Valid    bool            `json:"valid"`
}

// TicketPriceResponse carries the asking price of a listed ticket
type TicketPriceResponse struct {
	TicketID domain.TicketID `json:"ticket_id"`
	Price    uint64          `json:"price"`
}

// UserTicketsResponse lists the tickets owned by an account
type UserTicketsResponse struct {
	Account   domain.AccountID  `json:"account"`
	TicketIDs []domain.TicketID `json:"ticket_ids"`
}

// TicketActionResponse acknowledges a transfer or listing
type TicketActionResponse struct {
	TicketID domain.TicketID  `json:"ticket_id"`
	Owner    domain.AccountID `json:"owner,omitempty"`
	Price    *uint64          `json:"price,omitempty"`
}

// SaleResponse describes a settled purchase
type SaleResponse struct {
	TicketID   domain.TicketID  `json:"ticket_id"`
	Seller     domain.AccountID `json:"seller"`
	Buyer      domain.AccountID `json:"buyer"`
	Price      uint64           `json:"price"`
	PaymentRef string           `json:"payment_ref,omitempty"`
}

// EventListFilter pages through the registry event log
type EventListFilter struct {
	After uint64 `form:"after"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// SetDefaults sets default values for the filter
func (f *EventListFilter) SetDefaults() {
	if f.Limit <= 0 {
		f.Limit = 100
	}
}

// RegistryEventResponse represents a registry event in API responses
type RegistryEventResponse struct {
	Sequence   uint64                   `json:"sequence"`
	EventID    string                   `json:"event_id"`
	EventType  domain.RegistryEventType `json:"event_type"`
	TicketID   domain.TicketID          `json:"ticket_id"`
	OccurredAt time.Time                `json:"occurred_at"`
	Payload    json.RawMessage          `json:"payload"`
}
