package service

import (
	"context"

	"github.com/prohmpiriya/ticket-registry/internal/domain"
)

// RegistryService defines the interface for ticket registry business logic
type RegistryService interface {
	// IssueTicket creates a ticket owned by the caller and returns its id
	IssueTicket(ctx context.Context, caller domain.AccountID, eventName string, expirationDate int64) (domain.TicketID, error)

	// TransferTicket gives a ticket owned by the caller to another account
	TransferTicket(ctx context.Context, caller domain.AccountID, id domain.TicketID, to domain.AccountID) error

	// ListTicket offers a ticket owned by the caller for sale at a fixed price
	ListTicket(ctx context.Context, caller domain.AccountID, id domain.TicketID, price uint64) error

	// BuyTicket purchases a listed ticket, settling payment through the gateway
	BuyTicket(ctx context.Context, caller domain.AccountID, id domain.TicketID, payment uint64) (*domain.Sale, error)

	// VerifyTicket reports whether a ticket exists
	VerifyTicket(ctx context.Context, id domain.TicketID) (bool, error)

	// GetTicket retrieves a ticket, nil when absent
	GetTicket(ctx context.Context, id domain.TicketID) (*domain.Ticket, error)

	// GetUserTickets returns the ticket ids owned by an account
	GetUserTickets(ctx context.Context, account domain.AccountID) ([]domain.TicketID, error)

	// GetTicketPrice returns the asking price, nil when not listed
	GetTicketPrice(ctx context.Context, id domain.TicketID) (*uint64, error)

	// ListEvents pages through the committed event log
	ListEvents(ctx context.Context, after uint64, limit int) ([]*domain.RegistryEvent, error)
}
