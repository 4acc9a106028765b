package repository

import (
	"context"

	"github.com/prohmpiriya/ticket-registry/internal/domain"
)

// RegistryStore is the transactional substrate holding tickets, owner index,
// listings, the id counter and the event log.
type RegistryStore interface {
	// WithTx runs fn in a serialized read-write transaction.
	// All writes commit together when fn returns nil; any error discards them.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx RegistryTx) error) error
	// View runs fn against a consistent snapshot of committed state
	View(ctx context.Context, fn func(ctx context.Context, r RegistryReader) error) error
	// Close releases store resources
	Close() error
}

// RegistryReader exposes read access. Absent rows return nil without error.
type RegistryReader interface {
	// GetTicket retrieves a ticket by ID
	GetTicket(ctx context.Context, id domain.TicketID) (*domain.Ticket, error)
	// ListOwnerTickets returns an owner's ticket ids in insertion order
	ListOwnerTickets(ctx context.Context, owner domain.AccountID) ([]domain.TicketID, error)
	// GetListing retrieves the active listing of a ticket
	GetListing(ctx context.Context, id domain.TicketID) (*domain.Listing, error)
}

// RegistryTx is the write view of an open transaction
type RegistryTx interface {
	RegistryReader
	// AllocateTicketID returns the next id and advances the counter, saturating at max uint64.
	// Returns domain.ErrTicketIDsExhausted once the last id has been issued.
	AllocateTicketID(ctx context.Context) (domain.TicketID, error)
	// PutTicket inserts or replaces a ticket
	PutTicket(ctx context.Context, ticket *domain.Ticket) error
	// AddOwnerTicket appends id to the owner's set
	AddOwnerTicket(ctx context.Context, owner domain.AccountID, id domain.TicketID) error
	// RemoveOwnerTicket removes id from the owner's set
	RemoveOwnerTicket(ctx context.Context, owner domain.AccountID, id domain.TicketID) error
	// PutListing inserts or replaces a listing
	PutListing(ctx context.Context, listing *domain.Listing) error
	// DeleteListing removes a listing if present
	DeleteListing(ctx context.Context, id domain.TicketID) error
	// AppendEvent records an event; its sequence is assigned on commit
	AppendEvent(ctx context.Context, event *domain.RegistryEvent) error
}

// EventLog reads the committed event log and tracks relay progress
type EventLog interface {
	// ListEvents returns committed events with sequence > after, oldest first
	ListEvents(ctx context.Context, after uint64, limit int) ([]*domain.RegistryEvent, error)
	// ListUnpublished returns committed events not yet relayed, oldest first
	ListUnpublished(ctx context.Context, limit int) ([]*domain.RegistryEvent, error)
	// MarkPublished flags events as relayed
	MarkPublished(ctx context.Context, sequences []uint64) error
	// HasEvent reports whether an event with the given id has been committed
	HasEvent(ctx context.Context, eventID string) (bool, error)
	// ClaimUnpublished takes the single relay claim on the log and passes up to
	// limit unpublished events to fn, oldest first. The sequences fn returns are
	// marked published before the claim is released. Returns false without
	// calling fn when another relay holds the claim.
	ClaimUnpublished(ctx context.Context, limit int, fn func(ctx context.Context, events []*domain.RegistryEvent) []uint64) (bool, error)
}

// Store is implemented by every registry backend
type Store interface {
	RegistryStore
	EventLog
}
