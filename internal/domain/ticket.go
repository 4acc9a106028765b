package domain

import (
	"strconv"
	"strings"
)

// MaxEventNameLength bounds Ticket.EventName
const MaxEventNameLength = 255

// TicketID identifies a ticket. Ids are assigned sequentially from 0.
type TicketID uint64

// String returns the decimal form used in URLs and message keys
func (id TicketID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseTicketID parses a decimal ticket id
func ParseTicketID(s string) (TicketID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, ErrInvalidTicketID
	}
	return TicketID(v), nil
}

// AccountID is an opaque, already-authenticated account identifier
type AccountID string

// Validate rejects empty account ids
func (a AccountID) Validate() error {
	if strings.TrimSpace(string(a)) == "" {
		return ErrInvalidAccount
	}
	return nil
}

// Ticket is an owned admission right for a named event.
// ExpirationDate is unix seconds; it is stored and returned but never enforced.
type Ticket struct {
	ID             TicketID  `json:"id"`
	EventName      string    `json:"event_name"`
	ExpirationDate int64     `json:"expiration_date"`
	Owner          AccountID `json:"owner"`
}

// Listing marks a ticket as for sale at a fixed price
type Listing struct {
	TicketID TicketID `json:"ticket_id"`
	Price    uint64   `json:"price"`
}

// Sale describes a settled purchase
type Sale struct {
	TicketID   TicketID  `json:"ticket_id"`
	Seller     AccountID `json:"seller"`
	Buyer      AccountID `json:"buyer"`
	Price      uint64    `json:"price"`
	PaymentRef string    `json:"payment_ref,omitempty"`
}

// ValidateEventName checks the event name given at issuance
func ValidateEventName(name string) error {
	if strings.TrimSpace(name) == "" || len(name) > MaxEventNameLength {
		return ErrInvalidEventName
	}
	return nil
}
