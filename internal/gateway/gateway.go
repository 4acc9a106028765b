package gateway

import (
	"context"
	"errors"
	"time"
)

// PaymentGateway moves value between two accounts
type PaymentGateway interface {
	// Transfer moves req.Amount from req.From to req.To atomically
	Transfer(ctx context.Context, req *TransferRequest) (*TransferReceipt, error)

	// Refund reverses a completed transfer
	Refund(ctx context.Context, receipt *TransferReceipt) error

	// Name returns the gateway name
	Name() string
}

// TransferRequest represents a value transfer between two accounts
type TransferRequest struct {
	From      string
	To        string
	Amount    uint64
	Currency  string
	Reference string
	// IdempotencyKey makes a repeated request return the original receipt instead of moving funds again
	IdempotencyKey string
	Metadata       map[string]string
}

// TransferReceipt describes a settled transfer
type TransferReceipt struct {
	TransactionID string
	From          string
	To            string
	Amount        uint64
	Currency      string
	Status        string
	CreatedAt     time.Time
	Metadata      map[string]string
}

// Transfer statuses
const (
	StatusCompleted = "completed"
	StatusRefunded  = "refunded"
)

// GatewayConfig holds common gateway configuration
type GatewayConfig struct {
	SecretKey      string
	Environment    string // "test" or "live"
	OpeningBalance uint64
}

// Gateway errors
var (
	ErrInvalidTransfer     = errors.New("invalid transfer request")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTransferDeclined    = errors.New("transfer declined")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyRefunded     = errors.New("transaction already refunded")
)

func validateRequest(req *TransferRequest) error {
	if req == nil {
		return ErrInvalidTransfer
	}
	if req.From == "" || req.To == "" {
		return ErrInvalidTransfer
	}
	return nil
}
