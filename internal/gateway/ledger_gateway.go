package gateway

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LedgerGateway settles transfers against an in-process ledger of balances.
// Accounts seen for the first time start with the opening balance.
type LedgerGateway struct {
	config       *LedgerGatewayConfig
	transactions sync.Map
	mu           sync.Mutex
	balances     map[string]uint64
	idempotency  map[string]string // idempotency key -> transaction ID
	failNext     error
}

// LedgerGatewayConfig holds configuration for the ledger gateway
type LedgerGatewayConfig struct {
	// OpeningBalance is credited to an account on first use
	OpeningBalance uint64

	// SuccessRate is the probability of a transfer being accepted (0.0 to 1.0)
	SuccessRate float64

	// DelayMs is the simulated settlement delay in milliseconds
	DelayMs int
}

// DefaultLedgerGatewayConfig returns default configuration
func DefaultLedgerGatewayConfig() *LedgerGatewayConfig {
	return &LedgerGatewayConfig{
		OpeningBalance: 1_000_000,
		SuccessRate:    1.0,
	}
}

// NewLedgerGateway creates a new ledger gateway
func NewLedgerGateway(config *LedgerGatewayConfig) *LedgerGateway {
	if config == nil {
		config = DefaultLedgerGatewayConfig()
	}
	if config.SuccessRate < 0 {
		config.SuccessRate = 0
	}
	if config.SuccessRate > 1 {
		config.SuccessRate = 1
	}

	return &LedgerGateway{
		config:      config,
		balances:    make(map[string]uint64),
		idempotency: make(map[string]string),
	}
}

// Transfer debits From and credits To
func (g *LedgerGateway) Transfer(ctx context.Context, req *TransferRequest) (*TransferReceipt, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if req.IdempotencyKey != "" {
		if txnID, ok := g.idempotency[req.IdempotencyKey]; ok {
			txn, _ := g.transactions.Load(txnID)
			cp := *txn.(*TransferReceipt)
			return &cp, nil
		}
	}

	if err := g.failNext; err != nil {
		g.failNext = nil
		return nil, err
	}
	if g.config.SuccessRate < 1 && rand.Float64() >= g.config.SuccessRate {
		return nil, ErrTransferDeclined
	}

	from := g.balanceLocked(req.From)
	if from < req.Amount {
		return nil, fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, req.From, from, req.Amount)
	}
	if req.From != req.To {
		to := g.balanceLocked(req.To)
		if to > math.MaxUint64-req.Amount {
			return nil, fmt.Errorf("%w: balance overflow for %s", ErrTransferDeclined, req.To)
		}
		g.balances[req.From] = from - req.Amount
		g.balances[req.To] = to + req.Amount
	}

	receipt := &TransferReceipt{
		TransactionID: fmt.Sprintf("ledger_txn_%s", uuid.New().String()[:8]),
		From:          req.From,
		To:            req.To,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        StatusCompleted,
		CreatedAt:     time.Now(),
		Metadata:      req.Metadata,
	}
	stored := *receipt
	g.transactions.Store(receipt.TransactionID, &stored)
	if req.IdempotencyKey != "" {
		g.idempotency[req.IdempotencyKey] = receipt.TransactionID
	}

	return receipt, nil
}

// Refund moves the amount of a completed transfer back to its payer
func (g *LedgerGateway) Refund(ctx context.Context, receipt *TransferReceipt) error {
	if receipt == nil || receipt.TransactionID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	if err := g.wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	txn, ok := g.transactions.Load(receipt.TransactionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, receipt.TransactionID)
	}
	info := txn.(*TransferReceipt)
	if info.Status == StatusRefunded {
		return ErrAlreadyRefunded
	}

	if info.From != info.To {
		to := g.balanceLocked(info.To)
		if to < info.Amount {
			return fmt.Errorf("%w: payee %s cannot cover refund", ErrInsufficientFunds, info.To)
		}
		g.balances[info.To] = to - info.Amount
		g.balances[info.From] = g.balanceLocked(info.From) + info.Amount
	}

	info.Status = StatusRefunded
	return nil
}

// GetTransaction retrieves a copy of a recorded transfer
func (g *LedgerGateway) GetTransaction(transactionID string) (*TransferReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	txn, ok := g.transactions.Load(transactionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}
	cp := *txn.(*TransferReceipt)
	return &cp, nil
}

// Balance returns the current balance of an account
func (g *LedgerGateway) Balance(account string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balanceLocked(account)
}

// SetBalance overrides the balance of an account
func (g *LedgerGateway) SetBalance(account string, amount uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[account] = amount
}

// FailNext makes the next transfer fail with err (for testing)
func (g *LedgerGateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

// SetSuccessRate updates the success rate (for testing)
func (g *LedgerGateway) SetSuccessRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	g.config.SuccessRate = rate
}

// Name returns the gateway name
func (g *LedgerGateway) Name() string {
	return "ledger"
}

func (g *LedgerGateway) balanceLocked(account string) uint64 {
	b, ok := g.balances[account]
	if !ok {
		b = g.config.OpeningBalance
		g.balances[account] = b
	}
	return b
}

func (g *LedgerGateway) wait(ctx context.Context) error {
	if g.config.DelayMs <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(g.config.DelayMs) * time.Millisecond):
		return nil
	}
}
