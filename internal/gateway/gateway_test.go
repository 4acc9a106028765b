package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestLedger(opening uint64) *LedgerGateway {
	return NewLedgerGateway(&LedgerGatewayConfig{OpeningBalance: opening, SuccessRate: 1})
}

func TestLedgerGateway_Transfer(t *testing.T) {
	g := newTestLedger(1000)
	ctx := context.Background()

	receipt, err := g.Transfer(ctx, &TransferRequest{From: "bob", To: "alice", Amount: 400, Currency: "usd"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, receipt.Status)
	}
	if got := g.Balance("bob"); got != 600 {
		t.Errorf("expected bob balance 600, got %d", got)
	}
	if got := g.Balance("alice"); got != 1400 {
		t.Errorf("expected alice balance 1400, got %d", got)
	}
}

func TestLedgerGateway_InsufficientFunds(t *testing.T) {
	g := newTestLedger(100)
	ctx := context.Background()

	_, err := g.Transfer(ctx, &TransferRequest{From: "bob", To: "alice", Amount: 101})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if g.Balance("bob") != 100 || g.Balance("alice") != 100 {
		t.Error("balances changed after failed transfer")
	}
}

func TestLedgerGateway_SelfTransfer(t *testing.T) {
	g := newTestLedger(50)

	if _, err := g.Transfer(context.Background(), &TransferRequest{From: "alice", To: "alice", Amount: 50}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := g.Balance("alice"); got != 50 {
		t.Errorf("expected balance 50, got %d", got)
	}
}

func TestLedgerGateway_FailNext(t *testing.T) {
	g := newTestLedger(1000)
	ctx := context.Background()
	declined := errors.New("card declined")

	g.FailNext(declined)
	if _, err := g.Transfer(ctx, &TransferRequest{From: "bob", To: "alice", Amount: 1}); !errors.Is(err, declined) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if _, err := g.Transfer(ctx, &TransferRequest{From: "bob", To: "alice", Amount: 1}); err != nil {
		t.Fatalf("expected second transfer to succeed, got %v", err)
	}
}

func TestLedgerGateway_SuccessRateZero(t *testing.T) {
	g := newTestLedger(1000)
	g.SetSuccessRate(-1)

	_, err := g.Transfer(context.Background(), &TransferRequest{From: "bob", To: "alice", Amount: 1})
	if !errors.Is(err, ErrTransferDeclined) {
		t.Fatalf("expected ErrTransferDeclined, got %v", err)
	}
}

func TestLedgerGateway_Refund(t *testing.T) {
	g := newTestLedger(1000)
	ctx := context.Background()

	receipt, err := g.Transfer(ctx, &TransferRequest{From: "bob", To: "alice", Amount: 300})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := g.Refund(ctx, receipt); err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if g.Balance("bob") != 1000 || g.Balance("alice") != 1000 {
		t.Errorf("balances not restored: bob=%d alice=%d", g.Balance("bob"), g.Balance("alice"))
	}

	stored, err := g.GetTransaction(receipt.TransactionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != StatusRefunded {
		t.Errorf("expected status %s, got %s", StatusRefunded, stored.Status)
	}

	if err := g.Refund(ctx, receipt); !errors.Is(err, ErrAlreadyRefunded) {
		t.Errorf("expected ErrAlreadyRefunded, got %v", err)
	}
	if err := g.Refund(ctx, &TransferReceipt{TransactionID: "missing"}); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestLedgerGateway_InvalidRequest(t *testing.T) {
	g := newTestLedger(1000)
	for _, req := range []*TransferRequest{nil, {From: "", To: "a"}, {From: "a", To: ""}} {
		if _, err := g.Transfer(context.Background(), req); !errors.Is(err, ErrInvalidTransfer) {
			t.Errorf("expected ErrInvalidTransfer for %+v, got %v", req, err)
		}
	}
}

func TestLedgerGateway_ContextCanceledDuringDelay(t *testing.T) {
	g := NewLedgerGateway(&LedgerGatewayConfig{OpeningBalance: 10, SuccessRate: 1, DelayMs: 1000})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := g.Transfer(ctx, &TransferRequest{From: "a", To: "b", Amount: 1}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if g.Balance("a") != 10 {
		t.Error("balance changed after canceled transfer")
	}
}

func TestNewPaymentGateway(t *testing.T) {
	g, err := NewPaymentGateway("", &GatewayConfig{OpeningBalance: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Name() != "ledger" {
		t.Errorf("expected ledger gateway, got %s", g.Name())
	}
	if got := g.(*LedgerGateway).Balance("x"); got != 5 {
		t.Errorf("expected opening balance 5, got %d", got)
	}

	if _, err := NewPaymentGateway("stripe", &GatewayConfig{}); err == nil {
		t.Error("expected error for stripe without secret key")
	}

	s, err := NewPaymentGateway("STRIPE", &GatewayConfig{SecretKey: "sk_test_123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name() != "stripe" {
		t.Errorf("expected stripe gateway, got %s", s.Name())
	}

	if _, err := NewPaymentGateway("paypal", nil); err == nil {
		t.Error("expected error for unsupported gateway")
	}
}

func TestStripeGateway_RejectsOversizedAmount(t *testing.T) {
	g, err := NewStripeGateway(&StripeGatewayConfig{SecretKey: "sk_test_123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = g.Transfer(context.Background(), &TransferRequest{From: "cus_1", To: "acct_1", Amount: 1 << 63})
	if !errors.Is(err, ErrInvalidTransfer) {
		t.Fatalf("expected ErrInvalidTransfer, got %v", err)
	}
}

func TestLedgerGateway_IdempotentTransfer(t *testing.T) {
	g := newTestLedger(1000)
	ctx := context.Background()
	req := &TransferRequest{From: "bob", To: "alice", Amount: 300, IdempotencyKey: "sale-1"}

	first, err := g.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := g.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error on repeat: %v", err)
	}
	if second.TransactionID != first.TransactionID {
		t.Errorf("expected repeated transfer to return %s, got %s", first.TransactionID, second.TransactionID)
	}
	if got := g.Balance("bob"); got != 700 {
		t.Errorf("expected bob debited once to 700, got %d", got)
	}

	third, err := g.Transfer(ctx, &TransferRequest{From: "bob", To: "alice", Amount: 300, IdempotencyKey: "sale-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.TransactionID == first.TransactionID {
		t.Error("expected a new transaction for a new key")
	}
	if got := g.Balance("bob"); got != 400 {
		t.Errorf("expected bob balance 400, got %d", got)
	}
}

type ctxKey struct{}

func TestStripeGateway_PaymentIntentParams(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxKey{}, "request")
	req := &TransferRequest{
		From:           "cus_buyer",
		To:             "acct_seller",
		Amount:         1000,
		Currency:       "usd",
		Reference:      "ticket-7",
		IdempotencyKey: "sale-abc",
		Metadata:       map[string]string{"ticket_id": "7"},
	}

	params := paymentIntentParams(ctx, req, "pm_card")
	if params.Context != ctx {
		t.Error("expected request context to be forwarded")
	}
	if params.IdempotencyKey == nil || *params.IdempotencyKey != "sale-abc" {
		t.Errorf("expected idempotency key sale-abc, got %v", params.IdempotencyKey)
	}
	if *params.TransferData.Destination != "acct_seller" {
		t.Errorf("unexpected destination %s", *params.TransferData.Destination)
	}
	if params.Metadata["ticket_id"] != "7" || params.Metadata["reference"] != "ticket-7" {
		t.Errorf("unexpected metadata %v", params.Metadata)
	}

	req.IdempotencyKey = ""
	if key := paymentIntentParams(ctx, req, "pm_card").IdempotencyKey; key != nil {
		t.Errorf("expected no idempotency key, got %s", *key)
	}

	refund := refundParams(ctx, &TransferReceipt{TransactionID: "pi_123"})
	if refund.Context != ctx {
		t.Error("expected refund to carry the request context")
	}
	if refund.IdempotencyKey == nil || *refund.IdempotencyKey != "refund-pi_123" {
		t.Errorf("unexpected refund idempotency key %v", refund.IdempotencyKey)
	}
}
