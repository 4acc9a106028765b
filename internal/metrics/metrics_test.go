package metrics

import (
	"context"
	"errors"
	"testing"
)

func TestRecordersBeforeInit(t *testing.T) {
	ctx := context.Background()

	// recorders must tolerate uninitialized instruments
	RecordTicketIssued(ctx)
	RecordOperationFailed(ctx, "buy", "price_mismatch")
	RecordRefund(ctx, "ledger", errors.New("boom"))
	RecordRelayBatch(ctx, 3, false)
	RecordAmbiguousCommit(ctx, "ledger", "unknown")
}

func TestInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := Init(); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	if TicketsIssued == nil || OperationDuration == nil || RelayBacklog == nil {
		t.Fatal("expected instruments to be initialized")
	}

	ctx := context.Background()
	RecordTicketIssued(ctx)
	RecordTicketTransferred(ctx, true)
	RecordStaleListing(ctx)
	RecordTicketListed(ctx)
	RecordTicketSold(ctx, "ledger", 1000)
	RecordSettlementFailed(ctx, "ledger")
	RecordRefund(ctx, "ledger", nil)
	RecordAmbiguousCommit(ctx, "ledger", "committed")
	RecordEventPublished(ctx, "ticket.sold")
	RecordEventPublishFailed(ctx, "ticket.sold")
	RecordRelayBatch(ctx, 2, false)
	RecordRelayBatch(ctx, 2, true)
	RecordOperation(ctx, "issue", 0.01, nil)
}
