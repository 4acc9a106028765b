package metrics

import (
	"context"
	"sync"

	"github.com/prohmpiriya/ticket-registry/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// Registry counters
	TicketsIssued      *telemetry.Counter
	TicketsTransferred *telemetry.Counter
	TicketsListed      *telemetry.Counter
	TicketsSold        *telemetry.Counter
	OperationsFailed   *telemetry.Counter

	// Settlement counters
	SettlementsFailed  *telemetry.Counter
	RefundsIssued      *telemetry.Counter
	RefundsFailed      *telemetry.Counter
	AmbiguousCommits   *telemetry.Counter
	StaleListingsTotal *telemetry.Counter

	// Relay counters
	EventsPublished     *telemetry.Counter
	EventsPublishFailed *telemetry.Counter

	// Histograms
	OperationDuration *telemetry.Histogram
	SalePrice         *telemetry.Histogram

	// Gauges
	RelayBacklog *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all registry metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	counters := []struct {
		target **telemetry.Counter
		opts   telemetry.MetricOpts
	}{
		{&TicketsIssued, telemetry.MetricOpts{Name: "registry_tickets_issued_total", Description: "Total number of tickets issued", Unit: "1"}},
		{&TicketsTransferred, telemetry.MetricOpts{Name: "registry_tickets_transferred_total", Description: "Total number of owner transfers", Unit: "1"}},
		{&TicketsListed, telemetry.MetricOpts{Name: "registry_tickets_listed_total", Description: "Total number of listings created or re-priced", Unit: "1"}},
		{&TicketsSold, telemetry.MetricOpts{Name: "registry_tickets_sold_total", Description: "Total number of settled purchases", Unit: "1"}},
		{&OperationsFailed, telemetry.MetricOpts{Name: "registry_operation_failures_total", Description: "Failed registry operations by reason", Unit: "1"}},
		{&SettlementsFailed, telemetry.MetricOpts{Name: "registry_settlement_failures_total", Description: "Payment settlements rejected by the gateway", Unit: "1"}},
		{&RefundsIssued, telemetry.MetricOpts{Name: "registry_compensating_refunds_total", Description: "Refunds issued after a failed commit", Unit: "1"}},
		{&RefundsFailed, telemetry.MetricOpts{Name: "registry_compensating_refund_failures_total", Description: "Compensating refunds that failed", Unit: "1"}},
		{&AmbiguousCommits, telemetry.MetricOpts{Name: "registry_ambiguous_commits_total", Description: "Settled purchases whose commit reported an error, by resolved outcome", Unit: "1"}},
		{&StaleListingsTotal, telemetry.MetricOpts{Name: "registry_stale_listings_total", Description: "Transfers that left a listing in place", Unit: "1"}},
		{&EventsPublished, telemetry.MetricOpts{Name: "registry_events_published_total", Description: "Registry events relayed to the broker", Unit: "1"}},
		{&EventsPublishFailed, telemetry.MetricOpts{Name: "registry_events_publish_failures_total", Description: "Registry events that failed to relay", Unit: "1"}},
	}
	for _, c := range counters {
		if *c.target, err = telemetry.NewCounter(c.opts); err != nil {
			return err
		}
	}

	OperationDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "registry_operation_duration_seconds",
		Description: "Registry operation duration",
		Unit:        "s",
	}, []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5})
	if err != nil {
		return err
	}

	SalePrice, err = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "registry_sale_price",
		Description: "Settled sale prices in the smallest currency unit",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	RelayBacklog, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "registry_relay_in_flight",
		Description: "Events currently being relayed",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	return nil
}

// RecordOperation records the duration and outcome of a registry operation
func RecordOperation(ctx context.Context, operation string, durationSeconds float64, err error) {
	if OperationDuration != nil {
		OperationDuration.Record(ctx, durationSeconds,
			attribute.String("operation", operation),
			attribute.Bool("success", err == nil),
		)
	}
}

// RecordTicketIssued records an issuance
func RecordTicketIssued(ctx context.Context) {
	if TicketsIssued != nil {
		TicketsIssued.Inc(ctx)
	}
}

// RecordTicketTransferred records an owner transfer
func RecordTicketTransferred(ctx context.Context, listingCleared bool) {
	if TicketsTransferred != nil {
		TicketsTransferred.Inc(ctx, attribute.Bool("listing_cleared", listingCleared))
	}
}

// RecordStaleListing records a transfer that kept an existing listing
func RecordStaleListing(ctx context.Context) {
	if StaleListingsTotal != nil {
		StaleListingsTotal.Inc(ctx)
	}
}

// RecordTicketListed records a listing
func RecordTicketListed(ctx context.Context) {
	if TicketsListed != nil {
		TicketsListed.Inc(ctx)
	}
}

// RecordTicketSold records a settled purchase
func RecordTicketSold(ctx context.Context, gateway string, price uint64) {
	if TicketsSold != nil {
		TicketsSold.Inc(ctx, attribute.String("gateway", gateway))
	}
	if SalePrice != nil {
		SalePrice.Record(ctx, float64(price), attribute.String("gateway", gateway))
	}
}

// RecordOperationFailed records a rejected operation
func RecordOperationFailed(ctx context.Context, operation, reason string) {
	if OperationsFailed != nil {
		OperationsFailed.Inc(ctx,
			attribute.String("operation", operation),
			attribute.String("reason", reason),
		)
	}
}

// RecordSettlementFailed records a gateway rejection
func RecordSettlementFailed(ctx context.Context, gateway string) {
	if SettlementsFailed != nil {
		SettlementsFailed.Inc(ctx, attribute.String("gateway", gateway))
	}
}

// RecordRefund records a compensating refund attempt
func RecordRefund(ctx context.Context, gateway string, err error) {
	if err != nil {
		if RefundsFailed != nil {
			RefundsFailed.Inc(ctx, attribute.String("gateway", gateway))
		}
		return
	}
	if RefundsIssued != nil {
		RefundsIssued.Inc(ctx, attribute.String("gateway", gateway))
	}
}

// RecordAmbiguousCommit records how a settled purchase with a failed commit was resolved:
// committed, rolled_back or unknown
func RecordAmbiguousCommit(ctx context.Context, gateway, outcome string) {
	if AmbiguousCommits != nil {
		AmbiguousCommits.Inc(ctx,
			attribute.String("gateway", gateway),
			attribute.String("outcome", outcome),
		)
	}
}

// RecordEventPublished records a relayed event
func RecordEventPublished(ctx context.Context, eventType string) {
	if EventsPublished != nil {
		EventsPublished.Inc(ctx, attribute.String("event_type", eventType))
	}
}

// RecordEventPublishFailed records an event that could not be relayed
func RecordEventPublishFailed(ctx context.Context, eventType string) {
	if EventsPublishFailed != nil {
		EventsPublishFailed.Inc(ctx, attribute.String("event_type", eventType))
	}
}

// RecordRelayBatch tracks events in flight in the relay
func RecordRelayBatch(ctx context.Context, size int, done bool) {
	if RelayBacklog == nil {
		return
	}
	n := int64(size)
	if done {
		n = -n
	}
	RelayBacklog.Add(ctx, n)
}
