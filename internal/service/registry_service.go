package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-registry/internal/domain"
	"github.com/prohmpiriya/ticket-registry/internal/gateway"
	"github.com/prohmpiriya/ticket-registry/internal/metrics"
	"github.com/prohmpiriya/ticket-registry/internal/repository"
	"github.com/prohmpiriya/ticket-registry/pkg/logger"
	"github.com/prohmpiriya/ticket-registry/pkg/retry"
	"github.com/prohmpiriya/ticket-registry/pkg/telemetry"
)

// ListingPolicy decides what happens to an active listing when its ticket is transferred
type ListingPolicy int

const (
	// KeepListingOnTransfer leaves the listing in place; the new owner's ticket stays buyable
	KeepListingOnTransfer ListingPolicy = iota
	// ClearListingOnTransfer removes the listing in the same transaction as the transfer
	ClearListingOnTransfer
)

func (p ListingPolicy) String() string {
	if p == ClearListingOnTransfer {
		return "clear"
	}
	return "keep"
}

const (
	defaultEventPageSize = 100
	maxEventPageSize     = 1000
)

// RegistryServiceConfig contains configuration for registry service
type RegistryServiceConfig struct {
	ListingPolicy ListingPolicy
	Currency      string
	// SaleLookupRetry bounds the event log lookup that resolves a failed commit after settlement
	SaleLookupRetry *retry.Config
}

// registryService implements RegistryService
type registryService struct {
	store         repository.Store
	gateway       gateway.PaymentGateway
	log           *logger.Logger
	listingPolicy ListingPolicy
	currency      string
	lookupRetrier *retry.Retrier
}

// NewRegistryService creates a new registry service
func NewRegistryService(
	store repository.Store,
	paymentGateway gateway.PaymentGateway,
	log *logger.Logger,
	cfg *RegistryServiceConfig,
) RegistryService {
	currency := "usd"
	policy := KeepListingOnTransfer
	lookupRetry := &retry.Config{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
	if cfg != nil {
		if cfg.Currency != "" {
			currency = cfg.Currency
		}
		policy = cfg.ListingPolicy
		if cfg.SaleLookupRetry != nil {
			lookupRetry = cfg.SaleLookupRetry
		}
	}
	if log == nil {
		log = logger.Get()
	}
	return &registryService{
		store:         store,
		gateway:       paymentGateway,
		log:           log,
		listingPolicy: policy,
		currency:      currency,
		lookupRetrier: retry.New(lookupRetry),
	}
}

// IssueTicket creates a ticket owned by the caller
func (s *registryService) IssueTicket(ctx context.Context, caller domain.AccountID, eventName string, expirationDate int64) (id domain.TicketID, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registry.issue")
	defer span.End()
	defer s.observe(ctx, span, "issue", time.Now(), &err)

	span.SetAttributes(
		attribute.String("caller", string(caller)),
		attribute.String("event_name", eventName),
	)

	if err = caller.Validate(); err != nil {
		return 0, err
	}
	if err = domain.ValidateEventName(eventName); err != nil {
		return 0, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.RegistryTx) error {
		next, err := tx.AllocateTicketID(ctx)
		if err != nil {
			return err
		}

		ticket := &domain.Ticket{
			ID:             next,
			EventName:      eventName,
			ExpirationDate: expirationDate,
			Owner:          caller,
		}
		if err := tx.PutTicket(ctx, ticket); err != nil {
			return err
		}
		if err := tx.AddOwnerTicket(ctx, caller, next); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, domain.NewTicketIssuedEvent(next, caller)); err != nil {
			return err
		}

		id = next
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordTicketIssued(ctx)
	span.SetAttributes(attribute.String("ticket_id", id.String()))
	s.log.InfoContext(ctx, "ticket issued",
		zap.Uint64("ticket_id", uint64(id)),
		zap.String("owner", string(caller)),
	)
	return id, nil
}

// TransferTicket moves ownership from the caller to another account
func (s *registryService) TransferTicket(ctx context.Context, caller domain.AccountID, id domain.TicketID, to domain.AccountID) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registry.transfer")
	defer span.End()
	defer s.observe(ctx, span, "transfer", time.Now(), &err)

	span.SetAttributes(
		attribute.String("caller", string(caller)),
		attribute.String("ticket_id", id.String()),
		attribute.String("to", string(to)),
	)

	if err = caller.Validate(); err != nil {
		return err
	}
	if err = to.Validate(); err != nil {
		return err
	}

	var stillListed, cleared bool
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.RegistryTx) error {
		ticket, err := tx.GetTicket(ctx, id)
		if err != nil {
			return err
		}
		if ticket == nil {
			return domain.ErrTicketNotFound
		}
		if ticket.Owner != caller {
			return domain.ErrNotOwner
		}

		if err := s.moveOwnership(ctx, tx, ticket, to); err != nil {
			return err
		}

		listing, err := tx.GetListing(ctx, id)
		if err != nil {
			return err
		}
		if listing != nil {
			if s.listingPolicy == ClearListingOnTransfer {
				if err := tx.DeleteListing(ctx, id); err != nil {
					return err
				}
				cleared = true
			} else {
				stillListed = true
			}
		}

		return tx.AppendEvent(ctx, domain.NewTicketTransferredEvent(id, caller, to))
	})
	if err != nil {
		return err
	}

	metrics.RecordTicketTransferred(ctx, cleared)
	if stillListed {
		metrics.RecordStaleListing(ctx)
		s.log.WarnContext(ctx, "transferred ticket still listed",
			zap.Uint64("ticket_id", uint64(id)),
			zap.String("new_owner", string(to)),
		)
	}
	s.log.InfoContext(ctx, "ticket transferred",
		zap.Uint64("ticket_id", uint64(id)),
		zap.String("from", string(caller)),
		zap.String("to", string(to)),
		zap.Bool("listing_cleared", cleared),
	)
	return nil
}

// ListTicket creates or re-prices the listing of a ticket owned by the caller
func (s *registryService) ListTicket(ctx context.Context, caller domain.AccountID, id domain.TicketID, price uint64) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registry.list")
	defer span.End()
	defer s.observe(ctx, span, "list", time.Now(), &err)

	span.SetAttributes(
		attribute.String("caller", string(caller)),
		attribute.String("ticket_id", id.String()),
		attribute.String("price", fmt.Sprintf("%d", price)),
	)

	if err = caller.Validate(); err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.RegistryTx) error {
		ticket, err := tx.GetTicket(ctx, id)
		if err != nil {
			return err
		}
		if ticket == nil {
			return domain.ErrTicketNotFound
		}
		if ticket.Owner != caller {
			return domain.ErrNotOwner
		}

		if err := tx.PutListing(ctx, &domain.Listing{TicketID: id, Price: price}); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.NewTicketListedEvent(id, price))
	})
	if err != nil {
		return err
	}

	metrics.RecordTicketListed(ctx)
	s.log.InfoContext(ctx, "ticket listed",
		zap.Uint64("ticket_id", uint64(id)),
		zap.Uint64("price", price),
	)
	return nil
}

// BuyTicket purchases a listed ticket.
// Registry writes are staged first; the gateway transfer runs last and the
// transaction commits only if it succeeds.
func (s *registryService) BuyTicket(ctx context.Context, caller domain.AccountID, id domain.TicketID, payment uint64) (sale *domain.Sale, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registry.buy")
	defer span.End()
	defer s.observe(ctx, span, "buy", time.Now(), &err)

	span.SetAttributes(
		attribute.String("buyer", string(caller)),
		attribute.String("ticket_id", id.String()),
		attribute.String("payment", fmt.Sprintf("%d", payment)),
		attribute.String("gateway", s.gateway.Name()),
	)

	if err = caller.Validate(); err != nil {
		return nil, err
	}

	var (
		receipt *gateway.TransferReceipt
		sold    *domain.RegistryEvent
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.RegistryTx) error {
		receipt = nil

		listing, err := tx.GetListing(ctx, id)
		if err != nil {
			return err
		}
		if listing == nil {
			return domain.ErrListingNotFound
		}
		if payment != listing.Price {
			return domain.ErrPriceMismatch
		}

		ticket, err := tx.GetTicket(ctx, id)
		if err != nil {
			return err
		}
		if ticket == nil {
			return domain.ErrTicketNotFound
		}

		seller := ticket.Owner
		if err := s.moveOwnership(ctx, tx, ticket, caller); err != nil {
			return err
		}
		if err := tx.DeleteListing(ctx, id); err != nil {
			return err
		}

		sold = domain.NewTicketSoldEvent(id, caller, payment)
		receipt, err = s.gateway.Transfer(ctx, &gateway.TransferRequest{
			From:           string(caller),
			To:             string(seller),
			Amount:         payment,
			Currency:       s.currency,
			Reference:      "ticket-" + id.String(),
			IdempotencyKey: "sale-" + sold.EventID,
			Metadata: map[string]string{
				"ticket_id": id.String(),
				"seller":    string(seller),
				"buyer":     string(caller),
				"sale_id":   sold.EventID,
			},
		})
		if err != nil {
			receipt = nil
			metrics.RecordSettlementFailed(ctx, s.gateway.Name())
			return fmt.Errorf("%w: %v", domain.ErrPaymentSettlementFailed, err)
		}

		sale = &domain.Sale{
			TicketID:   id,
			Seller:     seller,
			Buyer:      caller,
			Price:      payment,
			PaymentRef: receipt.TransactionID,
		}
		return tx.AppendEvent(ctx, sold)
	})
	if err != nil {
		if receipt == nil {
			return nil, err
		}
		if !s.resolveSettledFailure(ctx, receipt, sold.EventID, err) {
			return nil, err
		}
	}

	metrics.RecordTicketSold(ctx, s.gateway.Name(), payment)
	span.AddEvent("ticket_sold", trace.WithAttributes(
		attribute.String("seller", string(sale.Seller)),
		attribute.String("payment_ref", sale.PaymentRef),
	))
	s.log.InfoContext(ctx, "ticket sold",
		zap.Uint64("ticket_id", uint64(id)),
		zap.String("seller", string(sale.Seller)),
		zap.String("buyer", string(caller)),
		zap.Uint64("price", payment),
		zap.String("payment_ref", sale.PaymentRef),
	)
	return sale, nil
}

// VerifyTicket reports whether the ticket exists
func (s *registryService) VerifyTicket(ctx context.Context, id domain.TicketID) (bool, error) {
	ticket, err := s.GetTicket(ctx, id)
	if err != nil {
		return false, err
	}
	return ticket != nil, nil
}

// GetTicket retrieves a ticket by ID
func (s *registryService) GetTicket(ctx context.Context, id domain.TicketID) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registry.get_ticket")
	defer span.End()

	var ticket *domain.Ticket
	err := s.store.View(ctx, func(ctx context.Context, r repository.RegistryReader) error {
		var err error
		ticket, err = r.GetTicket(ctx, id)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return ticket, nil
}

// GetUserTickets returns the ticket ids owned by account, empty if none
func (s *registryService) GetUserTickets(ctx context.Context, account domain.AccountID) ([]domain.TicketID, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registry.get_user_tickets")
	defer span.End()

	ids := []domain.TicketID{}
	err := s.store.View(ctx, func(ctx context.Context, r repository.RegistryReader) error {
		owned, err := r.ListOwnerTickets(ctx, account)
		if err != nil {
			return err
		}
		ids = append(ids, owned...)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return ids, nil
}

// GetTicketPrice returns the listing price of a ticket
func (s *registryService) GetTicketPrice(ctx context.Context, id domain.TicketID) (*uint64, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registry.get_ticket_price")
	defer span.End()

	var price *uint64
	err := s.store.View(ctx, func(ctx context.Context, r repository.RegistryReader) error {
		listing, err := r.GetListing(ctx, id)
		if err != nil {
			return err
		}
		if listing != nil {
			p := listing.Price
			price = &p
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return price, nil
}

// ListEvents pages through committed registry events
func (s *registryService) ListEvents(ctx context.Context, after uint64, limit int) ([]*domain.RegistryEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registry.list_events")
	defer span.End()

	if limit <= 0 {
		limit = defaultEventPageSize
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}

	events, err := s.store.ListEvents(ctx, after, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if events == nil {
		events = []*domain.RegistryEvent{}
	}
	return events, nil
}

// moveOwnership reassigns a ticket; the id leaves the old owner's set before
// joining the new one, so a self-transfer keeps exactly one entry
func (s *registryService) moveOwnership(ctx context.Context, tx repository.RegistryTx, ticket *domain.Ticket, to domain.AccountID) error {
	if err := tx.RemoveOwnerTicket(ctx, ticket.Owner, ticket.ID); err != nil {
		return err
	}
	ticket.Owner = to
	if err := tx.PutTicket(ctx, ticket); err != nil {
		return err
	}
	return tx.AddOwnerTicket(ctx, to, ticket.ID)
}

// compensate refunds a settled payment whose registry changes did not commit
// resolveSettledFailure handles a transaction error after the gateway settled.
// The commit may have landed even though it reported an error, so the sale
// event is looked up first: a recorded sale stands and is reported as
// success, an absent one is refunded. When the log cannot be read the
// payment is left in place for reconciliation.
func (s *registryService) resolveSettledFailure(ctx context.Context, receipt *gateway.TransferReceipt, saleEventID string, cause error) bool {
	lookupCtx := context.WithoutCancel(ctx)

	var recorded bool
	result := s.lookupRetrier.Do(lookupCtx, func(ctx context.Context) error {
		var err error
		recorded, err = s.store.HasEvent(ctx, saleEventID)
		return err
	}, nil)
	if result.Err != nil {
		metrics.RecordAmbiguousCommit(lookupCtx, s.gateway.Name(), "unknown")
		s.log.ErrorContext(lookupCtx, "sale outcome unknown, refund withheld",
			zap.String("transaction_id", receipt.TransactionID),
			zap.String("sale_event_id", saleEventID),
			zap.Uint64("amount", receipt.Amount),
			zap.NamedError("cause", cause),
			zap.Error(result.LastError),
		)
		return false
	}

	if recorded {
		metrics.RecordAmbiguousCommit(lookupCtx, s.gateway.Name(), "committed")
		s.log.WarnContext(lookupCtx, "commit reported an error but the sale is recorded",
			zap.String("transaction_id", receipt.TransactionID),
			zap.String("sale_event_id", saleEventID),
			zap.NamedError("cause", cause),
		)
		return true
	}

	metrics.RecordAmbiguousCommit(lookupCtx, s.gateway.Name(), "rolled_back")
	s.compensate(lookupCtx, receipt, cause)
	return false
}

func (s *registryService) compensate(ctx context.Context, receipt *gateway.TransferReceipt, cause error) {
	refundCtx := context.WithoutCancel(ctx)
	err := s.gateway.Refund(refundCtx, receipt)
	metrics.RecordRefund(refundCtx, s.gateway.Name(), err)

	if err != nil {
		s.log.ErrorContext(refundCtx, "compensating refund failed",
			zap.String("transaction_id", receipt.TransactionID),
			zap.Uint64("amount", receipt.Amount),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	s.log.WarnContext(refundCtx, "payment refunded after failed commit",
		zap.String("transaction_id", receipt.TransactionID),
		zap.Uint64("amount", receipt.Amount),
		zap.NamedError("cause", cause),
	)
}

// observe records duration, outcome and span status of a mutating operation
func (s *registryService) observe(ctx context.Context, span trace.Span, operation string, start time.Time, errp *error) {
	err := *errp
	metrics.RecordOperation(ctx, operation, time.Since(start).Seconds(), err)
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	reason := failureReason(err)
	metrics.RecordOperationFailed(ctx, operation, reason)
	if reason == "internal" || reason == "settlement_failed" {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, err.Error())
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrTicketNotFound):
		return "ticket_not_found"
	case errors.Is(err, domain.ErrListingNotFound):
		return "listing_not_found"
	case errors.Is(err, domain.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, domain.ErrPriceMismatch):
		return "price_mismatch"
	case errors.Is(err, domain.ErrPaymentSettlementFailed):
		return "settlement_failed"
	case errors.Is(err, domain.ErrTicketIDsExhausted):
		return "ids_exhausted"
	case domain.IsValidationError(err):
		return "invalid"
	default:
		return "internal"
	}
}
