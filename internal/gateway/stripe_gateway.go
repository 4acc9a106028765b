package gateway

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
)

// StripeGateway settles transfers as destination charges.
// From is a Stripe customer id charged off-session with its default payment
// method; To is the Stripe Connect account that receives the funds.
type StripeGateway struct {
	config *StripeGatewayConfig
}

// StripeGatewayConfig holds configuration for Stripe gateway
type StripeGatewayConfig struct {
	SecretKey   string
	Environment string // "test" or "live"
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	stripe.Key = config.SecretKey

	return &StripeGateway{
		config: config,
	}, nil
}

// Transfer charges the payer and routes the funds to the payee account
func (g *StripeGateway) Transfer(ctx context.Context, req *TransferRequest) (*TransferReceipt, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Amount > math.MaxInt64 {
		return nil, fmt.Errorf("%w: amount exceeds stripe limit", ErrInvalidTransfer)
	}

	paymentMethod, err := g.defaultPaymentMethod(ctx, req.From)
	if err != nil {
		return nil, err
	}

	pi, err := paymentintent.New(paymentIntentParams(ctx, req, paymentMethod))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferDeclined, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("%w: payment intent %s is %s", ErrTransferDeclined, pi.ID, pi.Status)
	}

	return &TransferReceipt{
		TransactionID: pi.ID,
		From:          req.From,
		To:            req.To,
		Amount:        req.Amount,
		Currency:      string(pi.Currency),
		Status:        StatusCompleted,
		CreatedAt:     time.Unix(pi.Created, 0),
		Metadata:      pi.Metadata,
	}, nil
}

// paymentIntentParams builds a confirmed off-session destination charge.
// The idempotency key makes a retried request return the first PaymentIntent.
func paymentIntentParams(ctx context.Context, req *TransferRequest, paymentMethod string) *stripe.PaymentIntentParams {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(int64(req.Amount)),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.From),
		PaymentMethod: stripe.String(paymentMethod),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.To),
		},
		Metadata: make(map[string]string),
	}
	if req.Reference != "" {
		params.TransferGroup = stripe.String(req.Reference)
		params.Metadata["reference"] = req.Reference
	}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}

	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	return params
}

// Refund refunds the charge and reverses the transfer to the payee
func (g *StripeGateway) Refund(ctx context.Context, receipt *TransferReceipt) error {
	if receipt == nil || receipt.TransactionID == "" {
		return fmt.Errorf("transaction ID is required")
	}

	if _, err := refund.New(refundParams(ctx, receipt)); err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}

	return nil
}

// refundParams refunds the whole PaymentIntent, keyed so a repeated refund is a no-op
func refundParams(ctx context.Context, receipt *TransferReceipt) *stripe.RefundParams {
	params := &stripe.RefundParams{
		PaymentIntent:   stripe.String(receipt.TransactionID),
		ReverseTransfer: stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + receipt.TransactionID)
	return params
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}

func (g *StripeGateway) defaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := customer.Get(customerID, params)
	if err != nil {
		return "", fmt.Errorf("failed to get customer: %w", err)
	}
	if cust.InvoiceSettings == nil || cust.InvoiceSettings.DefaultPaymentMethod == nil {
		return "", fmt.Errorf("%w: customer %s has no default payment method", ErrTransferDeclined, customerID)
	}
	return cust.InvoiceSettings.DefaultPaymentMethod.ID, nil
}
