package gateway

import (
	"fmt"
	"strings"
)

// GatewayType represents the type of payment gateway
type GatewayType string

const (
	GatewayTypeLedger GatewayType = "ledger"
	GatewayTypeStripe GatewayType = "stripe"
)

// NewPaymentGateway creates a payment gateway based on the type
func NewPaymentGateway(gatewayType string, config *GatewayConfig) (PaymentGateway, error) {
	switch GatewayType(strings.ToLower(gatewayType)) {
	case GatewayTypeLedger, "":
		ledgerCfg := DefaultLedgerGatewayConfig()
		if config != nil {
			ledgerCfg.OpeningBalance = config.OpeningBalance
		}
		return NewLedgerGateway(ledgerCfg), nil

	case GatewayTypeStripe:
		if config == nil || config.SecretKey == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		return NewStripeGateway(&StripeGatewayConfig{
			SecretKey:   config.SecretKey,
			Environment: config.Environment,
		})

	default:
		return nil, fmt.Errorf("unsupported gateway type: %s", gatewayType)
	}
}
