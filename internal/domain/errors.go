package domain

import "errors"

// Domain errors
var (
	// Lookup errors
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrListingNotFound = errors.New("ticket is not listed for sale")

	// Authorization errors
	ErrNotOwner = errors.New("caller does not own the ticket")

	// Purchase errors
	ErrPriceMismatch           = errors.New("payment does not match listing price")
	ErrPaymentSettlementFailed = errors.New("payment settlement failed")

	// Issuance errors
	ErrTicketIDsExhausted = errors.New("ticket id space exhausted")

	// Validation errors
	ErrInvalidAccount   = errors.New("invalid account id")
	ErrInvalidEventName = errors.New("invalid event name")
	ErrInvalidTicketID  = errors.New("invalid ticket id")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrListingNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrInvalidEventName) ||
		errors.Is(err, ErrInvalidTicketID)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrPriceMismatch)
}
