package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTicketID(t *testing.T) {
	id, err := ParseTicketID("18446744073709551615")
	require.NoError(t, err)
	assert.Equal(t, TicketID(^uint64(0)), id)

	for _, bad := range []string{"", "-1", "abc", "18446744073709551616"} {
		_, err := ParseTicketID(bad)
		assert.ErrorIs(t, err, ErrInvalidTicketID, bad)
	}
}

func TestAccountID_Validate(t *testing.T) {
	assert.NoError(t, AccountID("alice").Validate())
	assert.ErrorIs(t, AccountID("").Validate(), ErrInvalidAccount)
	assert.ErrorIs(t, AccountID("   ").Validate(), ErrInvalidAccount)
}

func TestValidateEventName(t *testing.T) {
	assert.NoError(t, ValidateEventName("Concert"))
	assert.ErrorIs(t, ValidateEventName(""), ErrInvalidEventName)
	assert.ErrorIs(t, ValidateEventName(strings.Repeat("x", MaxEventNameLength+1)), ErrInvalidEventName)
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", ErrListingNotFound)

	assert.True(t, IsNotFoundError(wrapped))
	assert.True(t, IsNotFoundError(ErrTicketNotFound))
	assert.False(t, IsNotFoundError(ErrNotOwner))
	assert.True(t, IsValidationError(ErrInvalidEventName))
	assert.True(t, IsConflictError(ErrPriceMismatch))
	assert.False(t, IsConflictError(errors.New("other")))
}

func TestRegistryEvents(t *testing.T) {
	e := NewTicketSoldEvent(7, "bob", 1000)

	assert.Equal(t, EventTicketSold, e.Type)
	assert.Equal(t, "7", e.Key())
	assert.NotEmpty(t, e.EventID)

	var sold TicketSold
	require.NoError(t, e.DecodePayload(&sold))
	assert.Equal(t, TicketSold{TicketID: 7, Buyer: "bob", Price: 1000}, sold)

	var moved TicketTransferred
	require.NoError(t, NewTicketTransferredEvent(1, "a", "b").DecodePayload(&moved))
	assert.Equal(t, AccountID("a"), moved.From)
	assert.Equal(t, AccountID("b"), moved.To)
}
