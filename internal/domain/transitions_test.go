package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]DeliveryStatus]bool{
		{DeliveryPending, DeliveryAccepted}:    true,
		{DeliveryAccepted, DeliveryPickedUp}:   true,
		{DeliveryPickedUp, DeliveryInTransit}:  true,
		{DeliveryInTransit, DeliveryDelivered}: true,
		{DeliveryPending, DeliveryCancelled}:   true,
		{DeliveryAccepted, DeliveryCancelled}:  true,
		{DeliveryPickedUp, DeliveryCancelled}:  true,
		{DeliveryInTransit, DeliveryCancelled}: true,
		{DeliveryPending, DeliveryDisputed}:    true,
		{DeliveryAccepted, DeliveryDisputed}:   true,
		{DeliveryPickedUp, DeliveryDisputed}:   true,
		{DeliveryInTransit, DeliveryDisputed}:  true,
		{DeliveryDelivered, DeliveryDisputed}:  true,
	}
	all := []DeliveryStatus{
		DeliveryPending, DeliveryAccepted, DeliveryPickedUp, DeliveryInTransit,
		DeliveryDelivered, DeliveryCancelled, DeliveryDisputed,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]DeliveryStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestDeliveryStatus_Predicates(t *testing.T) {
	tests := []struct {
		status   DeliveryStatus
		terminal bool
		active   bool
	}{
		{DeliveryPending, false, false},
		{DeliveryAccepted, false, true},
		{DeliveryPickedUp, false, true},
		{DeliveryInTransit, false, true},
		{DeliveryDelivered, true, false},
		{DeliveryCancelled, true, false},
		{DeliveryDisputed, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.active, tt.status.IsActive())
			assert.Equal(t, tt.active, tt.status.CarriesCode())
			assert.True(t, tt.status.Valid())
		})
	}
	assert.False(t, DeliveryStatus("LOST").Valid())
}

func TestErrorsUnwrapToSentinels(t *testing.T) {
	assert.True(t, errors.Is(&TransitionError{From: DeliveryPending, To: DeliveryDelivered}, ErrInvalidTransition))
	assert.True(t, errors.Is(&CodeError{Remaining: 2}, ErrInvalidCode))
	assert.True(t, errors.Is(&FundsError{Available: decimal.Zero, Requested: decimal.NewFromInt(1)}, ErrInsufficientFunds))

	cause := errors.New("bank offline")
	perr := &PayoutError{Reference: "w1", Err: cause}
	assert.True(t, errors.Is(perr, ErrPayoutGateway))
	assert.True(t, errors.Is(perr, cause))
	assert.Contains(t, perr.Error(), "bank offline")

	assert.True(t, IsRetryable(ErrConcurrencyConflict))
	assert.False(t, IsRetryable(ErrInsufficientFunds))
}
