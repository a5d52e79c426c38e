package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidCode         = errors.New("invalid validation code")
	ErrCodeLocked          = errors.New("validation code locked after too many failed attempts")
	ErrAlreadyValidated    = errors.New("delivery already validated")
	ErrInsufficientFunds   = errors.New("insufficient wallet balance")
	ErrDuplicateOperation  = errors.New("operation already applied")
	ErrPayoutGateway       = errors.New("payout gateway failure")
	ErrConcurrencyConflict = errors.New("concurrent modification, retry")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrNotEligible         = errors.New("deliverer not eligible")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrSettlementFrozen    = errors.New("settlement frozen by dispute")
	ErrInvalidInput        = errors.New("invalid input")
)

// TransitionError describes a rejected delivery status change.
type TransitionError struct {
	From DeliveryStatus
	To   DeliveryStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move delivery from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// CodeError is returned on a wrong validation code; Remaining is the number of attempts left.
type CodeError struct {
	Remaining int
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("invalid validation code, %d attempt(s) left", e.Remaining)
}

func (e *CodeError) Unwrap() error { return ErrInvalidCode }

// FundsError carries the figures behind an insufficient-funds rejection.
type FundsError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *FundsError) Error() string {
	return fmt.Sprintf("insufficient wallet balance: available %s, requested %s", e.Available, e.Requested)
}

func (e *FundsError) Unwrap() error { return ErrInsufficientFunds }

// PayoutError wraps a failure reported by the payout gateway for a given reference.
type PayoutError struct {
	Reference string
	Err       error
}

func (e *PayoutError) Error() string {
	return fmt.Sprintf("payout %s: %v", e.Reference, e.Err)
}

func (e *PayoutError) Unwrap() []error { return []error{ErrPayoutGateway, e.Err} }

// IsRetryable reports whether err is a transient infrastructure condition worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
