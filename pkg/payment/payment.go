// Package payment holds the payout gateway contract and its implementations.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PayoutStatus is the gateway's verdict on a payout instruction.
type PayoutStatus string

const (
	// PayoutCompleted means the funds left synchronously.
	PayoutCompleted PayoutStatus = "COMPLETED"
	// PayoutAccepted means the gateway queued the transfer; the final result arrives by callback.
	PayoutAccepted PayoutStatus = "ACCEPTED"
	PayoutRejected PayoutStatus = "REJECTED"
)

type PayoutRequest struct {
	// Reference is the withdrawal id. The gateway deduplicates on it, so retries are safe.
	Reference   string
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Destination string // IBAN or payout account handle
	Description string
	CallbackURL string
}

type PayoutResponse struct {
	PayoutID string
	Status   PayoutStatus
	Message  string
}

// Gateway sends money out of the platform.
type Gateway interface {
	InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error)
}

// DeclinedError is a definite refusal of a payout instruction: the provider
// answered and did not accept it, so no money left. Any other error leaves the
// outcome unknown.
type DeclinedError struct {
	StatusCode int
	Message    string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payout declined: %d %s", e.StatusCode, e.Message)
}

// IsDeclined reports whether err proves the payout was not made.
func IsDeclined(err error) bool {
	var d *DeclinedError
	return errors.As(err, &d)
}
