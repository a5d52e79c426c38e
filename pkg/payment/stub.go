package payment

import (
	"context"
	"fmt"
)

// StubGateway completes every payout synchronously; used in development.
type StubGateway struct{}

func (s *StubGateway) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error) {
	if req.Reference == "" {
		return nil, fmt.Errorf("stub payout: empty reference")
	}
	return &PayoutResponse{
		PayoutID: "stub_" + req.Reference,
		Status:   PayoutCompleted,
	}, nil
}
