package service

import (
	"context"
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
)

// RetryPolicy bounds the backoff applied to lock contention.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func withRetry(ctx context.Context, p RetryPolicy, fn func() error) error {
	return retryIf(ctx, p, domain.IsRetryable, fn)
}

// retryIf runs fn until it succeeds, returns an error rejected by shouldRetry,
// or the attempts are used up. Delay doubles after each failure.
func retryIf(ctx context.Context, p RetryPolicy, shouldRetry func(error) bool, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !shouldRetry(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
