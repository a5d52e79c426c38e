package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestWithRetry(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	t.Run("retries conflicts until success", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), p, func() error {
			calls++
			if calls < 3 {
				return domain.ErrConcurrencyConflict
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), p, func() error {
			calls++
			return domain.ErrConcurrencyConflict
		})
		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
		assert.Equal(t, 3, calls)
	})

	t.Run("business errors are not retried", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), p, func() error {
			calls++
			return domain.ErrInsufficientFunds
		})
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops when context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := withRetry(ctx, RetryPolicy{Attempts: 5, BaseDelay: time.Second}, func() error {
			calls++
			return domain.ErrConcurrencyConflict
		})
		assert.True(t, errors.Is(err, domain.ErrConcurrencyConflict))
		assert.Equal(t, 1, calls)
	})
}
