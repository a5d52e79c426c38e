package service

import (
	"context"
	"testing"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommission(t *testing.T) {
	tests := []struct {
		price, pct string
		fee, net   string
	}{
		{"100", "15", "15", "85"},
		{"33.33", "15", "5", "28.33"},
		{"10", "0", "0", "10"},
		{"10", "100", "10", "0"},
		{"19.99", "12.5", "2.50", "17.49"},
	}
	for _, tt := range tests {
		t.Run(tt.price+"@"+tt.pct, func(t *testing.T) {
			price := decimal.RequireFromString(tt.price)
			fee, net := SplitCommission(price, decimal.RequireFromString(tt.pct))
			assertAmount(t, tt.fee, fee)
			assertAmount(t, tt.net, net)
			assert.True(t, fee.Add(net).Equal(price))
		})
	}
}

func TestCommissionService_Precedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rate, err := f.commission.RateFor(ctx, delivererID)
	require.NoError(t, err)
	assertAmount(t, "15", rate)

	require.NoError(t, f.commission.SetDefault(ctx, decimal.NewFromInt(20)))
	rate, err = f.commission.RateFor(ctx, delivererID)
	require.NoError(t, err)
	assertAmount(t, "20", rate)

	require.NoError(t, f.commission.SetRate(ctx, delivererID, decimal.NewFromInt(10)))
	rate, err = f.commission.RateFor(ctx, delivererID)
	require.NoError(t, err)
	assertAmount(t, "10", rate)

	rate, err = f.commission.RateFor(ctx, "someone-else")
	require.NoError(t, err)
	assertAmount(t, "20", rate)
}

func TestCommissionService_RejectsOutOfRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.commission.SetDefault(ctx, decimal.NewFromInt(101)), domain.ErrInvalidInput)
	assert.ErrorIs(t, f.commission.SetRate(ctx, delivererID, decimal.NewFromInt(-1)), domain.ErrInvalidInput)
	assert.ErrorIs(t, f.commission.SetRate(ctx, "", decimal.NewFromInt(5)), domain.ErrInvalidInput)

	// A corrupt setting falls back to the configured default.
	require.NoError(t, f.store.Commissions().SetSetting(ctx, SettingCommissionPercent, "lots"))
	rate, err := f.commission.RateFor(ctx, delivererID)
	require.NoError(t, err)
	assertAmount(t, "15", rate)
}

func TestRunCycle_UsesDelivererOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.commission.SetRate(ctx, delivererID, decimal.NewFromInt(10)))
	d := f.createDelivery(t, clientID, "100", false)
	f.deliver(t, d, delivererID)

	_, err := f.settlement.RunCycle(ctx)
	require.NoError(t, err)
	assertAmount(t, "90", f.balance(t, delivererID).Available)
	assertAmount(t, "10", f.balance(t, platformID).Available)
}
