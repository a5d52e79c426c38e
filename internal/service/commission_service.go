package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"
	"github.com/TheRebzu/ecodeli-sub058/internal/repository"

	"github.com/shopspring/decimal"
)

// SettingCommissionPercent is the system_settings key for the platform-wide commission.
const SettingCommissionPercent = "commission_percent"

var hundred = decimal.NewFromInt(100)

// CommissionProvider returns the commission percent applied to a payee.
type CommissionProvider interface {
	RateFor(ctx context.Context, userID string) (decimal.Decimal, error)
}

// CommissionService resolves rates: per-user override, then the admin setting, then the configured default.
type CommissionService struct {
	repo       repository.CommissionStore
	defaultPct decimal.Decimal
}

func NewCommissionService(repo repository.CommissionStore, defaultPct decimal.Decimal) *CommissionService {
	return &CommissionService{repo: repo, defaultPct: defaultPct}
}

func (s *CommissionService) RateFor(ctx context.Context, userID string) (decimal.Decimal, error) {
	rate, err := s.repo.GetRate(ctx, userID)
	if err == nil {
		return rate.Percent, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("commission override %s: %w", userID, err)
	}
	v, err := s.repo.GetSetting(ctx, SettingCommissionPercent)
	if errors.Is(err, domain.ErrNotFound) {
		return s.defaultPct, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("commission setting: %w", err)
	}
	pct, err := decimal.NewFromString(v)
	if err != nil || !validPercent(pct) {
		return s.defaultPct, nil
	}
	return pct, nil
}

func (s *CommissionService) SetRate(ctx context.Context, userID string, pct decimal.Decimal) error {
	if userID == "" || !validPercent(pct) {
		return fmt.Errorf("%w: commission must be between 0 and 100", domain.ErrInvalidInput)
	}
	return s.repo.SetRate(ctx, &models.CommissionRate{UserID: userID, Percent: pct})
}

func (s *CommissionService) SetDefault(ctx context.Context, pct decimal.Decimal) error {
	if !validPercent(pct) {
		return fmt.Errorf("%w: commission must be between 0 and 100", domain.ErrInvalidInput)
	}
	return s.repo.SetSetting(ctx, SettingCommissionPercent, pct.String())
}

func validPercent(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}

// SplitCommission returns the platform fee (rounded to cents) and the payee's net.
// fee + net always equals price.
func SplitCommission(price, pct decimal.Decimal) (fee, net decimal.Decimal) {
	fee = price.Mul(pct).Div(hundred).Round(2)
	return fee, price.Sub(fee)
}
