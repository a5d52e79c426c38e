package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, w *models.Withdrawal) error {
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		return fmt.Errorf("create withdrawal: %w", mapError(err))
	}
	return nil
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("withdrawal %s: %w", id, mapError(err))
	}
	return &w, nil
}

func (r *WithdrawalRepository) GetForUpdate(ctx context.Context, id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := forUpdate(r.db.WithContext(ctx)).First(&w, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("lock withdrawal %s: %w", id, mapError(err))
	}
	return &w, nil
}

func (r *WithdrawalRepository) GetByPayoutID(ctx context.Context, payoutID string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.db.WithContext(ctx).Where("payout_id = ?", payoutID).First(&w).Error; err != nil {
		return nil, fmt.Errorf("withdrawal for payout %s: %w", payoutID, mapError(err))
	}
	return &w, nil
}

func (r *WithdrawalRepository) Update(ctx context.Context, w *models.Withdrawal) error {
	return mapError(r.db.WithContext(ctx).Save(w).Error)
}

func (r *WithdrawalRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, domain.WithdrawalPending).
		Updates(map[string]interface{}{
			"status":     domain.WithdrawalProcessing,
			"claimed_at": at,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim withdrawal %s: %w", id, mapError(res.Error))
	}
	return res.RowsAffected == 1, nil
}

func (r *WithdrawalRepository) ListByStatus(ctx context.Context, status domain.WithdrawalStatus, limit int) ([]models.Withdrawal, error) {
	var list []models.Withdrawal
	err := r.db.WithContext(ctx).Where("status = ?", status).
		Order("requested_at ASC").Limit(limit).Find(&list).Error
	return list, mapError(err)
}

// ListStale returns PROCESSING withdrawals claimed before the cutoff; they need an operator.
func (r *WithdrawalRepository) ListStale(ctx context.Context, claimedBefore time.Time, limit int) ([]models.Withdrawal, error) {
	var list []models.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ?", domain.WithdrawalProcessing, claimedBefore).
		Order("claimed_at ASC").Limit(limit).Find(&list).Error
	return list, mapError(err)
}

func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Withdrawal, error) {
	var list []models.Withdrawal
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("requested_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, mapError(err)
}

func (r *WithdrawalRepository) SumOpen(ctx context.Context, walletID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("wallet_id = ? AND status IN ?", walletID,
			[]domain.WithdrawalStatus{domain.WithdrawalPending, domain.WithdrawalProcessing}).
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum open withdrawals %s: %w", walletID, mapError(err))
	}
	return sum, nil
}
