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

// TransactionRepository is the gorm-backed ledger.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *models.WalletTransaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("ledger insert %s/%s: %w", tx.Type, tx.Reference, mapError(err))
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.WalletTransaction, error) {
	var t models.WalletTransaction
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("transaction %s: %w", id, mapError(err))
	}
	return &t, nil
}

func (r *TransactionRepository) GetByReference(ctx context.Context, walletID string, txType domain.TransactionType, reference string) (*models.WalletTransaction, error) {
	var t models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND type = ? AND reference = ?", walletID, txType, reference).
		First(&t).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (r *TransactionRepository) Settle(ctx context.Context, id string, status domain.TransactionStatus, balanceAfter *decimal.Decimal, at time.Time) error {
	updates := map[string]interface{}{"status": status}
	if status == domain.TxCompleted {
		updates["completed_at"] = at
		updates["balance_after"] = balanceAfter
	}
	res := r.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("id = ? AND status = ?", id, domain.TxPending).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("settle transaction %s: %w", id, mapError(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("settle transaction %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

func (r *TransactionRepository) SumCompleted(ctx context.Context, walletID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("wallet_id = ? AND status = ?", walletID, domain.TxCompleted).
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum ledger %s: %w", walletID, mapError(err))
	}
	return sum, nil
}

func (r *TransactionRepository) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]models.WalletTransaction, error) {
	var list []models.WalletTransaction
	err := r.db.WithContext(ctx).Where("wallet_id = ?", walletID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, mapError(err)
}
