package repository

import (
	"context"
	"fmt"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"

	"gorm.io/gorm"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) Create(ctx context.Context, w *models.Wallet) error {
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		return fmt.Errorf("create wallet: %w", mapError(err))
	}
	return nil
}

func (r *WalletRepository) GetByID(ctx context.Context, id string) (*models.Wallet, error) {
	var w models.Wallet
	if err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("wallet %s: %w", id, mapError(err))
	}
	return &w, nil
}

func (r *WalletRepository) GetByOwner(ctx context.Context, ownerID, currency string) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.WithContext(ctx).Where("owner_id = ? AND currency = ?", ownerID, currency).First(&w).Error
	if err != nil {
		return nil, fmt.Errorf("wallet of %s/%s: %w", ownerID, currency, mapError(err))
	}
	return &w, nil
}

func (r *WalletRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Wallet, error) {
	var list []models.Wallet
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("currency ASC").Find(&list).Error
	return list, mapError(err)
}

func (r *WalletRepository) GetForUpdate(ctx context.Context, id string) (*models.Wallet, error) {
	var w models.Wallet
	if err := forUpdate(r.db.WithContext(ctx)).First(&w, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("lock wallet %s: %w", id, mapError(err))
	}
	return &w, nil
}

// UpdateBalance persists w.Balance guarded by the version read under lock.
func (r *WalletRepository) UpdateBalance(ctx context.Context, w *models.Wallet) error {
	prev := w.Version
	res := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND version = ?", w.ID, prev).
		Updates(map[string]interface{}{"balance": w.Balance, "version": prev + 1})
	if res.Error != nil {
		return fmt.Errorf("update wallet %s: %w", w.ID, mapError(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update wallet %s: %w", w.ID, domain.ErrConcurrencyConflict)
	}
	w.Version = prev + 1
	return nil
}
