package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"

	"gorm.io/gorm"
)

type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

func (r *SettlementRepository) Create(ctx context.Context, req *models.SettlementRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("queue settlement %s: %w", req.DeliveryID, mapError(err))
	}
	return nil
}

func (r *SettlementRepository) GetByDeliveryID(ctx context.Context, deliveryID string) (*models.SettlementRequest, error) {
	var req models.SettlementRequest
	if err := r.db.WithContext(ctx).Where("delivery_id = ?", deliveryID).First(&req).Error; err != nil {
		return nil, fmt.Errorf("settlement for %s: %w", deliveryID, mapError(err))
	}
	return &req, nil
}

func (r *SettlementRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.SettlementRequest{}).
		Where("id = ? AND status = ?", id, domain.SettlementPending).
		Updates(map[string]interface{}{
			"status":     domain.SettlementProcessing,
			"claimed_at": at,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim settlement %s: %w", id, mapError(res.Error))
	}
	return res.RowsAffected == 1, nil
}

// Reclaim re-claims a request whose worker died between claim and settle.
// The conditional update keeps two cycles from taking over the same claim.
func (r *SettlementRepository) Reclaim(ctx context.Context, id string, claimedBefore, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.SettlementRequest{}).
		Where("id = ? AND status = ? AND claimed_at < ?", id, domain.SettlementProcessing, claimedBefore).
		Updates(map[string]interface{}{
			"claimed_at": at,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("reclaim settlement %s: %w", id, mapError(res.Error))
	}
	return res.RowsAffected == 1, nil
}

func (r *SettlementRepository) ListStale(ctx context.Context, claimedBefore time.Time, limit int) ([]models.SettlementRequest, error) {
	var list []models.SettlementRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ?", domain.SettlementProcessing, claimedBefore).
		Order("claimed_at ASC").Limit(limit).Find(&list).Error
	return list, mapError(err)
}

func (r *SettlementRepository) ListByStatus(ctx context.Context, status domain.SettlementStatus, limit int) ([]models.SettlementRequest, error) {
	var list []models.SettlementRequest
	err := r.db.WithContext(ctx).Where("status = ?", status).
		Order("created_at ASC").Limit(limit).Find(&list).Error
	return list, mapError(err)
}

func (r *SettlementRepository) Update(ctx context.Context, req *models.SettlementRequest) error {
	return mapError(r.db.WithContext(ctx).Save(req).Error)
}
