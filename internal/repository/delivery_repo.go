package repository

import (
	"context"
	"fmt"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"

	"gorm.io/gorm"
)

type DeliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) Create(ctx context.Context, d *models.Delivery) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("create delivery: %w", mapError(err))
	}
	return nil
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*models.Delivery, error) {
	var d models.Delivery
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("delivery %s: %w", id, mapError(err))
	}
	return &d, nil
}

func (r *DeliveryRepository) GetForUpdate(ctx context.Context, id string) (*models.Delivery, error) {
	var d models.Delivery
	if err := forUpdate(r.db.WithContext(ctx)).First(&d, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("lock delivery %s: %w", id, mapError(err))
	}
	return &d, nil
}

func (r *DeliveryRepository) Update(ctx context.Context, d *models.Delivery) error {
	prev := d.Version
	d.Version = prev + 1
	res := r.db.WithContext(ctx).Model(d).
		Where("version = ?", prev).
		Select("*").Omit("created_at").
		Updates(d)
	if res.Error != nil {
		d.Version = prev
		return fmt.Errorf("update delivery %s: %w", d.ID, mapError(res.Error))
	}
	if res.RowsAffected == 0 {
		d.Version = prev
		return fmt.Errorf("update delivery %s: %w", d.ID, domain.ErrConcurrencyConflict)
	}
	return nil
}

func (r *DeliveryRepository) CountActiveByDeliverer(ctx context.Context, delivererID string) (int64, error) {
	var c int64
	err := r.db.WithContext(ctx).Model(&models.Delivery{}).
		Where("deliverer_id = ? AND status IN ?", delivererID, domain.ActiveDeliveryStatuses).
		Count(&c).Error
	return c, mapError(err)
}

func (r *DeliveryRepository) AddEvent(ctx context.Context, e *models.DeliveryEvent) error {
	return mapError(r.db.WithContext(ctx).Create(e).Error)
}

func (r *DeliveryRepository) ListEvents(ctx context.Context, deliveryID string) ([]models.DeliveryEvent, error) {
	var list []models.DeliveryEvent
	err := r.db.WithContext(ctx).Where("delivery_id = ?", deliveryID).Order("id ASC").Find(&list).Error
	return list, mapError(err)
}
