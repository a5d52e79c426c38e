package repository

import (
	"context"

	"github.com/TheRebzu/ecodeli-sub058/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingRepository serves commission overrides and admin key/value settings.
type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

func (r *SettingRepository) GetRate(ctx context.Context, userID string) (*models.CommissionRate, error) {
	var rate models.CommissionRate
	if err := r.db.WithContext(ctx).First(&rate, "user_id = ?", userID).Error; err != nil {
		return nil, mapError(err)
	}
	return &rate, nil
}

func (r *SettingRepository) SetRate(ctx context.Context, rate *models.CommissionRate) error {
	return mapError(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"percent", "updated_at"}),
	}).Create(rate).Error)
}

func (r *SettingRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var s models.SystemSetting
	if err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&s).Error; err != nil {
		return "", mapError(err)
	}
	return s.Value, nil
}

func (r *SettingRepository) SetSetting(ctx context.Context, key, value string) error {
	return mapError(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.SystemSetting{Key: key, Value: value}).Error)
}
