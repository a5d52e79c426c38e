package repository

import (
	"context"

	"github.com/TheRebzu/ecodeli-sub058/internal/models"

	"gorm.io/gorm"
)

type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	return mapError(r.db.WithContext(ctx).Create(entry).Error)
}
