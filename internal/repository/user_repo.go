package repository

import (
	"context"
	"fmt"

	"github.com/TheRebzu/ecodeli-sub058/internal/models"

	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	return mapError(r.db.WithContext(ctx).Create(u).Error)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("user %s: %w", id, mapError(err))
	}
	return &u, nil
}

// GetForUpdate locks the user row; used to serialize a deliverer's concurrent accepts.
func (r *UserRepository) GetForUpdate(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := forUpdate(r.db.WithContext(ctx)).First(&u, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("lock user %s: %w", id, mapError(err))
	}
	return &u, nil
}
