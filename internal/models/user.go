package models

import (
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
)

// User mirrors the identity collaborator's account record; this module only reads it.
type User struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Email          string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Role           string    `gorm:"size:20;not null;index" json:"role"`
	ApprovalStatus string    `gorm:"size:20;not null;default:'PENDING'" json:"approval_status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsDeliverer() bool { return u.Role == domain.RoleDeliverer }
func (u *User) IsApproved() bool  { return u.ApprovalStatus == domain.ApprovalApproved }
