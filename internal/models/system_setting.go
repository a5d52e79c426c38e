package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SystemSetting stores admin-configurable key/value settings.
type SystemSetting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"uniqueIndex;size:100;not null" json:"key"`
	Value     string    `gorm:"size:255;not null" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SystemSetting) TableName() string { return "system_settings" }

// CommissionRate overrides the platform commission percent for one deliverer or provider.
type CommissionRate struct {
	UserID    string          `gorm:"primaryKey;size:36" json:"user_id"`
	Percent   decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"percent"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (CommissionRate) TableName() string { return "commission_rates" }
