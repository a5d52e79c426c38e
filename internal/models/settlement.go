package models

import (
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"

	"github.com/shopspring/decimal"
)

// SettlementRequest is written in the same transaction as the DELIVERED transition
// and consumed by the settlement cycle. One row per delivery.
type SettlementRequest struct {
	ID          string                  `gorm:"primaryKey;size:36" json:"id"`
	DeliveryID  string                  `gorm:"size:36;not null;uniqueIndex" json:"delivery_id"`
	DelivererID string                  `gorm:"size:36;not null;index" json:"deliverer_id"`
	Price       decimal.Decimal         `gorm:"type:decimal(20,2);not null" json:"price"`
	Currency    string                  `gorm:"size:3;not null" json:"currency"`
	Status      domain.SettlementStatus `gorm:"size:20;not null;index" json:"status"`
	Attempts    int                     `gorm:"not null;default:0" json:"attempts"`
	LastError   string                  `gorm:"size:512" json:"last_error,omitempty"`
	ClaimedAt   *time.Time              `json:"claimed_at,omitempty"`
	ProcessedAt *time.Time              `json:"processed_at,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

func (SettlementRequest) TableName() string {
	return "settlement_requests"
}
