package models

import (
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"

	"github.com/shopspring/decimal"
)

// Withdrawal is a payout request. Funds are reserved (debited) when it is created.
type Withdrawal struct {
	ID            string                  `gorm:"primaryKey;size:36" json:"id"`
	WalletID      string                  `gorm:"size:36;not null;index" json:"wallet_id"`
	UserID        string                  `gorm:"size:36;not null;index" json:"user_id"`
	Amount        decimal.Decimal         `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency      string                  `gorm:"size:3;not null" json:"currency"`
	Destination   string                  `gorm:"size:128;not null" json:"destination"`
	Status        domain.WithdrawalStatus `gorm:"size:20;not null;index" json:"status"`
	PayoutID      string                  `gorm:"size:128;index" json:"payout_id,omitempty"`
	FailureReason string                  `gorm:"size:512" json:"failure_reason,omitempty"`
	Attempts      int                     `gorm:"not null;default:0" json:"attempts"`
	RequestedAt   time.Time               `gorm:"not null" json:"requested_at"`
	ClaimedAt     *time.Time              `json:"claimed_at,omitempty"`
	ProcessedAt   *time.Time              `json:"processed_at,omitempty"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawals"
}
