package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds the cached ledger balance for one user in one currency.
// Balance must always equal the sum of the wallet's COMPLETED transactions.
type Wallet struct {
	ID        string          `gorm:"primaryKey;size:36" json:"id"`
	OwnerID   string          `gorm:"size:36;not null;uniqueIndex:idx_wallet_owner_currency,priority:1" json:"owner_id"`
	Currency  string          `gorm:"size:3;not null;uniqueIndex:idx_wallet_owner_currency,priority:2" json:"currency"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	Version   int64           `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
