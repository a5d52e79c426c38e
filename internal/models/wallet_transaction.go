package models

import (
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"

	"github.com/shopspring/decimal"
)

// WalletTransaction is an immutable ledger row once COMPLETED.
// Amount is signed: positive credits, negative debits.
type WalletTransaction struct {
	ID           string                   `gorm:"primaryKey;size:36" json:"id"`
	WalletID     string                   `gorm:"size:36;not null;uniqueIndex:idx_tx_wallet_type_ref,priority:1" json:"wallet_id"`
	Type         domain.TransactionType   `gorm:"size:20;not null;uniqueIndex:idx_tx_wallet_type_ref,priority:2" json:"type"`
	Reference    string                   `gorm:"size:128;not null;uniqueIndex:idx_tx_wallet_type_ref,priority:3" json:"reference"`
	Amount       decimal.Decimal          `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status       domain.TransactionStatus `gorm:"size:20;not null;index" json:"status"`
	BalanceAfter *decimal.Decimal         `gorm:"type:decimal(20,2)" json:"balance_after,omitempty"`
	Description  string                   `gorm:"size:255" json:"description,omitempty"`
	InitiatedBy  string                   `gorm:"size:36" json:"initiated_by,omitempty"` // proposer of an ADJUSTMENT
	CreatedAt    time.Time                `json:"created_at"`
	CompletedAt  *time.Time               `json:"completed_at,omitempty"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
