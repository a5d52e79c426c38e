package repository

import (
	"context"
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"

	"github.com/shopspring/decimal"
)

// DeliveryStore persists deliveries and their status history.
type DeliveryStore interface {
	Create(ctx context.Context, d *models.Delivery) error
	GetByID(ctx context.Context, id string) (*models.Delivery, error)
	// GetForUpdate reads the delivery and holds its row lock until the surrounding Atomic block ends.
	GetForUpdate(ctx context.Context, id string) (*models.Delivery, error)
	// Update writes every column if the stored version still equals d.Version and bumps it.
	// A stale version yields domain.ErrConcurrencyConflict.
	Update(ctx context.Context, d *models.Delivery) error
	CountActiveByDeliverer(ctx context.Context, delivererID string) (int64, error)
	AddEvent(ctx context.Context, e *models.DeliveryEvent) error
	ListEvents(ctx context.Context, deliveryID string) ([]models.DeliveryEvent, error)
}

// WalletStore persists wallets. Balance is only written through UpdateBalance.
type WalletStore interface {
	Create(ctx context.Context, w *models.Wallet) error
	GetByID(ctx context.Context, id string) (*models.Wallet, error)
	GetByOwner(ctx context.Context, ownerID, currency string) (*models.Wallet, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Wallet, error)
	GetForUpdate(ctx context.Context, id string) (*models.Wallet, error)
	UpdateBalance(ctx context.Context, w *models.Wallet) error
}

// TransactionStore is the ledger. (wallet_id, type, reference) is unique;
// a duplicate insert yields domain.ErrDuplicateOperation.
type TransactionStore interface {
	Create(ctx context.Context, tx *models.WalletTransaction) error
	GetByID(ctx context.Context, id string) (*models.WalletTransaction, error)
	GetByReference(ctx context.Context, walletID string, txType domain.TransactionType, reference string) (*models.WalletTransaction, error)
	// Settle moves a PENDING row to a final status. Non-pending rows yield domain.ErrInvalidTransition.
	Settle(ctx context.Context, id string, status domain.TransactionStatus, balanceAfter *decimal.Decimal, at time.Time) error
	SumCompleted(ctx context.Context, walletID string) (decimal.Decimal, error)
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]models.WalletTransaction, error)
}

type WithdrawalStore interface {
	Create(ctx context.Context, w *models.Withdrawal) error
	GetByID(ctx context.Context, id string) (*models.Withdrawal, error)
	GetForUpdate(ctx context.Context, id string) (*models.Withdrawal, error)
	GetByPayoutID(ctx context.Context, payoutID string) (*models.Withdrawal, error)
	Update(ctx context.Context, w *models.Withdrawal) error
	// Claim atomically moves a PENDING withdrawal to PROCESSING. It reports false when
	// another worker got there first.
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	ListByStatus(ctx context.Context, status domain.WithdrawalStatus, limit int) ([]models.Withdrawal, error)
	ListStale(ctx context.Context, claimedBefore time.Time, limit int) ([]models.Withdrawal, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Withdrawal, error)
	SumOpen(ctx context.Context, walletID string) (decimal.Decimal, error)
}

type SettlementStore interface {
	Create(ctx context.Context, r *models.SettlementRequest) error
	GetByDeliveryID(ctx context.Context, deliveryID string) (*models.SettlementRequest, error)
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	// Reclaim takes over a PROCESSING request whose claim is older than claimedBefore.
	Reclaim(ctx context.Context, id string, claimedBefore, at time.Time) (bool, error)
	ListByStatus(ctx context.Context, status domain.SettlementStatus, limit int) ([]models.SettlementRequest, error)
	ListStale(ctx context.Context, claimedBefore time.Time, limit int) ([]models.SettlementRequest, error)
	Update(ctx context.Context, r *models.SettlementRequest) error
}

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetForUpdate(ctx context.Context, id string) (*models.User, error)
}

type CommissionStore interface {
	GetRate(ctx context.Context, userID string) (*models.CommissionRate, error)
	SetRate(ctx context.Context, rate *models.CommissionRate) error
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error)
}

type AuditStore interface {
	Create(ctx context.Context, entry *models.AuditLog) error
}

// Store is the storage handle passed to services. Atomic runs fn in one transaction;
// the Store given to fn must be used for every read and write that belongs to it.
type Store interface {
	Deliveries() DeliveryStore
	Wallets() WalletStore
	Transactions() TransactionStore
	Withdrawals() WithdrawalStore
	Settlements() SettlementStore
	Users() UserStore
	Commissions() CommissionStore
	Notifications() NotificationStore
	Audit() AuditStore
	Atomic(ctx context.Context, fn func(tx Store) error) error
}
