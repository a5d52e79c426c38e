package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on top of a gorm handle (MySQL in production).
type GormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Deliveries() DeliveryStore       { return NewDeliveryRepository(s.db) }
func (s *GormStore) Wallets() WalletStore             { return NewWalletRepository(s.db) }
func (s *GormStore) Transactions() TransactionStore   { return NewTransactionRepository(s.db) }
func (s *GormStore) Withdrawals() WithdrawalStore     { return NewWithdrawalRepository(s.db) }
func (s *GormStore) Settlements() SettlementStore     { return NewSettlementRepository(s.db) }
func (s *GormStore) Users() UserStore                 { return NewUserRepository(s.db) }
func (s *GormStore) Commissions() CommissionStore     { return NewSettingRepository(s.db) }
func (s *GormStore) Notifications() NotificationStore { return NewNotificationRepository(s.db) }
func (s *GormStore) Audit() AuditStore                { return NewAuditLogRepository(s.db) }

func (s *GormStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
	// Domain errors returned by fn pass through mapError untouched; commit failures get mapped.
	return mapError(err)
}

// forUpdate adds SELECT ... FOR UPDATE.
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
