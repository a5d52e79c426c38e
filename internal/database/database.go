package database

import (
	"fmt"

	"github.com/TheRebzu/ecodeli-sub058/config"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"
	"github.com/TheRebzu/ecodeli-sub058/internal/repository"
	"github.com/TheRebzu/ecodeli-sub058/internal/repository/memory"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error), // Only log errors, not every SQL query
		// Services open their own transactions around every write.
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// AutoMigrate runs Gorm auto-migration for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Delivery{},
		&models.DeliveryEvent{},
		&models.Wallet{},
		&models.WalletTransaction{},
		&models.Withdrawal{},
		&models.SettlementRequest{},
		&models.SystemSetting{},
		&models.CommissionRate{},
		&models.Notification{},
		&models.AuditLog{},
	)
}

// OpenStore returns the store selected by cfg.Driver. The close func releases the
// connection pool; it is a no-op for the in-memory store.
func OpenStore(cfg *config.DatabaseConfig) (repository.Store, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), func() error { return nil }, nil
	case "mysql", "":
		db, err := NewDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return repository.NewStore(db), sqlDB.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
