package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/cryptoremittance"
	"github.com/zrobank/otc-settlement/internal/database/migrations"
	"github.com/zrobank/otc-settlement/internal/orders"
	"github.com/zrobank/otc-settlement/internal/remittance"
	"github.com/zrobank/otc-settlement/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddExposureRules(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddExchangeQuotations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.RemittanceOrder{},
		&orders.IdempotencyRecord{},
		&remittance.Remittance{},
		&remittance.OrderLink{},
		&remittance.CurrentGroup{},
		&cryptoremittance.CryptoRemittance{},
		&cryptoremittance.AppliedFill{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
