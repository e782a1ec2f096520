package migrations

import (
	"github.com/zrobank/otc-settlement/internal/exchangequotation"
	"gorm.io/gorm"
)

// AddExchangeQuotations creates the quotation tables and required indexes
func AddExchangeQuotations(db *gorm.DB) error {
	if err := db.AutoMigrate(&exchangequotation.ExchangeQuotation{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&exchangequotation.RemittanceLink{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&exchangequotation.ExchangeContract{}); err != nil {
		return err
	}

	// Add indexes for better query performance
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Index for state filtering, the processor's hottest query
		`CREATE INDEX IF NOT EXISTS idx_exchange_quotations_state
		 ON exchange_quotations(state)`,

		// Composite index for batch grouping of closed remittances
		`CREATE INDEX IF NOT EXISTS idx_exchange_quotations_currency_side
		 ON exchange_quotations(currency, side)`,

		// Index for created_at timestamp (useful for time-based queries)
		`CREATE INDEX IF NOT EXISTS idx_exchange_quotations_created_at
		 ON exchange_quotations(created_at)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
