package migrations

import (
	"github.com/zrobank/otc-settlement/internal/exposure"
	"gorm.io/gorm"
)

// AddExposureRules creates the exposure rule tables.
func AddExposureRules(db *gorm.DB) error {
	if err := db.AutoMigrate(&exposure.Rule{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&exposure.SettlementDateRule{}); err != nil {
		return err
	}

	return nil
}
