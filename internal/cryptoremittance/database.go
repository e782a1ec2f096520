package cryptoremittance

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/types"
)

var errFillAlreadyApplied = errors.New("fill already applied")

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) Create(c *CryptoRemittance) error {
	return d.db.Create(c).Error
}

func (d *Database) Get(cryptoRemittanceID string) (*CryptoRemittance, error) {
	var c CryptoRemittance
	if err := d.db.Where("crypto_remittance_id = ?", cryptoRemittanceID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (d *Database) GetByProviderOrderID(providerOrderID string) (*CryptoRemittance, error) {
	var c CryptoRemittance
	if err := d.db.Where("provider_order_id = ?", providerOrderID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (d *Database) Update(c *CryptoRemittance) error {
	c.UpdatedAt = time.Now()
	return d.db.Save(c).Error
}

// ApplyFill folds one fill into the hedge order atomically: the applied-fill
// marker and the executed-amount increment commit together, and the
// increment is a SQL-side accumulation, never a blind SET, so concurrent
// partial fills sum instead of overwriting each other. Replays of an
// already-applied fill roll back as a no-op.
func (d *Database) ApplyFill(cryptoRemittanceID string, fill FillEvent) (*CryptoRemittance, error) {
	var updated CryptoRemittance
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&AppliedFill{}).Where("fill_id = ?", fill.FillID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errFillAlreadyApplied
		}

		applied := AppliedFill{
			FillID:             fill.FillID,
			CryptoRemittanceID: cryptoRemittanceID,
			Amount:             fill.Amount,
			Price:              fill.Price,
			CreatedAt:          time.Now(),
		}
		if err := tx.Create(&applied).Error; err != nil {
			return err
		}

		result := tx.Model(&CryptoRemittance{}).
			Where("crypto_remittance_id = ?", cryptoRemittanceID).
			Updates(map[string]interface{}{
				"executed_amount": gorm.Expr("executed_amount + ?", fill.Amount),
				"executed_price":  fill.Price,
				"fee":             gorm.Expr("fee + ?", fill.Fee),
				"updated_at":      time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		return tx.Where("crypto_remittance_id = ?", cryptoRemittanceID).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SumExecutedForRemittance totals the executed amount across every filled
// hedge order covering the remittance.
func (d *Database) SumExecutedForRemittance(remittanceID string) (int64, error) {
	var total int64
	err := d.db.Model(&CryptoRemittance{}).
		Where("remittance_id = ? AND status = ?", remittanceID, types.CryptoStatusFilled).
		Select("COALESCE(SUM(executed_amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (d *Database) ListByStatus(status types.CryptoRemittanceStatus) ([]CryptoRemittance, error) {
	var list []CryptoRemittance
	if err := d.db.Where("status = ?", status).Order("created_at ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
