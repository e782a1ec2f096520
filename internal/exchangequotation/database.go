package exchangequotation

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/remittance"
	"github.com/zrobank/otc-settlement/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) Get(quotationID string) (*ExchangeQuotation, error) {
	var q ExchangeQuotation
	if err := d.db.Where("quotation_id = ?", quotationID).First(&q).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &q, nil
}

func (d *Database) Update(q *ExchangeQuotation) error {
	q.UpdatedAt = time.Now()
	return d.db.Save(q).Error
}

func (d *Database) List() ([]ExchangeQuotation, error) {
	var quotations []ExchangeQuotation
	if err := d.db.Order("created_at ASC").Find(&quotations).Error; err != nil {
		return nil, err
	}
	return quotations, nil
}

func (d *Database) ListByStates(states ...types.QuotationState) ([]ExchangeQuotation, error) {
	var quotations []ExchangeQuotation
	if err := d.db.Where("state IN ?", states).Order("created_at ASC").Find(&quotations).Error; err != nil {
		return nil, err
	}
	return quotations, nil
}

// IsAssigned reports whether the remittance already belongs to a quotation.
func (d *Database) IsAssigned(remittanceID string) (bool, error) {
	var count int64
	if err := d.db.Model(&RemittanceLink{}).Where("remittance_id = ?", remittanceID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// PersistAcceptedBatch writes the accepted quotation and links every
// remittance in one transaction. The unique index on RemittanceID makes a
// racing double-submission abort the whole transaction, so either all
// remittances are linked or none.
func (d *Database) PersistAcceptedBatch(q *ExchangeQuotation, remittanceIDs []string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(q).Error; err != nil {
			return err
		}
		for _, remittanceID := range remittanceIDs {
			link := RemittanceLink{
				RemittanceID: remittanceID,
				QuotationID:  q.QuotationID,
				CreatedAt:    time.Now(),
			}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Database) GetLinkedRemittanceIDs(quotationID string) ([]string, error) {
	var ids []string
	err := d.db.Model(&RemittanceLink{}).
		Where("quotation_id = ?", quotationID).
		Pluck("remittance_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ReleaseLinks detaches every remittance from the quotation so the next
// scheduling tick can batch them again.
func (d *Database) ReleaseLinks(quotationID string) error {
	return d.db.Unscoped().Where("quotation_id = ?", quotationID).Delete(&RemittanceLink{}).Error
}

// ListClosedUnassigned returns CLOSED remittances not yet batched into any
// quotation, oldest first.
func (d *Database) ListClosedUnassigned() ([]remittance.Remittance, error) {
	var remittances []remittance.Remittance
	err := d.db.
		Where("status = ?", types.RemittanceStatusClosed).
		Where("remittance_id NOT IN (?)", d.db.Model(&RemittanceLink{}).Select("remittance_id")).
		Order("created_at ASC").
		Find(&remittances).Error
	if err != nil {
		return nil, err
	}
	return remittances, nil
}

// CompleteWithContract finalizes the quotation: the contract row, the state
// change and the contract-number attachment to every linked remittance
// commit together.
func (d *Database) CompleteWithContract(q *ExchangeQuotation, contract *ExchangeContract, remittanceIDs []string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(contract).Error; err != nil {
			return err
		}
		if err := tx.Save(q).Error; err != nil {
			return err
		}
		return tx.Model(&remittance.Remittance{}).
			Where("remittance_id IN ?", remittanceIDs).
			Updates(map[string]interface{}{
				"contract_number": contract.ContractNumber,
				"updated_at":      time.Now(),
			}).Error
	})
}
