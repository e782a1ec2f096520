package orders

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zrobank/otc-settlement/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetOrder(orderID string) (*types.RemittanceOrder, error) {
	var order types.RemittanceOrder
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) ListOrders(status types.RemittanceOrderStatus) ([]types.RemittanceOrder, error) {
	var list []types.RemittanceOrder
	query := d.db.Order("created_at ASC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// CreateOrderWithIdempotency creates the order and its idempotency record in
// one transaction so a partially-applied submission cannot be observed. The
// record is upserted on its key, so an expired key can be reclaimed by a
// fresh submission.
func (d *Database) CreateOrderWithIdempotency(order *types.RemittanceOrder, idempotencyKey string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		record := IdempotencyRecord{
			IdempotencyKey: idempotencyKey,
			ResourceID:     order.OrderID,
			ResourceType:   "remittance_order",
			ExpiresAt:      time.Now().Add(24 * time.Hour),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"resource_id", "expires_at", "updated_at"}),
		}).Create(&record).Error
	})
}

// GetIdempotencyRecord retrieves an idempotency record by key, nil when the
// key has never been used.
func (d *Database) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
