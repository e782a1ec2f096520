package remittance

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GormDB exposes the underlying handle for cross-package transactions.
func (d *Database) GormDB() *gorm.DB {
	return d.db
}

func (d *Database) CreateRemittance(r *Remittance) error {
	return d.db.Create(r).Error
}

func (d *Database) GetRemittance(remittanceID string) (*Remittance, error) {
	var r Remittance
	if err := d.db.Where("remittance_id = ?", remittanceID).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (d *Database) UpdateRemittance(r *Remittance) error {
	r.UpdatedAt = time.Now()
	return d.db.Save(r).Error
}

func (d *Database) ListRemittancesByStatus(status types.RemittanceStatus) ([]Remittance, error) {
	var remittances []Remittance
	if err := d.db.Where("status = ?", status).Order("created_at ASC").Find(&remittances).Error; err != nil {
		return nil, err
	}
	return remittances, nil
}

// Orders

func (d *Database) GetPendingOrders() ([]types.RemittanceOrder, error) {
	var orders []types.RemittanceOrder
	if err := d.db.Where("status = ?", types.OrderStatusPending).
		Order("created_at ASC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
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

// ConsumeOrder persists the group accumulation, links the order to the
// group's remittance, and marks it CLOSED in one transaction, so an order is
// never counted without being consumed even if the tick dies mid-way.
func (d *Database) ConsumeOrder(order *types.RemittanceOrder, group *CurrentGroup) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(group).Error; err != nil {
			return err
		}

		link := OrderLink{
			OrderID:      order.OrderID,
			RemittanceID: group.RemittanceID,
			CreatedAt:    time.Now(),
		}
		if err := tx.Create(&link).Error; err != nil {
			return err
		}

		order.Status = types.OrderStatusClosed
		order.UpdatedAt = time.Now()
		return tx.Save(order).Error
	})
}

func (d *Database) GetOrdersForRemittance(remittanceID string) ([]types.RemittanceOrder, error) {
	var orders []types.RemittanceOrder
	err := d.db.
		Joins("JOIN order_links ON order_links.order_id = remittance_orders.order_id").
		Where("order_links.remittance_id = ?", remittanceID).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) GetRemittancesForOrder(orderID string) ([]Remittance, error) {
	var remittances []Remittance
	err := d.db.
		Joins("JOIN order_links ON order_links.remittance_id = remittances.remittance_id").
		Where("order_links.order_id = ?", orderID).
		Find(&remittances).Error
	if err != nil {
		return nil, err
	}
	return remittances, nil
}

// Current groups

func (d *Database) GetCurrentGroup(key string) (*CurrentGroup, error) {
	var group CurrentGroup
	if err := d.db.Where("group_key = ?", key).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

func (d *Database) SaveCurrentGroup(group *CurrentGroup) error {
	return d.db.Save(group).Error
}

func (d *Database) DeleteCurrentGroup(group *CurrentGroup) error {
	return d.db.Unscoped().Delete(group).Error
}

// ListCurrentGroups returns every open exposure group, oldest first.
func (d *Database) ListCurrentGroups() ([]CurrentGroup, error) {
	var groups []CurrentGroup
	if err := d.db.Order("opened_at ASC").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}
