package orders

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.RemittanceOrder{}, &IdempotencyRecord{}))

	return NewService(db)
}

func validOrder() *types.RemittanceOrder {
	return &types.RemittanceOrder{
		Side:     types.SideBuy,
		Currency: "USD",
		Amount:   100_00,
		Type:     types.OrderTypeForex,
		System:   "ZROBANK",
		Provider: "TOPAZIO",
	}
}

func TestCreateOrderAssignsIDAndPendingStatus(t *testing.T) {
	svc := newTestService(t)

	order := validOrder()
	require.NoError(t, svc.CreateOrder(order, "key-1"))

	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, types.OrderStatusPending, order.Status)

	stored, err := svc.GetOrder(order.OrderID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(100_00), stored.Amount)
}

func TestCreateOrderIsIdempotent(t *testing.T) {
	svc := newTestService(t)

	first := validOrder()
	require.NoError(t, svc.CreateOrder(first, "key-1"))

	// Retry with the same key returns the original order instead of
	// creating a second one
	second := validOrder()
	second.Amount = 999_99
	require.NoError(t, svc.CreateOrder(second, "key-1"))

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, int64(100_00), second.Amount)

	orders, err := svc.ListOrders(types.OrderStatusPending)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestCreateOrderDifferentKeysCreateDistinctOrders(t *testing.T) {
	svc := newTestService(t)

	first := validOrder()
	require.NoError(t, svc.CreateOrder(first, "key-1"))
	second := validOrder()
	require.NoError(t, svc.CreateOrder(second, "key-2"))

	assert.NotEqual(t, first.OrderID, second.OrderID)
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newTestService(t)

	badSide := validOrder()
	badSide.Side = "SHORT"
	assert.ErrorIs(t, svc.CreateOrder(badSide, "k1"), ErrInvalidSide)

	badType := validOrder()
	badType.Type = "BOND"
	assert.ErrorIs(t, svc.CreateOrder(badType, "k2"), ErrInvalidType)

	badAmount := validOrder()
	badAmount.Amount = 0
	assert.ErrorIs(t, svc.CreateOrder(badAmount, "k3"), ErrInvalidAmount)

	noCurrency := validOrder()
	noCurrency.Currency = ""
	assert.ErrorIs(t, svc.CreateOrder(noCurrency, "k4"), ErrMissingField)
}

func TestCreateOrderExpiredKeyCreatesFreshOrder(t *testing.T) {
	svc := newTestService(t)

	first := validOrder()
	require.NoError(t, svc.CreateOrder(first, "key-1"))

	// Age the record past its expiry, as if 24h elapsed.
	require.NoError(t, svc.db.db.Model(&IdempotencyRecord{}).
		Where("idempotency_key = ?", "key-1").
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	second := validOrder()
	require.NoError(t, svc.CreateOrder(second, "key-1"))
	assert.NotEqual(t, first.OrderID, second.OrderID)

	record, err := svc.db.GetIdempotencyRecord("key-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, second.OrderID, record.ResourceID)
	assert.True(t, record.ExpiresAt.After(time.Now()))

	// A retry within the fresh window returns the new order.
	third := validOrder()
	require.NoError(t, svc.CreateOrder(third, "key-1"))
	assert.Equal(t, second.OrderID, third.OrderID)
}
