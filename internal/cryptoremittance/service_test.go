package cryptoremittance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/events"
	"github.com/zrobank/otc-settlement/internal/remittance"
	"github.com/zrobank/otc-settlement/internal/settlementdate"
	"github.com/zrobank/otc-settlement/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&types.RemittanceOrder{},
		&remittance.Remittance{},
		&remittance.OrderLink{},
		&CryptoRemittance{},
		&AppliedFill{},
	))
	return db
}

type stubGateway struct {
	createErr error
	created   []string
	canceled  []string
}

func (g *stubGateway) CreateOrder(_ context.Context, order *CryptoRemittance) (string, error) {
	if g.createErr != nil {
		return "", g.createErr
	}
	id := "provider-" + order.CryptoRemittanceID
	g.created = append(g.created, id)
	return id, nil
}

func (g *stubGateway) GetOrderByID(_ context.Context, providerOrderID string) (*ProviderOrder, error) {
	return &ProviderOrder{ProviderOrderID: providerOrderID, Status: types.CryptoStatusPending}, nil
}

func (g *stubGateway) CancelOrder(_ context.Context, providerOrderID string) error {
	g.canceled = append(g.canceled, providerOrderID)
	return nil
}

func newTestService(t *testing.T, db *gorm.DB, gateway Gateway) (*Service, *events.MemoryPublisher) {
	t.Helper()

	publisher := events.NewMemoryPublisher()
	svc := NewService(
		db,
		remittance.NewDatabase(db),
		gateway,
		settlementdate.NewResolver("09:00", nil),
		publisher,
		types.CodeD0, types.CodeD1,
	)
	return svc, publisher
}

func seedWaitingRemittance(t *testing.T, db *gorm.DB, amount int64) *remittance.Remittance {
	t.Helper()

	rem := &remittance.Remittance{
		RemittanceID: uuid.New().String(),
		Side:         types.SideBuy,
		Currency:     "BTC",
		Amount:       amount,
		Status:       types.RemittanceStatusWaiting,
		System:       "ZROBANK",
		Provider:     "TOPAZIO",
	}
	require.NoError(t, remittance.NewDatabase(db).CreateRemittance(rem))
	return rem
}

func seedHedge(t *testing.T, svc *Service, rem *remittance.Remittance, amount int64) *CryptoRemittance {
	t.Helper()

	hedge := &CryptoRemittance{
		CryptoRemittanceID: uuid.New().String(),
		Market:             "BTC",
		Side:               rem.Side,
		Amount:             amount,
		Status:             types.CryptoStatusPending,
		Provider:           rem.Provider,
		RemittanceID:       rem.RemittanceID,
	}
	require.NoError(t, svc.db.Create(hedge))

	hedge.ProviderOrderID = "provider-" + hedge.CryptoRemittanceID
	require.NoError(t, svc.db.Update(hedge))
	return hedge
}

func TestPlaceHedgeCreatesPendingOrder(t *testing.T) {
	db := newTestDB(t)
	gateway := &stubGateway{}
	svc, _ := newTestService(t, db, gateway)

	rem := seedWaitingRemittance(t, db, 150_00)
	orders := []types.RemittanceOrder{{
		OrderID:  uuid.New().String(),
		Currency: "BTC",
		Type:     types.OrderTypeCrypto,
	}}

	require.NoError(t, svc.PlaceHedge(context.Background(), rem, orders))

	hedges, err := svc.db.ListByStatus(types.CryptoStatusPending)
	require.NoError(t, err)
	require.Len(t, hedges, 1)
	assert.Equal(t, int64(150_00), hedges[0].Amount)
	assert.Equal(t, "BTC", hedges[0].Market)
	assert.NotEmpty(t, hedges[0].ProviderOrderID)
}

func TestPlaceHedgeMarksErrorOnGatewayFailure(t *testing.T) {
	db := newTestDB(t)
	gateway := &stubGateway{createErr: errors.New("provider down")}
	svc, _ := newTestService(t, db, gateway)

	rem := seedWaitingRemittance(t, db, 150_00)
	orders := []types.RemittanceOrder{{
		OrderID:  uuid.New().String(),
		Currency: "BTC",
		Type:     types.OrderTypeCrypto,
	}}

	err := svc.PlaceHedge(context.Background(), rem, orders)
	require.Error(t, err)

	errored, err := svc.db.ListByStatus(types.CryptoStatusError)
	require.NoError(t, err)
	assert.Len(t, errored, 1)
}

func TestPlaceHedgeRequiresCryptoLeg(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newTestService(t, db, &stubGateway{})

	rem := seedWaitingRemittance(t, db, 150_00)
	orders := []types.RemittanceOrder{{
		OrderID:  uuid.New().String(),
		Currency: "USD",
		Type:     types.OrderTypeForex,
	}}

	err := svc.PlaceHedge(context.Background(), rem, orders)
	assert.Error(t, err)
}

func TestFullFillClosesRemittance(t *testing.T) {
	db := newTestDB(t)
	svc, publisher := newTestService(t, db, &stubGateway{})

	rem := seedWaitingRemittance(t, db, 100_00)
	hedge := seedHedge(t, svc, rem, 100_00)

	fill := FillEvent{
		FillID:          uuid.New().String(),
		ProviderOrderID: hedge.ProviderOrderID,
		Amount:          100_00,
		Price:           2 * PriceScale,
	}
	require.NoError(t, svc.HandleFilled(context.Background(), fill))

	stored, err := svc.db.Get(hedge.CryptoRemittanceID)
	require.NoError(t, err)
	assert.Equal(t, types.CryptoStatusFilled, stored.Status)
	assert.Equal(t, int64(100_00), stored.ExecutedAmount)

	closed, err := remittance.NewDatabase(db).GetRemittance(rem.RemittanceID)
	require.NoError(t, err)
	assert.Equal(t, types.RemittanceStatusClosed, closed.Status)
	assert.Equal(t, int64(2*PriceScale), closed.BankQuote)
	assert.Equal(t, int64(200_00), closed.ResultAmount, "executed amount times price")
	assert.False(t, closed.SendDate.IsZero())

	kinds := publisher.Kinds()
	assert.Contains(t, kinds, events.CryptoRemittanceFilled)
	assert.Contains(t, kinds, events.RemittanceClosed)
}

func TestPartialFillsCloseOnlyWhenCovered(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newTestService(t, db, &stubGateway{})

	rem := seedWaitingRemittance(t, db, 100_00)
	hedge := seedHedge(t, svc, rem, 100_00)
	remDB := remittance.NewDatabase(db)

	first := FillEvent{
		FillID:          uuid.New().String(),
		ProviderOrderID: hedge.ProviderOrderID,
		Amount:          40_00,
		Price:           PriceScale,
	}
	require.NoError(t, svc.HandleFilled(context.Background(), first))

	stored, err := svc.db.Get(hedge.CryptoRemittanceID)
	require.NoError(t, err)
	assert.Equal(t, types.CryptoStatusPending, stored.Status)
	assert.Equal(t, int64(40_00), stored.ExecutedAmount)
	require.NotEmpty(t, stored.RemainingID, "residual order retained for the uncovered exposure")

	remaining, err := svc.db.Get(stored.RemainingID)
	require.NoError(t, err)
	assert.Equal(t, int64(60_00), remaining.Amount)

	waiting, err := remDB.GetRemittance(rem.RemittanceID)
	require.NoError(t, err)
	assert.Equal(t, types.RemittanceStatusWaiting, waiting.Status, "one partial fill does not close the remittance")

	second := FillEvent{
		FillID:          uuid.New().String(),
		ProviderOrderID: hedge.ProviderOrderID,
		Amount:          60_00,
		Price:           PriceScale,
	}
	require.NoError(t, svc.HandleFilled(context.Background(), second))

	stored, err = svc.db.Get(hedge.CryptoRemittanceID)
	require.NoError(t, err)
	assert.Equal(t, types.CryptoStatusFilled, stored.Status)
	assert.Equal(t, int64(100_00), stored.ExecutedAmount)

	remaining, err = svc.db.Get(stored.RemainingID)
	require.NoError(t, err)
	assert.Equal(t, types.CryptoStatusCanceled, remaining.Status, "residual canceled once parent fills")

	closed, err := remDB.GetRemittance(rem.RemittanceID)
	require.NoError(t, err)
	assert.Equal(t, types.RemittanceStatusClosed, closed.Status)
}

func TestReplayedFillIsNoOp(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newTestService(t, db, &stubGateway{})

	rem := seedWaitingRemittance(t, db, 100_00)
	hedge := seedHedge(t, svc, rem, 100_00)

	fill := FillEvent{
		FillID:          "fill-1",
		ProviderOrderID: hedge.ProviderOrderID,
		Amount:          40_00,
		Price:           PriceScale,
	}
	require.NoError(t, svc.HandleFilled(context.Background(), fill))
	require.NoError(t, svc.HandleFilled(context.Background(), fill))

	stored, err := svc.db.Get(hedge.CryptoRemittanceID)
	require.NoError(t, err)
	assert.Equal(t, int64(40_00), stored.ExecutedAmount, "replayed fill must not double-count")
}

func TestFillForUnknownProviderOrderIsSkipped(t *testing.T) {
	db := newTestDB(t)
	svc, publisher := newTestService(t, db, &stubGateway{})

	fill := FillEvent{
		FillID:          uuid.New().String(),
		ProviderOrderID: "never-seen",
		Amount:          40_00,
		Price:           PriceScale,
	}
	require.NoError(t, svc.HandleFilled(context.Background(), fill))
	assert.Empty(t, publisher.Events())
}

func TestFillAcrossMultipleHedgesSumsExposure(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newTestService(t, db, &stubGateway{})

	rem := seedWaitingRemittance(t, db, 100_00)
	hedgeA := seedHedge(t, svc, rem, 60_00)
	hedgeB := seedHedge(t, svc, rem, 40_00)
	remDB := remittance.NewDatabase(db)

	require.NoError(t, svc.HandleFilled(context.Background(), FillEvent{
		FillID:          uuid.New().String(),
		ProviderOrderID: hedgeA.ProviderOrderID,
		Amount:          60_00,
		Price:           PriceScale,
	}))

	waiting, err := remDB.GetRemittance(rem.RemittanceID)
	require.NoError(t, err)
	assert.Equal(t, types.RemittanceStatusWaiting, waiting.Status)

	require.NoError(t, svc.HandleFilled(context.Background(), FillEvent{
		FillID:          uuid.New().String(),
		ProviderOrderID: hedgeB.ProviderOrderID,
		Amount:          40_00,
		Price:           PriceScale,
	}))

	closed, err := remDB.GetRemittance(rem.RemittanceID)
	require.NoError(t, err)
	assert.Equal(t, types.RemittanceStatusClosed, closed.Status)
}
