package exchangequotation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/events"
	"github.com/zrobank/otc-settlement/internal/operation"
	"github.com/zrobank/otc-settlement/internal/quotation"
	"github.com/zrobank/otc-settlement/internal/remittance"
	"github.com/zrobank/otc-settlement/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&remittance.Remittance{},
		&ExchangeQuotation{},
		&RemittanceLink{},
		&ExchangeContract{},
	))
	return db
}

type stubGateway struct {
	createErr error
	created   []CreateRequest
	statuses  map[string]StatusResult
	rejected  []string
}

func (g *stubGateway) Name() string { return "STUB" }

func (g *stubGateway) CreateAndAccept(_ context.Context, req CreateRequest) (*CreateResult, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, req)
	return &CreateResult{
		QuotationPspID:    uuid.New().String(),
		SolicitationPspID: "sol-" + req.QuotationID,
	}, nil
}

func (g *stubGateway) GetBySolicitationID(_ context.Context, solicitationPspID string) (*StatusResult, error) {
	status, ok := g.statuses[solicitationPspID]
	if !ok {
		return nil, errors.New("unknown solicitation")
	}
	return &status, nil
}

func (g *stubGateway) Reject(_ context.Context, solicitationPspID string) error {
	g.rejected = append(g.rejected, solicitationPspID)
	return nil
}

func newTestService(t *testing.T, db *gorm.DB, gateway Gateway) (*Service, *events.MemoryPublisher) {
	t.Helper()

	publisher := events.NewMemoryPublisher()
	svc := NewService(
		db,
		remittance.NewDatabase(db),
		quotation.Static{Rate: decimal.NewFromInt(5)},
		operation.Noop{},
		gateway,
		publisher,
	)
	return svc, publisher
}

func seedClosedRemittance(t *testing.T, db *gorm.DB, currency string, side types.Side, amount int64) *remittance.Remittance {
	t.Helper()

	day := time.Now().Truncate(24 * time.Hour)
	rem := &remittance.Remittance{
		RemittanceID: uuid.New().String(),
		Side:         side,
		Currency:     currency,
		Amount:       amount,
		Status:       types.RemittanceStatusClosed,
		System:       "ZROBANK",
		Provider:     "TOPAZIO",
		SendDate:     day,
		ReceiveDate:  day.AddDate(0, 0, 1),
	}
	require.NoError(t, remittance.NewDatabase(db).CreateRemittance(rem))
	return rem
}

func TestQuotationStateMachine(t *testing.T) {
	tests := []struct {
		name    string
		from    types.QuotationState
		to      types.QuotationState
		wantErr bool
	}{
		{"ready to accept", types.QuotationStateReady, types.QuotationStateAccept, false},
		{"accept to approved", types.QuotationStateAccept, types.QuotationStateApproved, false},
		{"approved to completed", types.QuotationStateApproved, types.QuotationStateCompleted, false},
		{"accept to completed", types.QuotationStateAccept, types.QuotationStateCompleted, false},
		{"ready to rejected", types.QuotationStateReady, types.QuotationStateRejected, false},
		{"approved to canceled", types.QuotationStateApproved, types.QuotationStateCanceled, false},
		{"approved to accept", types.QuotationStateApproved, types.QuotationStateAccept, true},
		{"completed is terminal", types.QuotationStateCompleted, types.QuotationStateCanceled, true},
		{"rejected is terminal", types.QuotationStateRejected, types.QuotationStateAccept, true},
		{"canceled is terminal", types.QuotationStateCanceled, types.QuotationStateCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &ExchangeQuotation{State: tt.from}
			err := q.TransitionTo(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStateTransition)
				assert.Equal(t, tt.from, q.State)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, q.State)
			}
		})
	}
}

func TestCreateAndAcceptBatch(t *testing.T) {
	db := newTestDB(t)
	gateway := &stubGateway{}
	svc, publisher := newTestService(t, db, gateway)

	remA := seedClosedRemittance(t, db, "USD", types.SideBuy, 100_00)
	remB := seedClosedRemittance(t, db, "USD", types.SideBuy, 200_00)

	require.NoError(t, svc.CreateAndAcceptBatch(context.Background(), []remittance.Remittance{*remA, *remB}))

	require.Len(t, gateway.created, 1)
	assert.Equal(t, int64(300_00), gateway.created[0].Amount)

	quotations, err := svc.db.ListByStates(types.QuotationStateAccept)
	require.NoError(t, err)
	require.Len(t, quotations, 1)
	q := quotations[0]
	assert.Equal(t, int64(300_00), q.Amount)
	assert.Equal(t, int64(60_00), q.AmountExternal, "amount divided by the mid rate")
	assert.Equal(t, 5*RateScale, q.Quotation)
	assert.NotEmpty(t, q.SolicitationPspID)
	assert.NotEmpty(t, q.OperationID)

	linked, err := svc.db.GetLinkedRemittanceIDs(q.QuotationID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{remA.RemittanceID, remB.RemittanceID}, linked)

	// Everything assigned; nothing left to batch
	unassigned, err := svc.db.ListClosedUnassigned()
	require.NoError(t, err)
	assert.Empty(t, unassigned)

	assert.Contains(t, publisher.Kinds(), events.ExchangeQuotationAccepted)
}

func TestBatchFailureReleasesEveryRemittance(t *testing.T) {
	db := newTestDB(t)
	gateway := &stubGateway{createErr: errors.New("psp timeout")}
	svc, publisher := newTestService(t, db, gateway)

	remA := seedClosedRemittance(t, db, "USD", types.SideBuy, 100_00)
	remB := seedClosedRemittance(t, db, "USD", types.SideBuy, 200_00)

	err := svc.CreateAndAcceptBatch(context.Background(), []remittance.Remittance{*remA, *remB})
	assert.ErrorIs(t, err, ErrPSPUnavailable)

	// No partial state: no quotation persisted, no links kept
	quotations, err := svc.db.List()
	require.NoError(t, err)
	assert.Empty(t, quotations)

	unassigned, err := svc.db.ListClosedUnassigned()
	require.NoError(t, err)
	assert.Len(t, unassigned, 2, "both remittances eligible for the next tick")

	assert.Contains(t, publisher.Kinds(), events.ExchangeQuotationFailed)

	// The next tick retries the released batch successfully
	gateway.createErr = nil
	require.NoError(t, svc.CreateAndAcceptBatch(context.Background(), unassigned))

	unassigned, err = svc.db.ListClosedUnassigned()
	require.NoError(t, err)
	assert.Empty(t, unassigned)
}

func TestBatchExcludesAssignedAndNonClosed(t *testing.T) {
	db := newTestDB(t)
	gateway := &stubGateway{}
	svc, _ := newTestService(t, db, gateway)

	eligible := seedClosedRemittance(t, db, "USD", types.SideBuy, 100_00)

	assigned := seedClosedRemittance(t, db, "USD", types.SideBuy, 200_00)
	require.NoError(t, db.Create(&RemittanceLink{
		RemittanceID: assigned.RemittanceID,
		QuotationID:  uuid.New().String(),
	}).Error)

	waiting := seedClosedRemittance(t, db, "USD", types.SideBuy, 300_00)
	waiting.Status = types.RemittanceStatusWaiting
	require.NoError(t, remittance.NewDatabase(db).UpdateRemittance(waiting))

	batch := []remittance.Remittance{*eligible, *assigned, *waiting}
	require.NoError(t, svc.CreateAndAcceptBatch(context.Background(), batch))

	quotations, err := svc.db.ListByStates(types.QuotationStateAccept)
	require.NoError(t, err)
	require.Len(t, quotations, 1)
	assert.Equal(t, int64(100_00), quotations[0].Amount, "only the eligible remittance is batched")

	linked, err := svc.db.GetLinkedRemittanceIDs(quotations[0].QuotationID)
	require.NoError(t, err)
	assert.Equal(t, []string{eligible.RemittanceID}, linked)
}

func TestBatchOfOnlyIneligibleMembersIsNoOp(t *testing.T) {
	db := newTestDB(t)
	gateway := &stubGateway{}
	svc, _ := newTestService(t, db, gateway)

	waiting := seedClosedRemittance(t, db, "USD", types.SideBuy, 100_00)
	waiting.Status = types.RemittanceStatusWaiting
	require.NoError(t, remittance.NewDatabase(db).UpdateRemittance(waiting))

	require.NoError(t, svc.CreateAndAcceptBatch(context.Background(), []remittance.Remittance{*waiting}))
	assert.Empty(t, gateway.created, "no PSP call for an empty batch")
}

func TestSyncStateAdvancesAndCompletes(t *testing.T) {
	db := newTestDB(t)
	gateway := &stubGateway{statuses: make(map[string]StatusResult)}
	svc, publisher := newTestService(t, db, gateway)

	rem := seedClosedRemittance(t, db, "USD", types.SideBuy, 100_00)
	require.NoError(t, svc.CreateAndAcceptBatch(context.Background(), []remittance.Remittance{*rem}))

	quotations, err := svc.db.ListByStates(types.QuotationStateAccept)
	require.NoError(t, err)
	require.Len(t, quotations, 1)
	q := quotations[0]

	// PSP approves
	gateway.statuses[q.SolicitationPspID] = StatusResult{State: types.QuotationStateApproved}
	require.NoError(t, svc.SyncState(context.Background()))

	stored, err := svc.db.Get(q.QuotationID)
	require.NoError(t, err)
	assert.Equal(t, types.QuotationStateApproved, stored.State)
	assert.Contains(t, publisher.Kinds(), events.ExchangeQuotationApproved)

	// PSP completes with a contract number
	gateway.statuses[q.SolicitationPspID] = StatusResult{
		State:          types.QuotationStateCompleted,
		ContractNumber: "CTR-42",
	}
	require.NoError(t, svc.SyncState(context.Background()))

	stored, err = svc.db.Get(q.QuotationID)
	require.NoError(t, err)
	assert.Equal(t, types.QuotationStateCompleted, stored.State)

	var contracts []ExchangeContract
	require.NoError(t, db.Where("quotation_id = ?", q.QuotationID).Find(&contracts).Error)
	require.Len(t, contracts, 1)
	assert.Equal(t, "CTR-42", contracts[0].ContractNumber)

	// Contract number propagates to the batched remittance
	updated, err := remittance.NewDatabase(db).GetRemittance(rem.RemittanceID)
	require.NoError(t, err)
	assert.Equal(t, "CTR-42", updated.ContractNumber)

	assert.Contains(t, publisher.Kinds(), events.ExchangeQuotationCompleted)
}

func TestCompleteRequiresContractNumber(t *testing.T) {
	db := newTestDB(t)
	gateway := &stubGateway{statuses: make(map[string]StatusResult)}
	svc, _ := newTestService(t, db, gateway)

	rem := seedClosedRemittance(t, db, "USD", types.SideBuy, 100_00)
	require.NoError(t, svc.CreateAndAcceptBatch(context.Background(), []remittance.Remittance{*rem}))

	quotations, err := svc.db.ListByStates(types.QuotationStateAccept)
	require.NoError(t, err)
	q := &quotations[0]

	gateway.statuses[q.SolicitationPspID] = StatusResult{State: types.QuotationStateCompleted}
	err = svc.syncOne(context.Background(), q)
	assert.ErrorIs(t, err, ErrMissingData)

	stored, err := svc.db.Get(q.QuotationID)
	require.NoError(t, err)
	assert.Equal(t, types.QuotationStateAccept, stored.State, "quotation untouched until the contract arrives")
}

func TestSyncStateReleasesOnRemoteRejection(t *testing.T) {
	db := newTestDB(t)
	gateway := &stubGateway{statuses: make(map[string]StatusResult)}
	svc, publisher := newTestService(t, db, gateway)

	rem := seedClosedRemittance(t, db, "USD", types.SideBuy, 100_00)
	require.NoError(t, svc.CreateAndAcceptBatch(context.Background(), []remittance.Remittance{*rem}))

	quotations, err := svc.db.ListByStates(types.QuotationStateAccept)
	require.NoError(t, err)
	q := quotations[0]

	gateway.statuses[q.SolicitationPspID] = StatusResult{State: types.QuotationStateRejected}
	require.NoError(t, svc.SyncState(context.Background()))

	stored, err := svc.db.Get(q.QuotationID)
	require.NoError(t, err)
	assert.Equal(t, types.QuotationStateRejected, stored.State)

	unassigned, err := svc.db.ListClosedUnassigned()
	require.NoError(t, err)
	assert.Len(t, unassigned, 1, "released remittance is eligible for rebatching")

	assert.Contains(t, publisher.Kinds(), events.ExchangeQuotationRejected)
}

func TestRejectOpenQuotationsWhenFeatureDisabled(t *testing.T) {
	db := newTestDB(t)
	gateway := &stubGateway{}
	svc, publisher := newTestService(t, db, gateway)

	rem := seedClosedRemittance(t, db, "USD", types.SideBuy, 100_00)
	require.NoError(t, svc.CreateAndAcceptBatch(context.Background(), []remittance.Remittance{*rem}))

	require.NoError(t, svc.RejectOpenQuotations(context.Background()))

	require.Len(t, gateway.rejected, 1)

	rejected, err := svc.db.ListByStates(types.QuotationStateRejected)
	require.NoError(t, err)
	assert.Len(t, rejected, 1)

	unassigned, err := svc.db.ListClosedUnassigned()
	require.NoError(t, err)
	assert.Len(t, unassigned, 1)

	assert.Contains(t, publisher.Kinds(), events.ExchangeQuotationRejected)
}

func TestProcessorGroupsBatchesByCompatibility(t *testing.T) {
	db := newTestDB(t)
	gateway := &stubGateway{}
	svc, _ := newTestService(t, db, gateway)
	proc := NewProcessor(svc, func() bool { return true }, time.Second)

	seedClosedRemittance(t, db, "USD", types.SideBuy, 100_00)
	seedClosedRemittance(t, db, "USD", types.SideBuy, 50_00)
	seedClosedRemittance(t, db, "USD", types.SideSell, 70_00)
	seedClosedRemittance(t, db, "EUR", types.SideBuy, 30_00)

	require.NoError(t, proc.submitClosedBatches(context.Background()))

	quotations, err := svc.db.ListByStates(types.QuotationStateAccept)
	require.NoError(t, err)
	require.Len(t, quotations, 3, "one quotation per currency/side batch")

	amounts := make(map[string]int64)
	for _, q := range quotations {
		amounts[q.Currency+"|"+string(q.Side)] = q.Amount
	}
	assert.Equal(t, int64(150_00), amounts["USD|BUY"])
	assert.Equal(t, int64(70_00), amounts["USD|SELL"])
	assert.Equal(t, int64(30_00), amounts["EUR|BUY"])
}
