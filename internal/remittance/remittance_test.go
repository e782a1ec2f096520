package remittance

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zrobank/otc-settlement/internal/events"
	"github.com/zrobank/otc-settlement/internal/settlementdate"
	"github.com/zrobank/otc-settlement/internal/types"
)

func TestTransitionToIsMonotonic(t *testing.T) {
	tests := []struct {
		name    string
		from    types.RemittanceStatus
		to      types.RemittanceStatus
		wantErr bool
	}{
		{"open to waiting", types.RemittanceStatusOpen, types.RemittanceStatusWaiting, false},
		{"open to closed", types.RemittanceStatusOpen, types.RemittanceStatusClosed, false},
		{"waiting to closed", types.RemittanceStatusWaiting, types.RemittanceStatusClosed, false},
		{"open to manual", types.RemittanceStatusOpen, types.RemittanceStatusClosedManually, false},
		{"waiting to manual", types.RemittanceStatusWaiting, types.RemittanceStatusClosedManually, false},
		{"closed to manual", types.RemittanceStatusClosed, types.RemittanceStatusClosedManually, false},
		{"closed to open", types.RemittanceStatusClosed, types.RemittanceStatusOpen, true},
		{"closed to waiting", types.RemittanceStatusClosed, types.RemittanceStatusWaiting, true},
		{"waiting to open", types.RemittanceStatusWaiting, types.RemittanceStatusOpen, true},
		{"same state", types.RemittanceStatusOpen, types.RemittanceStatusOpen, true},
		{"manual is terminal", types.RemittanceStatusClosedManually, types.RemittanceStatusClosed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rem := &Remittance{Status: tt.from}
			err := rem.TransitionTo(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, rem.Status, "status unchanged on rejected transition")
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, rem.Status)
			}
		})
	}
}

func newTestService(t *testing.T) (*Service, *events.MemoryPublisher) {
	t.Helper()

	db := newTestDB(t)
	publisher := events.NewMemoryPublisher()
	svc := NewService(db, settlementdate.NewResolver("09:00", nil), publisher, types.CodeD0, types.CodeD1)
	return svc, publisher
}

func TestManuallyCloseStampsQuoteAndDates(t *testing.T) {
	svc, publisher := newTestService(t)

	rem := &Remittance{
		RemittanceID: uuid.New().String(),
		Side:         types.SideBuy,
		Currency:     "USD",
		Amount:       250_00,
		Status:       types.RemittanceStatusWaiting,
	}
	require.NoError(t, svc.db.CreateRemittance(rem))

	closed, err := svc.ManuallyClose(rem.RemittanceID, 5_2000, 1_300_00)
	require.NoError(t, err)

	assert.Equal(t, types.RemittanceStatusClosedManually, closed.Status)
	assert.Equal(t, int64(5_2000), closed.BankQuote)
	assert.Equal(t, int64(1_300_00), closed.ResultAmount)
	assert.False(t, closed.SendDate.IsZero())
	assert.False(t, closed.ReceiveDate.IsZero())

	assert.Contains(t, publisher.Kinds(), events.RemittanceManuallyClosed)
}

func TestManuallyCloseIsOneWay(t *testing.T) {
	svc, _ := newTestService(t)

	rem := &Remittance{
		RemittanceID: uuid.New().String(),
		Currency:     "USD",
		Status:       types.RemittanceStatusOpen,
	}
	require.NoError(t, svc.db.CreateRemittance(rem))

	_, err := svc.ManuallyClose(rem.RemittanceID, 100, 100)
	require.NoError(t, err)

	// A second manual close must be rejected
	_, err = svc.ManuallyClose(rem.RemittanceID, 200, 200)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := svc.db.GetRemittance(rem.RemittanceID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.BankQuote, "first close's data is preserved")
}

func TestManuallyCloseValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ManuallyClose("does-not-exist", 100, 100)
	assert.ErrorIs(t, err, ErrRemittanceNotFound)

	rem := &Remittance{
		RemittanceID: uuid.New().String(),
		Currency:     "USD",
		Status:       types.RemittanceStatusOpen,
	}
	require.NoError(t, svc.db.CreateRemittance(rem))

	_, err = svc.ManuallyClose(rem.RemittanceID, 0, 100)
	assert.ErrorIs(t, err, ErrMissingData)

	_, err = svc.ManuallyClose(rem.RemittanceID, 100, -5)
	assert.ErrorIs(t, err, ErrMissingData)

	noCurrency := &Remittance{
		RemittanceID: uuid.New().String(),
		Status:       types.RemittanceStatusOpen,
	}
	require.NoError(t, svc.db.CreateRemittance(noCurrency))

	_, err = svc.ManuallyClose(noCurrency.RemittanceID, 100, 100)
	assert.ErrorIs(t, err, ErrMissingData)
}
