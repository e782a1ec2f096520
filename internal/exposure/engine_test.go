package exposure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zrobank/otc-settlement/internal/types"
)

func usdRule() *Rule {
	return &Rule{
		RuleID:   "rule-usd",
		Currency: "USD",
		Amount:   100_00,
		Seconds:  3600,
		DateRules: []SettlementDateRule{
			// Deliberately out of order: the engine must sort ascending.
			{Amount: 200_00, SendDate: types.CodeD1, ReceiveDate: types.CodeD2},
			{Amount: 50_00, SendDate: types.CodeD0, ReceiveDate: types.CodeD1},
		},
	}
}

func TestEvaluateBelowThresholdWithinWindow(t *testing.T) {
	decision, err := Evaluate(usdRule(), 70_00, 10*time.Minute)
	require.NoError(t, err)

	assert.False(t, decision.ShouldClose)
	assert.False(t, decision.Unbounded)
	// 70_00 exceeds the 50_00 bracket, so the 200_00 bracket applies.
	assert.Equal(t, int64(200_00), decision.DateRule.Amount)
	assert.Equal(t, types.CodeD1, decision.DateRule.SendDate)
	assert.Equal(t, types.CodeD2, decision.DateRule.ReceiveDate)
}

func TestEvaluateBracketSelection(t *testing.T) {
	tests := []struct {
		name      string
		exposure  int64
		bracket   int64
		unbounded bool
	}{
		{"small exposure uses least permissive bracket", 30_00, 50_00, false},
		{"boundary amount stays in its bracket", 50_00, 50_00, false},
		{"above first bracket moves to next", 80_00, 200_00, false},
		{"above every bracket falls back to largest", 500_00, 200_00, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := Evaluate(usdRule(), tt.exposure, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.bracket, decision.DateRule.Amount)
			assert.Equal(t, tt.unbounded, decision.Unbounded)
		})
	}
}

func TestEvaluateAmountThresholdCloses(t *testing.T) {
	decision, err := Evaluate(usdRule(), 100_00, time.Minute)
	require.NoError(t, err)
	assert.True(t, decision.ShouldClose)

	decision, err = Evaluate(usdRule(), 150_00, time.Minute)
	require.NoError(t, err)
	assert.True(t, decision.ShouldClose)
}

func TestEvaluateTimeWindowClosesRegardlessOfAmount(t *testing.T) {
	decision, err := Evaluate(usdRule(), 10_00, time.Hour)
	require.NoError(t, err)
	assert.True(t, decision.ShouldClose, "window elapsed must close even tiny exposure")

	decision, err = Evaluate(usdRule(), 10_00, 59*time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.ShouldClose)
}

func TestEvaluateMissingConfiguration(t *testing.T) {
	_, err := Evaluate(nil, 10_00, time.Minute)
	assert.ErrorIs(t, err, ErrNoRule)

	_, err = Evaluate(&Rule{Currency: "EUR", Amount: 100, Seconds: 60}, 10_00, time.Minute)
	assert.ErrorIs(t, err, ErrNoDateRules)
}
