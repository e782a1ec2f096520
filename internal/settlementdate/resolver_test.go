package settlementdate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zrobank/otc-settlement/internal/types"
)

// Monday 2024-06-03 is a plain business day in all tests below.
func monday(hour, minute int) time.Time {
	return time.Date(2024, 6, 3, hour, minute, 0, 0, time.UTC)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveBeforeCutoffCountsFromToday(t *testing.T) {
	r := NewResolver("09:00", nil)

	tests := []struct {
		code     types.SettlementDateCode
		expected time.Time
	}{
		{types.CodeD0, day(2024, 6, 3)},
		{types.CodeD1, day(2024, 6, 4)},
		{types.CodeD2, day(2024, 6, 5)},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			got, err := r.Resolve(tt.code, monday(8, 30))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveAfterCutoffCountsFromNextBusinessDay(t *testing.T) {
	r := NewResolver("09:00", nil)

	got, err := r.Resolve(types.CodeD0, monday(9, 0))
	require.NoError(t, err)
	assert.Equal(t, day(2024, 6, 4), got)

	got, err = r.Resolve(types.CodeD1, monday(14, 0))
	require.NoError(t, err)
	assert.Equal(t, day(2024, 6, 5), got)
}

func TestResolveSkipsWeekends(t *testing.T) {
	r := NewResolver("09:00", nil)

	// Friday before cutoff, D1 lands on Monday.
	friday := time.Date(2024, 6, 7, 8, 0, 0, 0, time.UTC)
	got, err := r.Resolve(types.CodeD1, friday)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 6, 10), got)

	// Friday after cutoff, D0 already lands on Monday.
	got, err = r.Resolve(types.CodeD0, friday.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, day(2024, 6, 10), got)

	// A Saturday reference counts from the next business day even before cutoff.
	saturday := time.Date(2024, 6, 8, 8, 0, 0, 0, time.UTC)
	got, err = r.Resolve(types.CodeD0, saturday)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 6, 10), got)
}

func TestResolveSkipsHolidays(t *testing.T) {
	r := NewResolver("09:00", []string{"2024-06-04"})

	got, err := r.Resolve(types.CodeD1, monday(8, 0))
	require.NoError(t, err)
	assert.Equal(t, day(2024, 6, 5), got)
}

func TestResolveInvalidCode(t *testing.T) {
	r := NewResolver("09:00", nil)

	for _, code := range []types.SettlementDateCode{"", "D", "X1", "D-1", "Dx"} {
		_, err := r.Resolve(code, monday(8, 0))
		assert.ErrorIs(t, err, ErrInvalidDateCode, "code %q", code)
	}
}

func TestResolvePairOrdering(t *testing.T) {
	r := NewResolver("09:00", nil)

	send, receive, err := r.ResolvePair(types.CodeD1, types.CodeD2, monday(8, 0))
	require.NoError(t, err)
	assert.Equal(t, day(2024, 6, 4), send)
	assert.Equal(t, day(2024, 6, 5), receive)
	assert.False(t, receive.Before(send))

	_, _, err = r.ResolvePair(types.CodeD2, types.CodeD1, monday(8, 0))
	assert.ErrorIs(t, err, ErrDatesOutOfOrder)
}
