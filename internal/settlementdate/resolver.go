package settlementdate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zrobank/otc-settlement/internal/types"
)

var (
	ErrInvalidDateCode = errors.New("invalid settlement date code")
	ErrInvalidCutoff   = errors.New("invalid market cutoff time")
	ErrDatesOutOfOrder = errors.New("receive date precedes send date")
)

// Resolver maps settlement date codes (D0, D1, D2, ...) onto concrete
// calendar dates, counting business days from a reference instant and
// respecting the market-open cutoff: references before the cutoff count
// from today, references at or after it count from the next business day.
type Resolver struct {
	marketOpen string // HH:mm
	holidays   map[string]bool
}

// NewResolver creates a resolver with the given market-open cutoff (HH:mm)
// and an optional holiday calendar (dates formatted 2006-01-02).
func NewResolver(marketOpen string, holidays []string) *Resolver {
	h := make(map[string]bool, len(holidays))
	for _, d := range holidays {
		h[d] = true
	}
	return &Resolver{
		marketOpen: marketOpen,
		holidays:   h,
	}
}

// Resolve maps a single code to a calendar date counted from ref.
func (r *Resolver) Resolve(code types.SettlementDateCode, ref time.Time) (time.Time, error) {
	offset, err := parseCode(code)
	if err != nil {
		return time.Time{}, err
	}

	cutoff, err := r.cutoffFor(ref)
	if err != nil {
		return time.Time{}, err
	}

	base := truncateToDay(ref)
	if !ref.Before(cutoff) {
		base = nextBusinessDay(base, r.holidays)
	} else if !r.isBusinessDay(base) {
		base = nextBusinessDay(base, r.holidays)
	}

	date := base
	for i := 0; i < offset; i++ {
		date = nextBusinessDay(date, r.holidays)
	}
	return date, nil
}

// ResolvePair resolves send and receive codes against the same reference
// instant, guaranteeing sendDate <= receiveDate.
func (r *Resolver) ResolvePair(sendCode, receiveCode types.SettlementDateCode, ref time.Time) (sendDate, receiveDate time.Time, err error) {
	sendDate, err = r.Resolve(sendCode, ref)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	receiveDate, err = r.Resolve(receiveCode, ref)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if receiveDate.Before(sendDate) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s < %s", ErrDatesOutOfOrder, receiveCode, sendCode)
	}
	return sendDate, receiveDate, nil
}

func (r *Resolver) cutoffFor(ref time.Time) (time.Time, error) {
	parts := strings.Split(r.marketOpen, ":")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCutoff, r.marketOpen)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCutoff, r.marketOpen)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCutoff, r.marketOpen)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location()), nil
}

func (r *Resolver) isBusinessDay(day time.Time) bool {
	return isBusinessDay(day, r.holidays)
}

// parseCode accepts codes of the form D<n> where n is a non-negative
// business-day offset.
func parseCode(code types.SettlementDateCode) (int, error) {
	s := string(code)
	if len(s) < 2 || s[0] != 'D' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDateCode, code)
	}
	offset, err := strconv.Atoi(s[1:])
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDateCode, code)
	}
	return offset, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func isBusinessDay(day time.Time, holidays map[string]bool) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !holidays[day.Format("2006-01-02")]
}

func nextBusinessDay(day time.Time, holidays map[string]bool) time.Time {
	next := day.AddDate(0, 0, 1)
	for !isBusinessDay(next, holidays) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
