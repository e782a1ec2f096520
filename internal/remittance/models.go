package remittance

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/types"
)

var ErrInvalidTransition = errors.New("invalid remittance status transition")

// Remittance is an aggregated batch of same-currency/side exposure destined
// for bank settlement. Status transitions are monotonic: a closed remittance
// is never reopened; the only override is the one-way manual-close path.
type Remittance struct {
	gorm.Model     `json:"-"`
	RemittanceID   string                 `gorm:"uniqueIndex" json:"remittance_id"`
	Side           types.Side             `json:"side"`
	Currency       string                 `json:"currency"`
	Amount         int64                  `json:"amount"`
	Status         types.RemittanceStatus `json:"status"`
	BankQuote      int64                  `json:"bank_quote"`
	ResultAmount   int64                  `json:"result_amount"`
	Iof            int64                  `json:"iof"`
	SendDate       time.Time              `json:"send_date"`
	ReceiveDate    time.Time              `json:"receive_date"`
	IsConcomitant  bool                   `json:"is_concomitant"`
	System         string                 `json:"system"`
	Provider       string                 `json:"provider"`
	ContractNumber string                 `json:"contract_number"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

var statusRank = map[types.RemittanceStatus]int{
	types.RemittanceStatusOpen:           0,
	types.RemittanceStatusWaiting:        1,
	types.RemittanceStatusClosed:         2,
	types.RemittanceStatusClosedManually: 3,
}

// TransitionTo enforces monotonic status progression. CLOSED_MANUALLY is
// terminal; every other transition must move strictly forward.
func (r *Remittance) TransitionTo(next types.RemittanceStatus) error {
	currentRank, ok := statusRank[r.Status]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, r.Status)
	}
	nextRank, ok := statusRank[next]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if r.Status == types.RemittanceStatusClosedManually || nextRank <= currentRank {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// IsTerminal reports whether no further automatic transition is possible.
func (r *Remittance) IsTerminal() bool {
	return r.Status == types.RemittanceStatusClosed || r.Status == types.RemittanceStatusClosedManually
}

// OrderLink maps a remittance order onto the remittance that consumed it.
// Many orders map to one remittance.
type OrderLink struct {
	gorm.Model   `json:"-"`
	OrderID      string    `gorm:"index" json:"order_id"`
	RemittanceID string    `gorm:"index" json:"remittance_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// CurrentGroup is the per-(currency, side, system) exposure group in
// progress. Mutation is serialized by the group key lock; in a
// multi-instance deployment that lock must be distributed.
type CurrentGroup struct {
	gorm.Model   `json:"-"`
	GroupKey     string    `gorm:"uniqueIndex" json:"group_key"`
	RemittanceID string    `json:"remittance_id"`
	Currency     string    `json:"currency"`
	Side         types.Side `json:"side"`
	System       string    `json:"system"`
	Accumulated  int64     `json:"accumulated"`
	HedgeNeeded  bool      `json:"hedge_needed"`
	OpenedAt     time.Time `json:"opened_at"`
}

// GroupKey builds the serialization key for an exposure group.
func GroupKey(currency string, side types.Side, system string) string {
	return fmt.Sprintf("%s|%s|%s", currency, side, system)
}
