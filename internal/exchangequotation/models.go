package exchangequotation

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/types"
)

var ErrInvalidStateTransition = errors.New("invalid exchange quotation state transition")

// RateScale is the fixed-point scale of the stored quotation rate: a rate of
// 1.0 is stored as 1e8.
const RateScale int64 = 100_000_000

// ExchangeQuotation is a PSP-side FX quotation request batching one or more
// closed remittances that share currency, provider, system and settlement
// dates.
type ExchangeQuotation struct {
	gorm.Model        `json:"-"`
	QuotationID       string               `gorm:"uniqueIndex" json:"quotation_id"`
	Quotation         int64                `json:"quotation"`
	State             types.QuotationState `json:"state"`
	QuotationPspID    string               `json:"quotation_psp_id"`
	SolicitationPspID string               `gorm:"index" json:"solicitation_psp_id"`
	GatewayName       string               `json:"gateway_name"`
	Amount            int64                `json:"amount"`
	AmountExternal    int64                `json:"amount_external_currency"`
	Currency          string               `json:"currency"`
	Side              types.Side           `json:"side"`
	Provider          string               `json:"provider"`
	System            string               `json:"system"`
	OperationID       string               `json:"operation_id"`
	SendDate          time.Time            `json:"send_date"`
	ReceiveDate       time.Time            `json:"receive_date"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

var stateRank = map[types.QuotationState]int{
	types.QuotationStateReady:     0,
	types.QuotationStateAccept:    1,
	types.QuotationStateApproved:  2,
	types.QuotationStateCompleted: 3,
}

// TransitionTo enforces READY -> ACCEPT -> APPROVED -> COMPLETED, with
// REJECTED and CANCELED as alternate terminal states reachable from READY,
// ACCEPT and APPROVED.
func (q *ExchangeQuotation) TransitionTo(next types.QuotationState) error {
	if q.State == types.QuotationStateRejected || q.State == types.QuotationStateCanceled || q.State == types.QuotationStateCompleted {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidStateTransition, q.State)
	}

	if next == types.QuotationStateRejected || next == types.QuotationStateCanceled {
		q.State = next
		return nil
	}

	currentRank, ok := stateRank[q.State]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidStateTransition, q.State)
	}
	nextRank, ok := stateRank[next]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidStateTransition, next)
	}
	if nextRank <= currentRank {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, q.State, next)
	}
	q.State = next
	return nil
}

// IsOpen reports whether the quotation can still be rejected or advanced.
func (q *ExchangeQuotation) IsOpen() bool {
	switch q.State {
	case types.QuotationStateReady, types.QuotationStateAccept, types.QuotationStateApproved:
		return true
	}
	return false
}

// RemittanceLink assigns a remittance to the quotation batching it. The
// unique index on RemittanceID is the hard guard against double submission:
// a remittance can belong to at most one quotation at a time.
type RemittanceLink struct {
	gorm.Model   `json:"-"`
	RemittanceID string    `gorm:"uniqueIndex" json:"remittance_id"`
	QuotationID  string    `gorm:"index" json:"quotation_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExchangeContract is the final signed settlement contract issued when a
// quotation completes; its number attaches to every batched remittance.
type ExchangeContract struct {
	gorm.Model     `json:"-"`
	ContractID     string    `gorm:"uniqueIndex" json:"contract_id"`
	ContractNumber string    `json:"contract_number"`
	QuotationID    string    `gorm:"index" json:"quotation_id"`
	CreatedAt      time.Time `json:"created_at"`
}
