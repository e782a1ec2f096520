package types

import (
	"time"

	"gorm.io/gorm"
)

// Side is the direction of an FX/crypto exposure.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// RemittanceOrderStatus tracks an order through grouping.
type RemittanceOrderStatus string

const (
	OrderStatusPending RemittanceOrderStatus = "PENDING"
	OrderStatusClosed  RemittanceOrderStatus = "CLOSED"
)

// OrderType distinguishes exposures that need a crypto hedge leg from plain
// FX exposures that settle directly with the bank.
const (
	OrderTypeCrypto = "CRYPTO"
	OrderTypeForex  = "FX"
)

// RemittanceStatus tracks an aggregated remittance through settlement.
// Transitions are monotonic: OPEN -> WAITING -> CLOSED, with CLOSED_MANUALLY
// reachable one-way from any other state via operator action.
type RemittanceStatus string

const (
	RemittanceStatusOpen           RemittanceStatus = "OPEN"
	RemittanceStatusWaiting        RemittanceStatus = "WAITING"
	RemittanceStatusClosed         RemittanceStatus = "CLOSED"
	RemittanceStatusClosedManually RemittanceStatus = "CLOSED_MANUALLY"
)

// CryptoRemittanceStatus tracks a hedge order at the liquidity provider.
type CryptoRemittanceStatus string

const (
	CryptoStatusPending  CryptoRemittanceStatus = "PENDING"
	CryptoStatusFilled   CryptoRemittanceStatus = "FILLED"
	CryptoStatusCanceled CryptoRemittanceStatus = "CANCELED"
	CryptoStatusError    CryptoRemittanceStatus = "ERROR"
)

// QuotationState tracks a PSP exchange quotation.
type QuotationState string

const (
	QuotationStateReady     QuotationState = "READY"
	QuotationStateAccept    QuotationState = "ACCEPT"
	QuotationStateApproved  QuotationState = "APPROVED"
	QuotationStateCompleted QuotationState = "COMPLETED"
	QuotationStateRejected  QuotationState = "REJECTED"
	QuotationStateCanceled  QuotationState = "CANCELED"
)

// SettlementDateCode is a symbolic business-day offset (D0, D1, D2, ...).
type SettlementDateCode string

const (
	CodeD0 SettlementDateCode = "D0"
	CodeD1 SettlementDateCode = "D1"
	CodeD2 SettlementDateCode = "D2"
)

// RemittanceOrder is a single desired FX/crypto movement before grouping.
// All monetary amounts across the system are integers in minor units.
type RemittanceOrder struct {
	gorm.Model `json:"-"`
	OrderID    string                `gorm:"uniqueIndex" json:"order_id"`
	Side       Side                  `json:"side"`
	Currency   string                `json:"currency"`
	Amount     int64                 `json:"amount"`
	Status     RemittanceOrderStatus `json:"status"`
	Type       string                `json:"type"`
	System     string                `json:"system"`
	Provider   string                `json:"provider"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}
