package cryptoremittance

import (
	"time"

	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/types"
)

// PriceScale is the fixed-point scale of hedge prices: an executed price of
// 1.0 is stored as 1e8. Amounts stay integers in minor units throughout.
const PriceScale int64 = 100_000_000

// CryptoRemittance is a hedge order placed with a crypto liquidity provider
// to cover the currency leg of a remittance.
type CryptoRemittance struct {
	gorm.Model         `json:"-"`
	CryptoRemittanceID string                       `gorm:"uniqueIndex" json:"crypto_remittance_id"`
	Market             string                       `json:"market"`
	Side               types.Side                   `json:"side"`
	Amount             int64                        `json:"amount"`
	Price              int64                        `json:"price"`
	StopPrice          int64                        `json:"stop_price"`
	Status             types.CryptoRemittanceStatus `json:"status"`
	ExecutedPrice      int64                        `json:"executed_price"`
	ExecutedAmount     int64                        `json:"executed_amount"`
	Fee                int64                        `json:"fee"`
	Provider           string                       `json:"provider"`
	ProviderOrderID    string                       `gorm:"index" json:"provider_order_id"`
	RemittanceID       string                       `gorm:"index" json:"remittance_id"`
	// RemainingID references the residual hedge order created when a
	// partial fill leaves exposure uncovered.
	RemainingID string    `json:"remaining_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AppliedFill records every fill already folded into a hedge order, so a
// replayed fill event is detected and never double-counted.
type AppliedFill struct {
	gorm.Model         `json:"-"`
	FillID             string    `gorm:"uniqueIndex" json:"fill_id"`
	CryptoRemittanceID string    `gorm:"index" json:"crypto_remittance_id"`
	Amount             int64     `json:"amount"`
	Price              int64     `json:"price"`
	CreatedAt          time.Time `json:"created_at"`
}

// FillEvent is a liquidity-provider fill notification.
type FillEvent struct {
	FillID          string `json:"fill_id"`
	ProviderOrderID string `json:"provider_order_id"`
	Amount          int64  `json:"amount"`
	Price           int64  `json:"price"`
	Fee             int64  `json:"fee"`
}
