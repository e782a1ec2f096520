package exposure

import (
	"time"

	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/types"
)

// Rule bounds open exposure for a currency: a close is forced once the
// accumulated amount reaches Amount or the group has been open for more
// than Seconds.
type Rule struct {
	gorm.Model `json:"-"`
	RuleID     string               `gorm:"uniqueIndex" json:"rule_id"`
	Currency   string               `gorm:"uniqueIndex" json:"currency"`
	Amount     int64                `json:"amount"`
	Seconds    int64                `json:"seconds"`
	DateRules  []SettlementDateRule `gorm:"foreignKey:RuleRef" json:"settlement_date_rules"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// SettlementDateRule maps an exposure bracket onto settlement date codes.
// A bracket covers an exposure when its Amount is >= the exposure.
type SettlementDateRule struct {
	gorm.Model  `json:"-"`
	RuleRef     uint                     `json:"-"`
	Amount      int64                    `json:"amount"`
	SendDate    types.SettlementDateCode `json:"send_date"`
	ReceiveDate types.SettlementDateCode `json:"receive_date"`
}
