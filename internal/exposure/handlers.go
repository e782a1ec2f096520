package exposure

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zrobank/otc-settlement/internal/types"
	"github.com/zrobank/otc-settlement/pkg/response"
)

// GinHandlers contains HTTP handlers for exposure rule management.
type GinHandlers struct {
	db *Database
}

func NewGinHandlers(db *Database) *GinHandlers {
	return &GinHandlers{db: db}
}

type ruleRequest struct {
	Currency  string `json:"currency" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
	Seconds   int64  `json:"seconds" binding:"required"`
	DateRules []struct {
		Amount      int64  `json:"amount" binding:"required"`
		SendDate    string `json:"send_date" binding:"required"`
		ReceiveDate string `json:"receive_date" binding:"required"`
	} `json:"date_rules" binding:"required,min=1"`
}

// CreateRuleHandler handles POST requests to register an exposure rule for a
// currency. One rule per currency; duplicates are rejected by the unique
// index.
func (h *GinHandlers) CreateRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ruleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		rule := ruleFromRequest(req)
		rule.RuleID = uuid.New().String()

		if err := h.db.CreateRule(rule); err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, rule)
	}
}

// GetRuleHandler handles GET requests for a single currency's rule.
// URL parameter: currency
func (h *GinHandlers) GetRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		currency := c.Param("currency")

		rule, err := h.db.GetRuleByCurrency(currency)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if rule == nil {
			response.NotFound(c, "No exposure rule for currency")
			return
		}

		response.Success(c, rule)
	}
}

// ListRulesHandler handles GET requests for all exposure rules.
func (h *GinHandlers) ListRulesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, err := h.db.ListRules()
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, rules)
	}
}

func ruleFromRequest(req ruleRequest) *Rule {
	rule := &Rule{
		Currency: req.Currency,
		Amount:   req.Amount,
		Seconds:  req.Seconds,
	}
	for _, dr := range req.DateRules {
		rule.DateRules = append(rule.DateRules, SettlementDateRule{
			Amount:      dr.Amount,
			SendDate:    types.SettlementDateCode(dr.SendDate),
			ReceiveDate: types.SettlementDateCode(dr.ReceiveDate),
		})
	}
	return rule
}
