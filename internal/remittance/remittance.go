package remittance

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/events"
	"github.com/zrobank/otc-settlement/internal/settlementdate"
	"github.com/zrobank/otc-settlement/internal/types"
	"github.com/zrobank/otc-settlement/pkg/response"
)

var (
	ErrRemittanceNotFound = errors.New("remittance not found")
	ErrMissingData        = errors.New("missing required remittance data")
)

// Service exposes remittance lookups and the operator manual-close path.
type Service struct {
	db        *Database
	resolver  *settlementdate.Resolver
	publisher events.Publisher

	defaultSendCode    types.SettlementDateCode
	defaultReceiveCode types.SettlementDateCode
}

func NewService(gormDB *gorm.DB, resolver *settlementdate.Resolver, publisher events.Publisher, defaultSendCode, defaultReceiveCode types.SettlementDateCode) *Service {
	return &Service{
		db:                 NewDatabase(gormDB),
		resolver:           resolver,
		publisher:          publisher,
		defaultSendCode:    defaultSendCode,
		defaultReceiveCode: defaultReceiveCode,
	}
}

// GetDB exposes the repository for wiring the grouping service and processors.
func (s *Service) GetDB() *Database {
	return s.db
}

func (s *Service) GetRemittance(remittanceID string) (*Remittance, error) {
	rem, err := s.db.GetRemittance(remittanceID)
	if err != nil {
		return nil, err
	}
	if rem == nil {
		return nil, ErrRemittanceNotFound
	}
	return rem, nil
}

func (s *Service) ListByStatus(status types.RemittanceStatus) ([]Remittance, error) {
	return s.db.ListRemittancesByStatus(status)
}

// ListForOrder returns the remittances an order was consumed into. An order
// on a netted concomitant close links to a single remittance; the slice form
// keeps the lookup total.
func (s *Service) ListForOrder(orderID string) ([]Remittance, error) {
	return s.db.GetRemittancesForOrder(orderID)
}

// ManuallyClose is the operator override: it bypasses the crypto-fill
// requirement, supplying bankQuote and resultAmount directly, and moves the
// remittance one-way into CLOSED_MANUALLY.
func (s *Service) ManuallyClose(remittanceID string, bankQuote, resultAmount int64) (*Remittance, error) {
	logger := log.With().
		Str("remittance_id", remittanceID).
		Str("service", "remittance").
		Logger()

	rem, err := s.db.GetRemittance(remittanceID)
	if err != nil {
		return nil, err
	}
	if rem == nil {
		return nil, ErrRemittanceNotFound
	}
	if rem.Currency == "" {
		return nil, fmt.Errorf("%w: remittance %s has no currency", ErrMissingData, remittanceID)
	}
	if bankQuote <= 0 || resultAmount <= 0 {
		return nil, fmt.Errorf("%w: manual close requires bank quote and result amount", ErrMissingData)
	}

	if err := rem.TransitionTo(types.RemittanceStatusClosedManually); err != nil {
		return nil, err
	}
	rem.BankQuote = bankQuote
	rem.ResultAmount = resultAmount

	if rem.SendDate.IsZero() || rem.ReceiveDate.IsZero() {
		sendDate, receiveDate, err := s.resolver.ResolvePair(s.defaultSendCode, s.defaultReceiveCode, rem.UpdatedAt)
		if err != nil {
			return nil, err
		}
		rem.SendDate = sendDate
		rem.ReceiveDate = receiveDate
	}

	if err := s.db.UpdateRemittance(rem); err != nil {
		return nil, err
	}

	s.publisher.Publish(events.New(events.RemittanceManuallyClosed, map[string]any{
		"remittance_id": rem.RemittanceID,
		"bank_quote":    rem.BankQuote,
		"result_amount": rem.ResultAmount,
	}))

	logger.Info().
		Int64("bank_quote", bankQuote).
		Int64("result_amount", resultAmount).
		Msg("remittance manually closed")
	return rem, nil
}

// GinHandlers contains HTTP handlers for remittance endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) GetRemittanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		remittanceID := c.Param("remittance_id")

		rem, err := h.service.GetRemittance(remittanceID)
		if errors.Is(err, ErrRemittanceNotFound) {
			response.NotFound(c, "remittance not found")
			return
		}
		response.Handle(c, rem, err)
	}
}

func (h *GinHandlers) ListRemittancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if orderID := c.Query("order_id"); orderID != "" {
			remittances, err := h.service.ListForOrder(orderID)
			response.Handle(c, remittances, err)
			return
		}

		status := types.RemittanceStatus(c.DefaultQuery("status", string(types.RemittanceStatusOpen)))

		remittances, err := h.service.ListByStatus(status)
		response.Handle(c, remittances, err)
	}
}

func (h *GinHandlers) ManuallyCloseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		remittanceID := c.Param("remittance_id")
		var request struct {
			BankQuote    int64 `json:"bank_quote" binding:"required"`
			ResultAmount int64 `json:"result_amount" binding:"required"`
		}

		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		rem, err := h.service.ManuallyClose(remittanceID, request.BankQuote, request.ResultAmount)
		switch {
		case errors.Is(err, ErrRemittanceNotFound):
			response.NotFound(c, "remittance not found")
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrMissingData):
			response.BadRequest(c, err.Error())
		default:
			response.Handle(c, rem, err)
		}
	}
}
