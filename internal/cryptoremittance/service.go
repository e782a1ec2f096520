package cryptoremittance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/events"
	"github.com/zrobank/otc-settlement/internal/remittance"
	"github.com/zrobank/otc-settlement/internal/settlementdate"
	"github.com/zrobank/otc-settlement/internal/types"
)

// ProviderOrder is the liquidity provider's view of a hedge order.
type ProviderOrder struct {
	ProviderOrderID string
	Status          types.CryptoRemittanceStatus
	ExecutedAmount  int64
	ExecutedPrice   int64
	Fee             int64
}

// Gateway is the liquidity-provider contract for hedge orders. Cancel must
// be idempotent: canceling an already-canceled order is a no-op.
type Gateway interface {
	CreateOrder(ctx context.Context, order *CryptoRemittance) (providerOrderID string, err error)
	GetOrderByID(ctx context.Context, providerOrderID string) (*ProviderOrder, error)
	CancelOrder(ctx context.Context, providerOrderID string) error
}

// Service places hedge orders for closed exposure groups and folds provider
// fills back into the remittance lifecycle.
type Service struct {
	db          *Database
	remittances *remittance.Database
	gateway     Gateway
	resolver    *settlementdate.Resolver
	publisher   events.Publisher

	defaultSendCode    types.SettlementDateCode
	defaultReceiveCode types.SettlementDateCode
	now                func() time.Time
}

func NewService(
	gormDB *gorm.DB,
	remittances *remittance.Database,
	gateway Gateway,
	resolver *settlementdate.Resolver,
	publisher events.Publisher,
	defaultSendCode, defaultReceiveCode types.SettlementDateCode,
) *Service {
	return &Service{
		db:                 NewDatabase(gormDB),
		remittances:        remittances,
		gateway:            gateway,
		resolver:           resolver,
		publisher:          publisher,
		defaultSendCode:    defaultSendCode,
		defaultReceiveCode: defaultReceiveCode,
		now:                time.Now,
	}
}

func (s *Service) GetDB() *Database {
	return s.db
}

// PlaceHedge creates a PENDING hedge order covering the remittance amount
// and submits it to the liquidity provider. Implements remittance.HedgePlacer.
func (s *Service) PlaceHedge(ctx context.Context, rem *remittance.Remittance, orders []types.RemittanceOrder) error {
	logger := log.With().
		Str("remittance_id", rem.RemittanceID).
		Str("service", "crypto_remittance").
		Logger()

	market := ""
	for _, order := range orders {
		if order.Type == types.OrderTypeCrypto {
			market = order.Currency
			break
		}
	}
	if market == "" {
		return fmt.Errorf("remittance %s has no crypto leg to hedge", rem.RemittanceID)
	}

	hedge := &CryptoRemittance{
		CryptoRemittanceID: uuid.New().String(),
		Market:             market,
		Side:               rem.Side,
		Amount:             rem.Amount,
		Status:             types.CryptoStatusPending,
		Provider:           rem.Provider,
		RemittanceID:       rem.RemittanceID,
		CreatedAt:          s.now(),
		UpdatedAt:          s.now(),
	}
	if err := s.db.Create(hedge); err != nil {
		return fmt.Errorf("failed to create hedge order: %w", err)
	}

	providerOrderID, err := s.gateway.CreateOrder(ctx, hedge)
	if err != nil {
		hedge.Status = types.CryptoStatusError
		if updateErr := s.db.Update(hedge); updateErr != nil {
			logger.Error().Err(updateErr).Msg("failed to mark hedge order errored")
		}
		return fmt.Errorf("failed to submit hedge order: %w", err)
	}

	hedge.ProviderOrderID = providerOrderID
	if err := s.db.Update(hedge); err != nil {
		return err
	}

	logger.Info().
		Str("crypto_remittance_id", hedge.CryptoRemittanceID).
		Str("provider_order_id", providerOrderID).
		Int64("amount", hedge.Amount).
		Msg("hedge order placed")
	return nil
}

// HandleFilled folds a provider fill event into the hedge order and, when
// the remittance exposure is fully hedged, closes the remittance. Replayed
// events and fills for orders unknown to this system are logged no-ops.
func (s *Service) HandleFilled(ctx context.Context, fill FillEvent) error {
	logger := log.With().
		Str("fill_id", fill.FillID).
		Str("provider_order_id", fill.ProviderOrderID).
		Str("service", "crypto_remittance").
		Logger()

	hedge, err := s.db.GetByProviderOrderID(fill.ProviderOrderID)
	if err != nil {
		return err
	}
	if hedge == nil {
		// Fills can legitimately arrive for orders not routed through this
		// system; correlate-or-skip, never fail.
		logger.Warn().Msg("fill references unknown hedge order, skipping")
		return nil
	}

	updated, err := s.db.ApplyFill(hedge.CryptoRemittanceID, fill)
	if errors.Is(err, errFillAlreadyApplied) {
		logger.Warn().Msg("fill already applied, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply fill: %w", err)
	}

	if updated.ExecutedAmount < updated.Amount {
		if err := s.retainRemaining(updated); err != nil {
			return err
		}
		logger.Info().
			Int64("executed_amount", updated.ExecutedAmount).
			Int64("amount", updated.Amount).
			Msg("partial fill applied, hedge still pending")
		return nil
	}

	updated.Status = types.CryptoStatusFilled
	if err := s.db.Update(updated); err != nil {
		return err
	}

	// A residual order retained for an earlier partial is obsolete once the
	// parent fills completely.
	if updated.RemainingID != "" {
		remaining, err := s.db.Get(updated.RemainingID)
		if err != nil {
			return err
		}
		if remaining != nil && remaining.Status == types.CryptoStatusPending {
			remaining.Status = types.CryptoStatusCanceled
			if err := s.db.Update(remaining); err != nil {
				return err
			}
		}
	}

	s.publisher.Publish(events.New(events.CryptoRemittanceFilled, map[string]any{
		"crypto_remittance_id": updated.CryptoRemittanceID,
		"remittance_id":        updated.RemittanceID,
		"executed_amount":      updated.ExecutedAmount,
		"executed_price":       updated.ExecutedPrice,
	}))

	return s.advanceRemittance(updated, logger)
}

// retainRemaining keeps a residual hedge order reference for the uncovered
// exposure after a partial fill.
func (s *Service) retainRemaining(hedge *CryptoRemittance) error {
	residual := hedge.Amount - hedge.ExecutedAmount

	if hedge.RemainingID != "" {
		remaining, err := s.db.Get(hedge.RemainingID)
		if err != nil {
			return err
		}
		if remaining != nil {
			remaining.Amount = residual
			return s.db.Update(remaining)
		}
	}

	remaining := &CryptoRemittance{
		CryptoRemittanceID: uuid.New().String(),
		Market:             hedge.Market,
		Side:               hedge.Side,
		Amount:             residual,
		Status:             types.CryptoStatusPending,
		Provider:           hedge.Provider,
		RemittanceID:       hedge.RemittanceID,
		CreatedAt:          s.now(),
		UpdatedAt:          s.now(),
	}
	if err := s.db.Create(remaining); err != nil {
		return err
	}

	hedge.RemainingID = remaining.CryptoRemittanceID
	return s.db.Update(hedge)
}

// advanceRemittance closes the remittance once its exposure is fully hedged,
// computing resultAmount and bankQuote from the executed price.
func (s *Service) advanceRemittance(hedge *CryptoRemittance, logger zerolog.Logger) error {
	rem, err := s.remittances.GetRemittance(hedge.RemittanceID)
	if err != nil {
		return err
	}
	if rem == nil {
		logger.Warn().
			Str("remittance_id", hedge.RemittanceID).
			Msg("fill references unknown remittance, skipping")
		return nil
	}
	if rem.Status != types.RemittanceStatusWaiting {
		logger.Warn().
			Str("remittance_id", rem.RemittanceID).
			Str("status", string(rem.Status)).
			Msg("remittance not waiting on hedge, skipping")
		return nil
	}

	totalExecuted, err := s.db.SumExecutedForRemittance(rem.RemittanceID)
	if err != nil {
		return err
	}
	if totalExecuted < rem.Amount {
		logger.Info().
			Int64("total_executed", totalExecuted).
			Int64("remittance_amount", rem.Amount).
			Msg("remittance not fully hedged yet")
		return nil
	}

	rem.BankQuote = hedge.ExecutedPrice
	rem.ResultAmount = decimal.NewFromInt(totalExecuted).
		Mul(decimal.NewFromInt(hedge.ExecutedPrice)).
		Div(decimal.NewFromInt(PriceScale)).
		IntPart()

	if rem.SendDate.IsZero() || rem.ReceiveDate.IsZero() {
		sendDate, receiveDate, err := s.resolver.ResolvePair(s.defaultSendCode, s.defaultReceiveCode, s.now())
		if err != nil {
			return err
		}
		rem.SendDate = sendDate
		rem.ReceiveDate = receiveDate
	}

	if err := rem.TransitionTo(types.RemittanceStatusClosed); err != nil {
		return err
	}
	if err := s.remittances.UpdateRemittance(rem); err != nil {
		return err
	}

	s.publisher.Publish(events.New(events.RemittanceClosed, map[string]any{
		"remittance_id": rem.RemittanceID,
		"result_amount": rem.ResultAmount,
		"bank_quote":    rem.BankQuote,
	}))

	logger.Info().
		Str("remittance_id", rem.RemittanceID).
		Int64("result_amount", rem.ResultAmount).
		Int64("bank_quote", rem.BankQuote).
		Msg("remittance fully hedged and closed")
	return nil
}
