package exchangequotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/events"
	"github.com/zrobank/otc-settlement/internal/metrics"
	"github.com/zrobank/otc-settlement/internal/operation"
	"github.com/zrobank/otc-settlement/internal/quotation"
	"github.com/zrobank/otc-settlement/internal/remittance"
	"github.com/zrobank/otc-settlement/internal/types"
	"github.com/zrobank/otc-settlement/pkg/response"
)

var (
	ErrPSPUnavailable    = errors.New("psp gateway unavailable")
	ErrMissingData       = errors.New("missing required quotation data")
	ErrQuotationNotFound = errors.New("exchange quotation not found")
)

// CreateRequest is the PSP create-and-accept payload for a batch.
type CreateRequest struct {
	QuotationID    string
	Currency       string
	Side           types.Side
	Amount         int64
	AmountExternal int64
	SendDate       time.Time
	ReceiveDate    time.Time
	Provider       string
}

// CreateResult carries the provider-assigned identifiers.
type CreateResult struct {
	QuotationPspID    string
	SolicitationPspID string
	Rate              int64
}

// StatusResult is the PSP-side view of a quotation.
type StatusResult struct {
	State          types.QuotationState
	ContractNumber string
}

// Gateway is the PSP-facing contract for exchange quotations. Reject must be
// idempotent: rejecting an already-rejected or canceled solicitation is a
// no-op, not an error.
type Gateway interface {
	Name() string
	CreateAndAccept(ctx context.Context, req CreateRequest) (*CreateResult, error)
	GetBySolicitationID(ctx context.Context, solicitationPspID string) (*StatusResult, error)
	Reject(ctx context.Context, solicitationPspID string) error
}

// Service orchestrates exchange quotations: batching closed remittances into
// PSP requests, releasing batches on failure, rejecting open quotations when
// the feature flag drops, and reconciling local state against the PSP.
type Service struct {
	db          *Database
	remittances *remittance.Database
	rates       quotation.Service
	ledger      operation.Service
	gateway     Gateway
	publisher   events.Publisher
	now         func() time.Time
}

func NewService(
	gormDB *gorm.DB,
	remittances *remittance.Database,
	rates quotation.Service,
	ledger operation.Service,
	gateway Gateway,
	publisher events.Publisher,
) *Service {
	return &Service{
		db:          NewDatabase(gormDB),
		remittances: remittances,
		rates:       rates,
		ledger:      ledger,
		gateway:     gateway,
		publisher:   publisher,
		now:         time.Now,
	}
}

func (s *Service) GetDB() *Database {
	return s.db
}

// CreateAndAcceptBatch submits a batch of CLOSED remittances sharing
// currency, side, provider, system and settlement dates as one PSP exchange
// quotation. Already-assigned or malformed batch members are excluded, not
// fatal to the batch; a PSP failure releases the whole batch for the next
// scheduling tick.
func (s *Service) CreateAndAcceptBatch(ctx context.Context, batch []remittance.Remittance) error {
	logger := log.With().Str("service", "exchange_quotation").Logger()

	eligible := make([]remittance.Remittance, 0, len(batch))
	for _, rem := range batch {
		if rem.Status != types.RemittanceStatusClosed {
			logger.Warn().
				Str("remittance_id", rem.RemittanceID).
				Str("status", string(rem.Status)).
				Msg("batch member not closed, excluded")
			continue
		}
		if rem.Currency == "" {
			// Invariant violation: fatal for the item, not the batch.
			logger.Error().
				Str("remittance_id", rem.RemittanceID).
				Msg("batch member has no currency, excluded")
			continue
		}
		assigned, err := s.db.IsAssigned(rem.RemittanceID)
		if err != nil {
			return err
		}
		if assigned {
			// Idempotency guard: reprocessing must never double-submit.
			logger.Warn().
				Str("remittance_id", rem.RemittanceID).
				Msg("batch member already assigned to a quotation, excluded")
			continue
		}
		eligible = append(eligible, rem)
	}
	if len(eligible) == 0 {
		return nil
	}

	first := eligible[0]
	var amount int64
	remittanceIDs := make([]string, 0, len(eligible))
	for _, rem := range eligible {
		amount += rem.Amount
		remittanceIDs = append(remittanceIDs, rem.RemittanceID)
	}

	rate, err := s.rates.GetMidRate(ctx, first.Currency)
	if err != nil {
		return fmt.Errorf("failed to fetch mid rate: %w", err)
	}
	amountExternal := decimal.NewFromInt(amount).DivRound(rate, 0).IntPart()

	q := &ExchangeQuotation{
		QuotationID:    uuid.New().String(),
		Quotation:      rate.Mul(decimal.NewFromInt(RateScale)).IntPart(),
		State:          types.QuotationStateReady,
		GatewayName:    s.gateway.Name(),
		Amount:         amount,
		AmountExternal: amountExternal,
		Currency:       first.Currency,
		Side:           first.Side,
		Provider:       first.Provider,
		System:         first.System,
		SendDate:       first.SendDate,
		ReceiveDate:    first.ReceiveDate,
		CreatedAt:      s.now(),
		UpdatedAt:      s.now(),
	}

	result, err := s.gateway.CreateAndAccept(ctx, CreateRequest{
		QuotationID:    q.QuotationID,
		Currency:       q.Currency,
		Side:           q.Side,
		Amount:         q.Amount,
		AmountExternal: q.AmountExternal,
		SendDate:       q.SendDate,
		ReceiveDate:    q.ReceiveDate,
		Provider:       q.Provider,
	})
	if err != nil {
		metrics.IncPSPRequest("create_and_accept", "error")
		s.releaseBatch(remittanceIDs, err)
		return fmt.Errorf("%w: create and accept failed: %v", ErrPSPUnavailable, err)
	}
	metrics.IncPSPRequest("create_and_accept", "ok")

	q.QuotationPspID = result.QuotationPspID
	q.SolicitationPspID = result.SolicitationPspID
	if result.Rate > 0 {
		q.Quotation = result.Rate
	}
	if err := q.TransitionTo(types.QuotationStateAccept); err != nil {
		return err
	}

	// Speculative ledger entry; acceptance waits for PSP completion.
	op, err := s.ledger.CreateOperation(ctx, operation.Operation{
		OperationID: uuid.New().String(),
		Amount:      q.Amount,
		Currency:    q.Currency,
		Description: fmt.Sprintf("exchange quotation %s", q.QuotationID),
	})
	if err != nil {
		logger.Error().Err(err).Str("quotation_id", q.QuotationID).Msg("failed to create ledger operation")
	} else {
		q.OperationID = op.OperationID
	}

	if err := s.db.PersistAcceptedBatch(q, remittanceIDs); err != nil {
		// The PSP accepted but we could not persist; reject remotely so the
		// remittances are safe to rebatch.
		logger.Error().Err(err).Str("quotation_id", q.QuotationID).Msg("failed to persist accepted batch, rejecting at PSP")
		if rejectErr := s.gateway.Reject(ctx, q.SolicitationPspID); rejectErr != nil {
			logger.Error().Err(rejectErr).Str("quotation_id", q.QuotationID).Msg("failed to reject orphaned quotation")
		}
		s.releaseBatch(remittanceIDs, err)
		return err
	}

	s.publisher.Publish(events.New(events.ExchangeQuotationAccepted, map[string]any{
		"quotation_id":        q.QuotationID,
		"solicitation_psp_id": q.SolicitationPspID,
		"currency":            q.Currency,
		"amount":              q.Amount,
		"amount_external":     q.AmountExternal,
		"remittance_ids":      remittanceIDs,
	}))

	logger.Info().
		Str("quotation_id", q.QuotationID).
		Int("batch_size", len(remittanceIDs)).
		Int64("amount", q.Amount).
		Msg("exchange quotation created and accepted")
	return nil
}

// releaseBatch is the failed create-and-accept path: the remittances return
// to CLOSED/unassigned so the next scheduling tick retries the batch. There
// is no internal backoff; retry cadence is the processor interval.
func (s *Service) releaseBatch(remittanceIDs []string, cause error) {
	metrics.BatchesReleasedTotal.Inc()

	for _, remittanceID := range remittanceIDs {
		if err := s.db.db.Unscoped().
			Where("remittance_id = ?", remittanceID).
			Delete(&RemittanceLink{}).Error; err != nil {
			log.Error().Err(err).
				Str("remittance_id", remittanceID).
				Msg("failed to release remittance from batch")
		}
	}

	s.publisher.Publish(events.New(events.ExchangeQuotationFailed, map[string]any{
		"remittance_ids": remittanceIDs,
		"error":          cause.Error(),
	}))

	log.Warn().
		Int("batch_size", len(remittanceIDs)).
		Err(cause).
		Msg("exchange quotation batch released for retry")
}

// RejectOpenQuotations actively rejects every open quotation at the PSP and
// releases its remittances. Runs when the exchange quotation feature flag is
// deactivated mid-flight.
func (s *Service) RejectOpenQuotations(ctx context.Context) error {
	open, err := s.db.ListByStates(types.QuotationStateReady, types.QuotationStateAccept, types.QuotationStateApproved)
	if err != nil {
		return err
	}

	for i := range open {
		q := &open[i]
		if err := s.rejectQuotation(ctx, q); err != nil {
			log.Error().Err(err).
				Str("quotation_id", q.QuotationID).
				Msg("failed to reject open quotation")
		}
	}
	return nil
}

func (s *Service) rejectQuotation(ctx context.Context, q *ExchangeQuotation) error {
	if q.SolicitationPspID != "" {
		if err := s.gateway.Reject(ctx, q.SolicitationPspID); err != nil {
			metrics.IncPSPRequest("reject", "error")
			return fmt.Errorf("%w: reject failed: %v", ErrPSPUnavailable, err)
		}
		metrics.IncPSPRequest("reject", "ok")
	}

	if err := q.TransitionTo(types.QuotationStateRejected); err != nil {
		return err
	}
	if err := s.db.Update(q); err != nil {
		return err
	}
	if err := s.db.ReleaseLinks(q.QuotationID); err != nil {
		return err
	}

	s.publisher.Publish(events.New(events.ExchangeQuotationRejected, map[string]any{
		"quotation_id": q.QuotationID,
	}))

	log.Info().Str("quotation_id", q.QuotationID).Msg("exchange quotation rejected and remittances released")
	return nil
}

// SyncState polls the PSP for every in-flight quotation and advances local
// state to match, creating the exchange contract on completion.
func (s *Service) SyncState(ctx context.Context) error {
	inFlight, err := s.db.ListByStates(types.QuotationStateAccept, types.QuotationStateApproved)
	if err != nil {
		return err
	}

	for i := range inFlight {
		q := &inFlight[i]
		if err := s.syncOne(ctx, q); err != nil {
			log.Error().Err(err).
				Str("quotation_id", q.QuotationID).
				Msg("failed to sync quotation state")
		}
	}
	return nil
}

func (s *Service) syncOne(ctx context.Context, q *ExchangeQuotation) error {
	status, err := s.gateway.GetBySolicitationID(ctx, q.SolicitationPspID)
	if err != nil {
		metrics.IncPSPRequest("get_by_solicitation", "error")
		return fmt.Errorf("%w: status fetch failed: %v", ErrPSPUnavailable, err)
	}
	metrics.IncPSPRequest("get_by_solicitation", "ok")

	if status.State == q.State {
		return nil
	}

	switch status.State {
	case types.QuotationStateApproved:
		if err := q.TransitionTo(types.QuotationStateApproved); err != nil {
			return err
		}
		if err := s.db.Update(q); err != nil {
			return err
		}
		s.publisher.Publish(events.New(events.ExchangeQuotationApproved, map[string]any{
			"quotation_id": q.QuotationID,
		}))

	case types.QuotationStateCompleted:
		return s.complete(ctx, q, status.ContractNumber)

	case types.QuotationStateRejected, types.QuotationStateCanceled:
		if err := q.TransitionTo(status.State); err != nil {
			return err
		}
		if err := s.db.Update(q); err != nil {
			return err
		}
		if err := s.db.ReleaseLinks(q.QuotationID); err != nil {
			return err
		}
		kind := events.ExchangeQuotationRejected
		if status.State == types.QuotationStateCanceled {
			kind = events.ExchangeQuotationCanceled
		}
		s.publisher.Publish(events.New(kind, map[string]any{
			"quotation_id": q.QuotationID,
		}))

	default:
		log.Warn().
			Str("quotation_id", q.QuotationID).
			Str("psp_state", string(status.State)).
			Msg("unexpected psp quotation state, left unchanged")
	}
	return nil
}

// complete finalizes a quotation. Contract creation and attachment commit
// atomically; the ledger operation is accepted only after the PSP confirmed
// completion.
func (s *Service) complete(ctx context.Context, q *ExchangeQuotation, contractNumber string) error {
	remittanceIDs, err := s.db.GetLinkedRemittanceIDs(q.QuotationID)
	if err != nil {
		return err
	}

	if contractNumber == "" {
		return fmt.Errorf("%w: completed quotation %s has no contract number", ErrMissingData, q.QuotationID)
	}

	if err := q.TransitionTo(types.QuotationStateCompleted); err != nil {
		return err
	}

	contract := &ExchangeContract{
		ContractID:     uuid.New().String(),
		ContractNumber: contractNumber,
		QuotationID:    q.QuotationID,
		CreatedAt:      s.now(),
	}
	if err := s.db.CompleteWithContract(q, contract, remittanceIDs); err != nil {
		return err
	}

	if q.OperationID != "" {
		if err := s.ledger.AcceptOperation(ctx, q.OperationID); err != nil {
			log.Error().Err(err).
				Str("quotation_id", q.QuotationID).
				Str("operation_id", q.OperationID).
				Msg("failed to accept ledger operation")
		}
	}

	s.publisher.Publish(events.New(events.ExchangeQuotationCompleted, map[string]any{
		"quotation_id":    q.QuotationID,
		"contract_number": contract.ContractNumber,
		"remittance_ids":  remittanceIDs,
	}))

	log.Info().
		Str("quotation_id", q.QuotationID).
		Str("contract_number", contract.ContractNumber).
		Int("remittances", len(remittanceIDs)).
		Msg("exchange quotation completed, contract attached")
	return nil
}

// GinHandlers contains HTTP handlers for exchange quotation endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) GetQuotationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		quotationID := c.Param("quotation_id")

		q, err := h.service.db.Get(quotationID)
		if err == nil && q == nil {
			response.NotFound(c, "exchange quotation not found")
			return
		}
		response.Handle(c, q, err)
	}
}

func (h *GinHandlers) ListQuotationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		state := c.Query("state")

		var (
			quotations []ExchangeQuotation
			err        error
		)
		if state == "" {
			quotations, err = h.service.db.List()
		} else {
			quotations, err = h.service.db.ListByStates(types.QuotationState(state))
		}
		response.Handle(c, quotations, err)
	}
}
