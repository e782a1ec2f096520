package exchangequotation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zrobank/otc-settlement/internal/metrics"
	"github.com/zrobank/otc-settlement/internal/remittance"
)

// FeatureFlag reports whether the exchange quotation integration is active.
// When it reports false mid-flight, open quotations are actively rejected.
type FeatureFlag func() bool

// Processor drives the quotation side of the pipeline on a fixed cadence:
// batch closed remittances into PSP quotations, then reconcile in-flight
// quotation state against the PSP.
type Processor struct {
	service  *Service
	feature  FeatureFlag
	interval time.Duration
}

func NewProcessor(service *Service, feature FeatureFlag, interval time.Duration) *Processor {
	return &Processor{
		service:  service,
		feature:  feature,
		interval: interval,
	}
}

// Start begins the quotation loop until context cancellation.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "quotation_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting quotation processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down quotation processor")
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				metrics.IncTick("quotation", "error")
				logger.Error().Err(err).Msg("quotation tick failed")
				continue
			}
			metrics.IncTick("quotation", "ok")
		}
	}
}

func (p *Processor) tick(ctx context.Context) error {
	if !p.feature() {
		return p.service.RejectOpenQuotations(ctx)
	}

	if err := p.submitClosedBatches(ctx); err != nil {
		return err
	}
	return p.service.SyncState(ctx)
}

// submitClosedBatches groups closed unassigned remittances by currency,
// side, provider, system and settlement dates and submits each group as one
// PSP quotation. A failed batch only logs; the remittances were already
// released and the next tick retries them.
func (p *Processor) submitClosedBatches(ctx context.Context) error {
	closed, err := p.service.db.ListClosedUnassigned()
	if err != nil {
		return fmt.Errorf("failed to list closed remittances: %w", err)
	}
	if len(closed) == 0 {
		return nil
	}

	batches := make(map[string][]remittance.Remittance)
	var order []string
	for _, rem := range closed {
		key := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
			rem.Currency, rem.Side, rem.Provider, rem.System,
			rem.SendDate.Format("2006-01-02"), rem.ReceiveDate.Format("2006-01-02"))
		if _, ok := batches[key]; !ok {
			order = append(order, key)
		}
		batches[key] = append(batches[key], rem)
	}

	for _, key := range order {
		if err := p.service.CreateAndAcceptBatch(ctx, batches[key]); err != nil {
			log.Warn().Err(err).Str("batch_key", key).Msg("batch submission failed, will retry next tick")
		}
	}
	return nil
}
