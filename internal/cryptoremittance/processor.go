package cryptoremittance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zrobank/otc-settlement/internal/metrics"
	"github.com/zrobank/otc-settlement/internal/types"
)

// Processor polls the liquidity provider for execution progress on pending
// hedge orders and folds any new fills back through the service.
type Processor struct {
	service  *Service
	interval time.Duration
}

func NewProcessor(service *Service, interval time.Duration) *Processor {
	return &Processor{service: service, interval: interval}
}

func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "crypto_remittance_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting hedge fill processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("stopping hedge fill processor")
			return
		case <-ticker.C:
			if err := p.SyncFills(ctx); err != nil {
				logger.Error().Err(err).Msg("hedge fill sync failed")
				metrics.IncTick("crypto_remittance", "error")
				continue
			}
			metrics.IncTick("crypto_remittance", "ok")
		}
	}
}

// SyncFills checks every pending hedge order against the provider and applies
// the executed delta as a fill. The fill id is derived from the provider
// order and its cumulative executed amount, so re-reading the same snapshot
// replays as a no-op.
func (p *Processor) SyncFills(ctx context.Context) error {
	pending, err := p.service.db.ListByStatus(types.CryptoStatusPending)
	if err != nil {
		return err
	}

	for _, hedge := range pending {
		if hedge.ProviderOrderID == "" {
			continue
		}

		order, err := p.service.gateway.GetOrderByID(ctx, hedge.ProviderOrderID)
		if err != nil {
			log.Warn().
				Err(err).
				Str("component", "crypto_remittance_processor").
				Str("provider_order_id", hedge.ProviderOrderID).
				Msg("failed to fetch provider order, will retry next tick")
			continue
		}

		delta := order.ExecutedAmount - hedge.ExecutedAmount
		if delta <= 0 {
			continue
		}

		fill := FillEvent{
			FillID:          fmt.Sprintf("%s:%d", hedge.ProviderOrderID, order.ExecutedAmount),
			ProviderOrderID: hedge.ProviderOrderID,
			Amount:          delta,
			Price:           order.ExecutedPrice,
			Fee:             order.Fee - hedge.Fee,
		}
		if err := p.service.HandleFilled(ctx, fill); err != nil {
			log.Error().
				Err(err).
				Str("component", "crypto_remittance_processor").
				Str("crypto_remittance_id", hedge.CryptoRemittanceID).
				Msg("failed to apply provider fill")
		}
	}
	return nil
}
