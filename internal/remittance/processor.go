package remittance

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zrobank/otc-settlement/internal/metrics"
)

// Processor is the grouping tick: it folds pending orders into exposure
// groups and sweeps groups whose time window elapsed.
type Processor struct {
	grouping *GroupingService
	interval time.Duration
}

func NewProcessor(grouping *GroupingService, interval time.Duration) *Processor {
	return &Processor{
		grouping: grouping,
		interval: interval,
	}
}

// Start begins the grouping loop until context cancellation.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "grouping_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting grouping processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down grouping processor")
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				metrics.IncTick("grouping", "error")
				logger.Error().Err(err).Msg("grouping tick failed")
				continue
			}
			metrics.IncTick("grouping", "ok")
		}
	}
}

func (p *Processor) tick(ctx context.Context) error {
	if err := p.grouping.ProcessPending(ctx); err != nil {
		return err
	}
	return p.grouping.CloseExpiredGroups(ctx)
}
