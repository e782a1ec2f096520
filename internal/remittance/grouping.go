package remittance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zrobank/otc-settlement/internal/events"
	"github.com/zrobank/otc-settlement/internal/exposure"
	"github.com/zrobank/otc-settlement/internal/metrics"
	"github.com/zrobank/otc-settlement/internal/settlementdate"
	"github.com/zrobank/otc-settlement/internal/types"
	"github.com/zrobank/otc-settlement/pkg/lock"
)

const (
	closeTriggerAmount = "amount"
	closeTriggerWindow = "window"

	groupLockTTL = 30 * time.Second
)

// HedgePlacer places a crypto hedge order for a remittance whose exposure
// window just closed. Implemented by the crypto remittance service.
type HedgePlacer interface {
	PlaceHedge(ctx context.Context, rem *Remittance, orders []types.RemittanceOrder) error
}

// GroupingService folds pending remittance orders into per-(currency, side,
// system) exposure groups and closes them into remittances when the exposure
// engine says so. All group mutation happens under the per-key lock.
type GroupingService struct {
	db        *Database
	rules     *exposure.Database
	resolver  *settlementdate.Resolver
	locker    lock.Locker
	publisher events.Publisher
	hedger    HedgePlacer
	now       func() time.Time
}

func NewGroupingService(
	db *Database,
	rules *exposure.Database,
	resolver *settlementdate.Resolver,
	locker lock.Locker,
	publisher events.Publisher,
	hedger HedgePlacer,
) *GroupingService {
	return &GroupingService{
		db:        db,
		rules:     rules,
		resolver:  resolver,
		locker:    locker,
		publisher: publisher,
		hedger:    hedger,
		now:       time.Now,
	}
}

// ProcessPending consumes every PENDING order into its exposure group,
// evaluating the exposure rule after each addition. Orders for the same
// currency and system are processed together so that concomitant BUY/SELL
// exposure is netted before any close decision.
func (s *GroupingService) ProcessPending(ctx context.Context) error {
	orders, err := s.db.GetPendingOrders()
	if err != nil {
		return fmt.Errorf("failed to fetch pending orders: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}

	// Bucket by (currency, system); sides stay interleaved in arrival order
	// so netting sees the exposure the way it accumulated.
	type bucketKey struct {
		currency string
		system   string
	}
	buckets := make(map[bucketKey][]types.RemittanceOrder)
	for _, order := range orders {
		k := bucketKey{currency: order.Currency, system: order.System}
		buckets[k] = append(buckets[k], order)
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].currency != keys[j].currency {
			return keys[i].currency < keys[j].currency
		}
		return keys[i].system < keys[j].system
	})

	for _, k := range keys {
		if err := s.processBucket(ctx, k.currency, k.system, buckets[k]); err != nil {
			log.Error().Err(err).
				Str("currency", k.currency).
				Str("system", k.system).
				Msg("failed to process order bucket")
		}
	}
	return nil
}

// processBucket holds both side locks for the currency/system pair for the
// whole mutation. Locks are always taken BUY before SELL so concurrent
// instances cannot deadlock.
func (s *GroupingService) processBucket(ctx context.Context, currency, system string, orders []types.RemittanceOrder) error {
	releaseBuy, err := s.locker.Acquire(ctx, GroupKey(currency, types.SideBuy, system), groupLockTTL)
	if err != nil {
		return fmt.Errorf("failed to lock buy group: %w", err)
	}
	defer releaseBuy()

	releaseSell, err := s.locker.Acquire(ctx, GroupKey(currency, types.SideSell, system), groupLockTTL)
	if err != nil {
		return fmt.Errorf("failed to lock sell group: %w", err)
	}
	defer releaseSell()

	for _, order := range orders {
		if err := s.consumeOrder(ctx, order); err != nil {
			log.Error().Err(err).
				Str("order_id", order.OrderID).
				Msg("failed to consume order into group")
			continue
		}
		if err := s.evaluateClose(ctx, order.Currency, order.System); err != nil {
			return err
		}
	}
	return nil
}

func (s *GroupingService) consumeOrder(ctx context.Context, order types.RemittanceOrder) error {
	key := GroupKey(order.Currency, order.Side, order.System)

	group, err := s.db.GetCurrentGroup(key)
	if err != nil {
		return err
	}
	if group == nil {
		group, err = s.openGroup(order)
		if err != nil {
			return err
		}
	}

	group.Accumulated += order.Amount
	if order.Type == types.OrderTypeCrypto {
		group.HedgeNeeded = true
	}
	if err := s.db.ConsumeOrder(&order, group); err != nil {
		return err
	}

	metrics.OrdersGroupedTotal.WithLabelValues(order.Currency, string(order.Side)).Inc()
	metrics.OpenExposure.WithLabelValues(order.Currency, string(order.Side)).Set(float64(group.Accumulated))

	log.Debug().
		Str("order_id", order.OrderID).
		Str("remittance_id", group.RemittanceID).
		Int64("accumulated", group.Accumulated).
		Msg("order consumed into exposure group")
	return nil
}

func (s *GroupingService) openGroup(order types.RemittanceOrder) (*CurrentGroup, error) {
	rem := &Remittance{
		RemittanceID: uuid.New().String(),
		Side:         order.Side,
		Currency:     order.Currency,
		Status:       types.RemittanceStatusOpen,
		System:       order.System,
		Provider:     order.Provider,
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}
	if err := s.db.CreateRemittance(rem); err != nil {
		return nil, err
	}

	group := &CurrentGroup{
		GroupKey:     GroupKey(order.Currency, order.Side, order.System),
		RemittanceID: rem.RemittanceID,
		Currency:     order.Currency,
		Side:         order.Side,
		System:       order.System,
		OpenedAt:     s.now(),
	}
	if err := s.db.SaveCurrentGroup(group); err != nil {
		return nil, err
	}

	s.publisher.Publish(events.New(events.RemittanceCreated, map[string]any{
		"remittance_id": rem.RemittanceID,
		"currency":      rem.Currency,
		"side":          string(rem.Side),
		"system":        rem.System,
	}))

	log.Info().
		Str("remittance_id", rem.RemittanceID).
		Str("currency", rem.Currency).
		Str("side", string(rem.Side)).
		Msg("opened new exposure group")
	return group, nil
}

// evaluateClose runs the exposure engine for the currency/system pair. When
// both sides have an open group the exposures are netted before evaluation
// and a close takes both groups down together as concomitant remittances.
// Callers must hold both side locks.
func (s *GroupingService) evaluateClose(ctx context.Context, currency, system string) error {
	buyGroup, err := s.db.GetCurrentGroup(GroupKey(currency, types.SideBuy, system))
	if err != nil {
		return err
	}
	sellGroup, err := s.db.GetCurrentGroup(GroupKey(currency, types.SideSell, system))
	if err != nil {
		return err
	}
	if buyGroup == nil && sellGroup == nil {
		return nil
	}

	rule, err := s.rules.GetRuleByCurrency(currency)
	if err != nil {
		return err
	}
	if rule == nil {
		// Missing configuration must not halt trading; the group keeps
		// accumulating until a rule shows up.
		log.Warn().Str("currency", currency).Msg("no exposure rule configured, group left open")
		return nil
	}

	concomitant := buyGroup != nil && sellGroup != nil
	var exposureAmount int64
	openedAt := s.now()
	switch {
	case concomitant:
		exposureAmount = buyGroup.Accumulated - sellGroup.Accumulated
		if exposureAmount < 0 {
			exposureAmount = -exposureAmount
		}
		openedAt = buyGroup.OpenedAt
		if sellGroup.OpenedAt.Before(openedAt) {
			openedAt = sellGroup.OpenedAt
		}
	case buyGroup != nil:
		exposureAmount = buyGroup.Accumulated
		openedAt = buyGroup.OpenedAt
	default:
		exposureAmount = sellGroup.Accumulated
		openedAt = sellGroup.OpenedAt
	}

	decision, err := exposure.Evaluate(rule, exposureAmount, s.now().Sub(openedAt))
	if err != nil {
		log.Warn().Err(err).Str("currency", currency).Msg("exposure evaluation skipped")
		return nil
	}
	if !decision.ShouldClose {
		return nil
	}

	trigger := closeTriggerAmount
	if exposureAmount < rule.Amount {
		trigger = closeTriggerWindow
	}

	for _, group := range []*CurrentGroup{buyGroup, sellGroup} {
		if group == nil {
			continue
		}
		if err := s.closeGroup(ctx, group, decision, concomitant, trigger); err != nil {
			return err
		}
	}
	return nil
}

// closeGroup stamps the remittance with settlement dates from the selected
// bracket, advances it to WAITING (hedge pending) or straight to CLOSED, and
// clears the current-group entry.
func (s *GroupingService) closeGroup(ctx context.Context, group *CurrentGroup, decision exposure.Decision, concomitant bool, trigger string) error {
	rem, err := s.db.GetRemittance(group.RemittanceID)
	if err != nil {
		return err
	}
	if rem == nil {
		return fmt.Errorf("current group references missing remittance %s", group.RemittanceID)
	}

	sendDate, receiveDate, err := s.resolver.ResolvePair(decision.DateRule.SendDate, decision.DateRule.ReceiveDate, s.now())
	if err != nil {
		return fmt.Errorf("failed to resolve settlement dates: %w", err)
	}

	rem.Amount = group.Accumulated
	rem.SendDate = sendDate
	rem.ReceiveDate = receiveDate
	rem.IsConcomitant = concomitant

	next := types.RemittanceStatusClosed
	kind := events.RemittanceClosed
	if group.HedgeNeeded {
		next = types.RemittanceStatusWaiting
		kind = events.RemittanceWaiting
	}
	if err := rem.TransitionTo(next); err != nil {
		return err
	}
	if err := s.db.UpdateRemittance(rem); err != nil {
		return err
	}
	if err := s.db.DeleteCurrentGroup(group); err != nil {
		return err
	}

	metrics.RemittancesClosedTotal.WithLabelValues(rem.Currency, trigger).Inc()
	metrics.OpenExposure.WithLabelValues(rem.Currency, string(rem.Side)).Set(0)

	s.publisher.Publish(events.New(kind, map[string]any{
		"remittance_id": rem.RemittanceID,
		"currency":      rem.Currency,
		"side":          string(rem.Side),
		"amount":        rem.Amount,
		"is_concomitant": rem.IsConcomitant,
		"send_date":     rem.SendDate.Format("2006-01-02"),
		"receive_date":  rem.ReceiveDate.Format("2006-01-02"),
	}))

	log.Info().
		Str("remittance_id", rem.RemittanceID).
		Str("currency", rem.Currency).
		Str("side", string(rem.Side)).
		Int64("amount", rem.Amount).
		Str("status", string(rem.Status)).
		Str("trigger", trigger).
		Msg("exposure group closed")

	if group.HedgeNeeded && s.hedger != nil {
		orders, err := s.db.GetOrdersForRemittance(rem.RemittanceID)
		if err != nil {
			return err
		}
		if err := s.hedger.PlaceHedge(ctx, rem, orders); err != nil {
			// The hedge will be retried by the crypto bot; the remittance
			// stays WAITING until a fill arrives.
			log.Error().Err(err).
				Str("remittance_id", rem.RemittanceID).
				Msg("failed to place hedge order")
		}
	}
	return nil
}

// CloseExpiredGroups sweeps groups whose exposure window elapsed without new
// orders arriving. Runs on every processor tick.
func (s *GroupingService) CloseExpiredGroups(ctx context.Context) error {
	groups, err := s.db.ListCurrentGroups()
	if err != nil {
		return fmt.Errorf("failed to list current groups: %w", err)
	}

	seen := make(map[string]bool)
	for _, group := range groups {
		pairKey := group.Currency + "|" + group.System
		if seen[pairKey] {
			continue
		}
		seen[pairKey] = true

		if err := s.sweepPair(ctx, group.Currency, group.System); err != nil {
			log.Error().Err(err).
				Str("currency", group.Currency).
				Str("system", group.System).
				Msg("failed to sweep expired group")
		}
	}
	return nil
}

func (s *GroupingService) sweepPair(ctx context.Context, currency, system string) error {
	releaseBuy, err := s.locker.Acquire(ctx, GroupKey(currency, types.SideBuy, system), groupLockTTL)
	if err != nil {
		return err
	}
	defer releaseBuy()

	releaseSell, err := s.locker.Acquire(ctx, GroupKey(currency, types.SideSell, system), groupLockTTL)
	if err != nil {
		return err
	}
	defer releaseSell()

	return s.evaluateClose(ctx, currency, system)
}
