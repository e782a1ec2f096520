package exposure

import (
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrNoRule      = errors.New("no exposure rule configured for currency")
	ErrNoDateRules = errors.New("exposure rule has no settlement date rules")
)

// Decision is the outcome of evaluating accumulated exposure against a rule.
type Decision struct {
	// ShouldClose is true when the exposure amount or the elapsed window
	// requires the current group to be closed into a remittance.
	ShouldClose bool
	// DateRule is the selected settlement-date bracket: the least permissive
	// bracket whose amount still covers the exposure.
	DateRule SettlementDateRule
	// Unbounded signals that no configured bracket covers the exposure and
	// the largest bracket was used as a fallback. Non-fatal, flagged for
	// operational review.
	Unbounded bool
}

// Evaluate is a pure function: it inspects the rule, the accumulated exposure
// amount and the time the group has been open, and decides whether the group
// must close and under which settlement-date bracket. The caller performs the
// actual close.
func Evaluate(rule *Rule, exposureAmount int64, elapsed time.Duration) (Decision, error) {
	if rule == nil {
		return Decision{}, ErrNoRule
	}
	if len(rule.DateRules) == 0 {
		return Decision{}, ErrNoDateRules
	}

	brackets := make([]SettlementDateRule, len(rule.DateRules))
	copy(brackets, rule.DateRules)
	sort.SliceStable(brackets, func(i, j int) bool {
		return brackets[i].Amount < brackets[j].Amount
	})

	decision := Decision{}
	covered := false
	for _, bracket := range brackets {
		if bracket.Amount >= exposureAmount {
			decision.DateRule = bracket
			covered = true
			break
		}
	}
	if !covered {
		// No bracket covers the exposure: fall back to the most permissive
		// one rather than halting trading on missing configuration.
		decision.DateRule = brackets[len(brackets)-1]
		decision.Unbounded = true
		log.Warn().
			Str("currency", rule.Currency).
			Int64("exposure_amount", exposureAmount).
			Int64("largest_bracket", decision.DateRule.Amount).
			Msg("exposure exceeds every configured bracket, using largest")
	}

	if exposureAmount >= rule.Amount {
		decision.ShouldClose = true
	}
	if elapsed >= time.Duration(rule.Seconds)*time.Second {
		decision.ShouldClose = true
	}

	return decision, nil
}
