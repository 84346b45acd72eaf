package trading

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

// marketEntryDelay is the lag between a ledger entry and the first pricing
// bucket it may execute in: the next full hour after 61 minutes. Recorded
// intents never execute inside the hour they were posted.
const marketEntryDelay = 61 * time.Minute

// ExecutionResolver converts trade intents into resolved fills. Every input
// intent yields exactly one fill; an intent with no matching price bucket
// anywhere still appears, unpriced, so the fill history never drops exposure.
type ExecutionResolver struct {
	calendar domain.Calendar
	prices   domain.PriceSource
	actions  domain.ActionResolver
	log      zerolog.Logger
}

// NewExecutionResolver creates a new execution resolver
func NewExecutionResolver(calendar domain.Calendar, prices domain.PriceSource, actions domain.ActionResolver, log zerolog.Logger) *ExecutionResolver {
	return &ExecutionResolver{
		calendar: calendar,
		prices:   prices,
		actions:  actions,
		log:      log.With().Str("component", "execution_resolver").Logger(),
	}
}

// Resolve produces the final fill history for a set of intents:
// ticker cleanup and renames, pricing-timestamp resolution, price
// attachment, merger substitution, and final chronological ID assignment.
// The row-count invariant is checked before merger substitution; a
// violation is fatal because it would silently duplicate or drop exposure.
func (r *ExecutionResolver) Resolve(intents []domain.TradeIntent) ([]domain.ResolvedFill, error) {
	fills := make([]domain.ResolvedFill, 0, len(intents))

	for _, intent := range intents {
		fill, err := r.resolveOne(intent)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve intent %s@%s: %w", intent.Symbol, intent.EntryTime, err)
		}
		fills = append(fills, fill)
	}

	if len(fills) != len(intents) {
		return nil, fmt.Errorf("%w: %d intents, %d fills", domain.ErrRowCountMismatch, len(intents), len(fills))
	}

	fills = r.applyMergers(fills)

	// Final chronological order defines fill identity
	sortFillsByMarketEntry(fills)
	for i := range fills {
		fills[i].ID = int64(i + 1)
	}

	return fills, nil
}

// resolveOne applies the deterministic timestamp-resolution algorithm to a
// single intent and attaches the first available price bucket.
func (r *ExecutionResolver) resolveOne(intent domain.TradeIntent) (domain.ResolvedFill, error) {
	symbol := CleanupTicker(intent.Symbol)
	if renamed, ok := r.actions.RenameEffectiveOn(symbol, intent.EntryTime); ok {
		symbol = renamed
	}

	day, err := r.calendar.BusinessDay(intent.EntryTime)
	if err != nil {
		return domain.ResolvedFill{}, fmt.Errorf("calendar lookup failed: %w", err)
	}

	adjusted := floorHour(intent.EntryTime.Add(marketEntryDelay))

	var target time.Time
	switch {
	case !day.IsBusinessDay():
		// Holiday or weekend: first pricing hour of the next session
		target = floorHour(day.MarketOpen.Add(marketEntryDelay))
	case adjusted.Before(day.MarketOpen):
		// Pre-market on a business day
		target = floorHour(day.MarketOpen.Add(marketEntryDelay))
	case adjusted.After(day.MarketClose):
		// Post-market: rolls to the following session
		target = floorHour(day.NextBusinessDayOpen.Add(marketEntryDelay))
	default:
		target = adjusted
	}

	// Clamp for symbols whose price history stops before the target
	// (delistings, sanctioned tickers)
	maxTS, hasBars, err := r.prices.MaxTimestamp(symbol)
	if err != nil {
		return domain.ResolvedFill{}, fmt.Errorf("max timestamp lookup failed: %w", err)
	}
	if hasBars && maxTS.Before(target) {
		target = floorHour(maxTS)
	}

	fill := domain.ResolvedFill{
		AccountID:        intent.AccountID,
		Chain:            intent.Chain,
		Symbol:           symbol,
		TargetPercentage: intent.TargetPercentage,
		EntryTime:        intent.EntryTime,
		MarketEntryTime:  target,
	}

	bar, found, err := r.prices.FirstBarAtOrAfter(symbol, target)
	if err != nil {
		return domain.ResolvedFill{}, fmt.Errorf("price lookup failed: %w", err)
	}
	if found {
		fill.ExecutionPrice = bar.VWAP
		fill.Priced = true
	}

	return fill, nil
}

// applyMergers substitutes each merged symbol's first chronological fill
// with a close-out at the substitute entry price, one day after its market
// entry, and drops every later occurrence of the same symbol.
func (r *ExecutionResolver) applyMergers(fills []domain.ResolvedFill) []domain.ResolvedFill {
	seen := make(map[string]bool)
	out := make([]domain.ResolvedFill, 0, len(fills))

	for _, fill := range fills {
		merger, isMerged := r.actions.MergerFor(fill.Symbol)
		if !isMerged {
			out = append(out, fill)
			continue
		}

		if seen[fill.Symbol] {
			r.log.Debug().Str("symbol", fill.Symbol).Msg("Dropping repeated fill for merged symbol")
			continue
		}
		seen[fill.Symbol] = true

		fill.EntryTime = midnightUTC(fill.EntryTime)
		fill.MarketEntryTime = fill.MarketEntryTime.Add(24 * time.Hour)
		fill.ExecutionPrice = merger.EntryPrice
		fill.Priced = true
		fill.TargetPercentage = 0
		out = append(out, fill)
	}

	return out
}

// floorHour truncates to the hour and normalizes to UTC. Session opens come
// from the calendar in exchange-local time; everything downstream of the
// resolver works in UTC.
func floorHour(ts time.Time) time.Time {
	return ts.Truncate(time.Hour).UTC()
}

func midnightUTC(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
