// Package ledger holds the in-memory position ledger the valuation loop
// walks: a run's priced fills indexed by symbol, with the mutation surface
// the loop uses to attach position state and apply splits.
package ledger

import (
	"sort"
	"time"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

// Ledger is the mutable fill history for one valuation run. Only priced
// fills participate; unpriced fills are retained for diagnostics but never
// move shares or cash.
type Ledger struct {
	fills    []*domain.ResolvedFill
	bySymbol map[string][]*domain.ResolvedFill
	byID     map[int64]*domain.ResolvedFill
	unpriced []domain.ResolvedFill
}

// New builds a ledger from resolved fills. Fills must already carry their
// final chronological IDs; the ledger preserves that order.
func New(fills []domain.ResolvedFill) *Ledger {
	l := &Ledger{
		bySymbol: make(map[string][]*domain.ResolvedFill),
		byID:     make(map[int64]*domain.ResolvedFill),
	}

	for i := range fills {
		fill := fills[i]
		if !fill.Priced {
			l.unpriced = append(l.unpriced, fill)
			continue
		}
		f := &fill
		l.fills = append(l.fills, f)
		l.bySymbol[f.Symbol] = append(l.bySymbol[f.Symbol], f)
		l.byID[f.ID] = f
	}

	return l
}

// Unpriced returns the fills that never found a price bucket
func (l *Ledger) Unpriced() []domain.ResolvedFill {
	return l.unpriced
}

// Fills returns a value snapshot of every priced fill, in ID order
func (l *Ledger) Fills() []domain.ResolvedFill {
	out := make([]domain.ResolvedFill, len(l.fills))
	for i, f := range l.fills {
		out[i] = *f
	}
	return out
}

// FirstMarketEntry returns the earliest priced market entry, if any
func (l *Ledger) FirstMarketEntry() (time.Time, bool) {
	if len(l.fills) == 0 {
		return time.Time{}, false
	}
	return l.fills[0].MarketEntryTime, true
}

// FillsInWindow returns priced fills with market entry in (from, to], in ID
// order. A zero from includes everything up to to; the valuation loop uses
// this for its first checkpoint window.
func (l *Ledger) FillsInWindow(from, to time.Time) []*domain.ResolvedFill {
	var out []*domain.ResolvedFill
	for _, f := range l.fills {
		if !from.IsZero() && !f.MarketEntryTime.After(from) {
			continue
		}
		if f.MarketEntryTime.After(to) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// PriorFill returns the same-symbol fill immediately preceding fill, if one
// exists. The prior fill carries the position being handed over: its share
// count, position value, and the price its realized profit crystallizes
// against.
func (l *Ledger) PriorFill(fill *domain.ResolvedFill) (*domain.ResolvedFill, bool) {
	chain := l.bySymbol[fill.Symbol]
	var prior *domain.ResolvedFill
	for _, f := range chain {
		if f.ID >= fill.ID {
			break
		}
		prior = f
	}
	if prior == nil {
		return nil, false
	}
	return prior, true
}

// OpenPositionsAsOf returns, per symbol, the latest fill with market entry
// strictly before ts, excluding positions whose share count rounds to zero.
// Ties on market entry resolve to the highest fill ID.
func (l *Ledger) OpenPositionsAsOf(ts time.Time) []domain.OpenPosition {
	var positions []domain.OpenPosition

	for symbol, chain := range l.bySymbol {
		latest := -1
		for i, f := range chain {
			if f.MarketEntryTime.Before(ts) {
				latest = i
			}
		}
		if latest < 0 {
			continue
		}

		f := chain[latest]
		if domain.RoundShares(f.Position.PostShareCount) == 0 {
			continue
		}

		realizedCarried := 0.0
		for i := 0; i < latest; i++ {
			realizedCarried += chain[i].Position.RealizedProfit
		}

		positions = append(positions, domain.OpenPosition{
			Symbol:          symbol,
			FillID:          f.ID,
			ShareCount:      f.Position.PostShareCount,
			EntryPrice:      f.ExecutionPrice,
			CurrentValue:    f.Position.CurrentPositionValue,
			RealizedCarried: realizedCarried,
		})
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})

	return positions
}

// UpdateCurrentValue rewrites the in-flight position value carried on a
// fill. The valuation loop calls this every checkpoint for each open
// position's latest fill; the stored value feeds the implied-price fallback
// when a later checkpoint has no bucket for the symbol.
func (l *Ledger) UpdateCurrentValue(fillID int64, value float64) bool {
	f, ok := l.byID[fillID]
	if !ok {
		return false
	}
	f.Position.CurrentPositionValue = value
	return true
}

// ApplySplit adjusts the latest fill for symbol with market entry before
// asOf: shares multiply by ratio, the execution price divides by it, and the
// pre-split price is preserved as the adjusted entry price. Position value
// is unchanged, the split is a renumbering of the same exposure.
func (l *Ledger) ApplySplit(symbol string, ratio float64, asOf time.Time) bool {
	if ratio == 0 {
		return false
	}

	chain := l.bySymbol[symbol]
	var latest *domain.ResolvedFill
	for _, f := range chain {
		if f.MarketEntryTime.Before(asOf) {
			latest = f
		}
	}
	if latest == nil {
		return false
	}

	latest.Position.AdjustedEntryPrice = latest.ExecutionPrice
	latest.ExecutionPrice /= ratio
	latest.Position.PriorShareCount *= ratio
	latest.Position.PostShareCount *= ratio
	latest.Position.ShareDelta *= ratio

	return true
}
