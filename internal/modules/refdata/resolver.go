package refdata

import (
	"strings"
	"time"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

// Resolver is a pure, stateless corporate-action lookup. Absence of a record
// for a symbol/date is the common case (no action that day) and is reported
// via the boolean, never as an error. It implements domain.ActionResolver.
type Resolver struct {
	dividends map[string]float64 // "SYMBOL|2006-01-02" -> per-share amount
	splits    map[string]float64 // "SYMBOL|2006-01-02" -> ratio
	mergers   map[string]domain.Merger
	renames   map[string]domain.TickerChange
}

// NewResolver builds a resolver from flat reference-data records
func NewResolver(divSplits []domain.DividendSplit, mergers []domain.Merger, changes []domain.TickerChange) *Resolver {
	r := &Resolver{
		dividends: make(map[string]float64),
		splits:    make(map[string]float64),
		mergers:   make(map[string]domain.Merger),
		renames:   make(map[string]domain.TickerChange),
	}

	for _, rec := range divSplits {
		key := actionKey(rec.Symbol, rec.PaymentDate)
		switch rec.Kind {
		case domain.ActionDividend:
			// Multiple dividend rows on the same date accumulate
			r.dividends[key] += rec.Amount
		case domain.ActionSplit:
			// Multiple split rows on the same date compose multiplicatively
			if existing, ok := r.splits[key]; ok {
				r.splits[key] = existing * rec.Amount
			} else {
				r.splits[key] = rec.Amount
			}
		}
	}

	for _, rec := range mergers {
		r.mergers[strings.ToUpper(rec.Symbol)] = rec
	}

	for _, rec := range changes {
		r.renames[strings.ToUpper(rec.OldSymbol)] = rec
	}

	return r
}

func actionKey(symbol string, date time.Time) string {
	return strings.ToUpper(symbol) + "|" + date.Format("2006-01-02")
}

// DividendOn returns the per-share dividend paid for symbol on date, if any
func (r *Resolver) DividendOn(symbol string, date time.Time) (float64, bool) {
	amount, ok := r.dividends[actionKey(symbol, date)]
	return amount, ok
}

// SplitRatioOn returns the split ratio effective for symbol on date, if any.
// A ratio of 2 means a 2-for-1 split: share count doubles, price halves.
func (r *Resolver) SplitRatioOn(symbol string, date time.Time) (float64, bool) {
	ratio, ok := r.splits[actionKey(symbol, date)]
	return ratio, ok
}

// MergerFor returns the merger substitution for symbol, if any. The
// substitution applies only to the symbol's first chronological fill;
// later occurrences are dropped from the ledger, not re-merged.
func (r *Resolver) MergerFor(symbol string) (domain.Merger, bool) {
	m, ok := r.mergers[strings.ToUpper(symbol)]
	return m, ok
}

// RenameEffectiveOn returns the post-rename symbol when a ticker change's
// record date is on or before ts. Renames apply at fill-resolution time.
func (r *Resolver) RenameEffectiveOn(symbol string, ts time.Time) (string, bool) {
	rec, ok := r.renames[strings.ToUpper(symbol)]
	if !ok {
		return "", false
	}
	if rec.RecordDate.After(ts) {
		return "", false
	}
	return rec.NewSymbol, true
}
