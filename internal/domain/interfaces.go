package domain

import (
	"context"
	"time"
)

// Calendar supplies trading-calendar facts the execution resolver and the
// valuation loop consume. Implementations own holiday and session knowledge.
type Calendar interface {
	// BusinessDay returns the calendar view for the date of ts
	BusinessDay(ts time.Time) (BusinessDay, error)
	// MarketCloses returns every market close in (from, to], ascending
	MarketCloses(from, to time.Time) []time.Time
}

// PriceSource supplies historical VWAP bars. Gaps are permitted; a missing
// bucket is a normal condition, not an error.
type PriceSource interface {
	// FirstBarAtOrAfter returns the earliest bar for symbol with
	// timestamp >= ts, if any
	FirstBarAtOrAfter(symbol string, ts time.Time) (PriceBar, bool, error)
	// PriceAt returns the VWAP of the exact bucket at ts, if present
	PriceAt(symbol string, ts time.Time) (float64, bool, error)
	// MaxTimestamp returns the latest bar timestamp for symbol, if the
	// symbol has any bars at all
	MaxTimestamp(symbol string) (time.Time, bool, error)
}

// ActionResolver answers corporate-action lookups. Absence of a record is the
// common case and is reported via the boolean, never as an error.
type ActionResolver interface {
	DividendOn(symbol string, date time.Time) (float64, bool)
	SplitRatioOn(symbol string, date time.Time) (float64, bool)
	MergerFor(symbol string) (Merger, bool)
	RenameEffectiveOn(symbol string, ts time.Time) (string, bool)
}

// RawLedgerEntry is one on-chain ledger record before parsing: a delimited
// list of symbol:target tokens recorded by an account at a point in time.
type RawLedgerEntry struct {
	AccountID string
	Chain     Chain
	Trades    string // comma-separated "SYMBOL:target" tokens
	EntryUnix int64
}

// ChainReader fetches raw ledger entries for one chain
type ChainReader interface {
	Chain() Chain
	FetchEntries(ctx context.Context, accountID string) ([]RawLedgerEntry, error)
}
