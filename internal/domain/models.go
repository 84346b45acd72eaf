// Package domain provides core domain models and types for the valuation engine.
package domain

import (
	"math"
	"time"
)

// Chain identifies the distributed ledger a trade intent was recorded on
type Chain string

const (
	ChainPolygon Chain = "MATIC"
	ChainSkale   Chain = "SKL"
)

// TradeIntent is one parsed ledger entry token: a weighted target for a symbol.
// Immutable once parsed.
type TradeIntent struct {
	AccountID        string    `json:"account_id"`
	Chain            Chain     `json:"chain"`
	Symbol           string    `json:"symbol"`
	TargetPercentage float64   `json:"target_percentage"` // signed fraction of portfolio value, negative = short
	EntryTime        time.Time `json:"entry_time"`
}

// PositionState holds the fields the valuation loop attaches to a fill,
// exactly once, when the checkpoint whose window contains it is processed.
type PositionState struct {
	PriorShareCount      float64 `json:"prior_share_count"`
	PostShareCount       float64 `json:"post_share_count"`
	ShareDelta           float64 `json:"share_delta"`
	PriorPositionValue   float64 `json:"prior_position_value"`
	CurrentPositionValue float64 `json:"current_position_value"`
	PriorPortfolioValue  float64 `json:"prior_portfolio_value"`
	CashUsed             float64 `json:"cash_used"`
	RealizedProfit       float64 `json:"realized_profit"`
	AdjustedEntryPrice   float64 `json:"adjusted_entry_price"` // pre-split execution price, zero unless a split was applied
}

// ResolvedFill is a trade intent resolved to an executable price and timestamp.
// IDs are assigned monotonically in final chronological order after merger
// substitution. An unpriced fill (Priced == false) is reported but never
// enters position-ledger math.
type ResolvedFill struct {
	ID               int64     `json:"id"`
	AccountID        string    `json:"account_id"`
	Chain            Chain     `json:"chain"`
	Symbol           string    `json:"symbol"`
	TargetPercentage float64   `json:"target_percentage"`
	EntryTime        time.Time `json:"entry_time"`
	MarketEntryTime  time.Time `json:"market_entry_time"`
	ExecutionPrice   float64   `json:"execution_price"`
	Priced           bool      `json:"priced"`

	Position PositionState `json:"position"`
}

// PriceBar is one VWAP bucket for a symbol
type PriceBar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	VWAP      float64   `json:"vwap"`
}

// ActionKind distinguishes corporate action records
type ActionKind string

const (
	ActionDividend ActionKind = "dividend"
	ActionSplit    ActionKind = "split"
	ActionMerger   ActionKind = "merger"
	ActionRename   ActionKind = "rename"
)

// DividendSplit is a flat dividend or split record keyed by payment date
type DividendSplit struct {
	Symbol      string     `json:"symbol"`
	Kind        ActionKind `json:"kind"`
	PaymentDate time.Time  `json:"payment_date"` // midnight, date precision
	Amount      float64    `json:"amount"`       // per-share amount for dividends, ratio for splits
}

// Merger substitutes a symbol's first fill with a cash-out at a fixed price
type Merger struct {
	Symbol     string    `json:"symbol"`
	MergerDate time.Time `json:"merger_date"`
	EntryPrice float64   `json:"entry_price"`
}

// TickerChange renames a symbol effective on a record date
type TickerChange struct {
	OldSymbol  string    `json:"old_symbol"`
	NewSymbol  string    `json:"new_symbol"`
	RecordDate time.Time `json:"record_date"`
}

// BusinessDay describes the trading-calendar view of one calendar date
type BusinessDay struct {
	Date time.Time `json:"date"` // midnight of the queried date
	// MarketOpen and MarketClose belong to the first business day at or
	// after Date. When Date itself is a business day they are its own
	// open and close.
	MarketOpen  time.Time `json:"market_open"`
	MarketClose time.Time `json:"market_close"`
	OpenDate    time.Time `json:"open_date"` // midnight of the day MarketOpen falls on
	// NextBusinessDayOpen is the open of the business day following OpenDate
	NextBusinessDayOpen time.Time `json:"next_business_day_open"`
}

// IsBusinessDay reports whether the queried date itself trades
func (d BusinessDay) IsBusinessDay() bool {
	return d.Date.Equal(d.OpenDate)
}

// OpenPosition is the position ledger's answer to "most recent fill as of T"
// for one symbol that is still open at that time.
type OpenPosition struct {
	Symbol     string  `json:"symbol"`
	FillID     int64   `json:"fill_id"`
	ShareCount float64 `json:"share_count"`
	EntryPrice float64 `json:"entry_price"`
	// CurrentValue is the in-flight position value carried on the latest fill
	CurrentValue float64 `json:"current_value"`
	// RealizedCarried is realized profit accumulated strictly before the
	// latest fill; the latest fill's own realized profit has not crystallized.
	RealizedCarried float64 `json:"realized_carried"`
}

// PortfolioSnapshot is one sealed valuation checkpoint
type PortfolioSnapshot struct {
	Timestamp            time.Time `json:"timestamp"`
	Cash                 float64   `json:"cash"`
	PositionsUSD         float64   `json:"positions_usd"`
	USDValue             float64   `json:"usd_value"`
	InceptionReturn      float64   `json:"inception_return"`
	GrossExposureUSD     float64   `json:"gross_exposure_usd"`
	LongExposureUSD      float64   `json:"long_exposure_usd"`
	ShortExposureUSD     float64   `json:"short_exposure_usd"`
	NetExposureUSD       float64   `json:"net_exposure_usd"`
	GrossExposurePercent float64   `json:"gross_exposure_percent"`
	LongExposurePercent  float64   `json:"long_exposure_percent"`
	ShortExposurePercent float64   `json:"short_exposure_percent"`
	NetExposurePercent   float64   `json:"net_exposure_percent"`
	GrossTradedUSD       float64   `json:"gross_traded_usd"`
	NetTradedUSD         float64   `json:"net_traded_usd"`
	GrossTradedPercent   float64   `json:"gross_traded_percent"`
	NetTradedPercent     float64   `json:"net_traded_percent"`
	UnrealizedLongPnL    float64   `json:"unrealized_long_pnl"`
	UnrealizedShortPnL   float64   `json:"unrealized_short_pnl"`
	UnrealizedPnL        float64   `json:"unrealized_pnl"`
	RealizedLongPnL      float64   `json:"realized_long_pnl"`
	RealizedShortPnL     float64   `json:"realized_short_pnl"`
	RealizedPnL          float64   `json:"realized_pnl"`
	TotalLongPnL         float64   `json:"total_long_pnl"`
	TotalShortPnL        float64   `json:"total_short_pnl"`
	TotalPnL             float64   `json:"total_pnl"`
}

// PositionSnapshot is one open symbol's reading at a checkpoint.
// Rebuilt every checkpoint from the position ledger.
type PositionSnapshot struct {
	Timestamp          time.Time `json:"timestamp"`
	Symbol             string    `json:"symbol"`
	ShareCount         float64   `json:"share_count"`
	Price              float64   `json:"price"`
	EntryPrice         float64   `json:"entry_price"`
	USDPositionValue   float64   `json:"usd_position_value"`
	PercentOfPortfolio float64   `json:"percent_of_portfolio"`
	UnrealizedPnL      float64   `json:"unrealized_pnl"`
	PositionPnL        float64   `json:"position_pnl"`
	PositionROI        float64   `json:"position_roi"`
	ROIDefined         bool      `json:"roi_defined"` // false when the cost-basis denominator is zero
}

// SharePrecision is the decimal precision at which share counts are compared
// to zero. A position whose share count rounds to zero at this precision is
// closed.
const SharePrecision = 8

// RoundShares rounds a share count to SharePrecision decimals
func RoundShares(shares float64) float64 {
	const scale = 1e8
	return math.Round(shares*scale) / scale
}

// BlankSymbol is the placeholder token for empty or malformed ledger entries
const BlankSymbol = "BLANK"
