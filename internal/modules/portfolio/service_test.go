package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveylabs/valuation-engine/internal/domain"
	"github.com/coveylabs/valuation-engine/internal/modules/ledger"
)

// stubCalendar serves a fixed close series
type stubCalendar struct {
	closes []time.Time
}

func (c *stubCalendar) BusinessDay(ts time.Time) (domain.BusinessDay, error) {
	return domain.BusinessDay{}, nil
}

func (c *stubCalendar) MarketCloses(from, to time.Time) []time.Time {
	var out []time.Time
	for _, ts := range c.closes {
		if ts.After(from) && !ts.After(to) {
			out = append(out, ts)
		}
	}
	return out
}

// stubPriceStore is an exact-bucket price lookup
type stubPriceStore struct {
	prices map[string]map[time.Time]float64
}

func (s *stubPriceStore) FirstBarAtOrAfter(symbol string, ts time.Time) (domain.PriceBar, bool, error) {
	return domain.PriceBar{}, false, nil
}

func (s *stubPriceStore) PriceAt(symbol string, ts time.Time) (float64, bool, error) {
	price, ok := s.prices[symbol][ts]
	return price, ok, nil
}

func (s *stubPriceStore) MaxTimestamp(symbol string) (time.Time, bool, error) {
	var max time.Time
	found := false
	for ts := range s.prices[symbol] {
		if !found || ts.After(max) {
			max = ts
			found = true
		}
	}
	return max, found, nil
}

func (s *stubPriceStore) GlobalMaxTimestamp() (time.Time, bool, error) {
	var max time.Time
	found := false
	for _, buckets := range s.prices {
		for ts := range buckets {
			if !found || ts.After(max) {
				max = ts
				found = true
			}
		}
	}
	return max, found, nil
}

// stubActions serves dividends and splits keyed by symbol and date
type stubActions struct {
	dividends map[string]float64
	splits    map[string]float64
}

func actionKey(symbol string, date time.Time) string {
	return symbol + "|" + date.Format("2006-01-02")
}

func (s *stubActions) DividendOn(symbol string, date time.Time) (float64, bool) {
	amount, ok := s.dividends[actionKey(symbol, date)]
	return amount, ok
}

func (s *stubActions) SplitRatioOn(symbol string, date time.Time) (float64, bool) {
	ratio, ok := s.splits[actionKey(symbol, date)]
	return ratio, ok
}

func (s *stubActions) MergerFor(symbol string) (domain.Merger, bool) { return domain.Merger{}, false }
func (s *stubActions) RenameEffectiveOn(symbol string, ts time.Time) (string, bool) {
	return "", false
}

func day(d, hour int) time.Time {
	return time.Date(2022, 1, d, hour, 0, 0, 0, time.UTC)
}

func pricedFill(id int64, symbol string, target float64, entry time.Time, price float64) domain.ResolvedFill {
	return domain.ResolvedFill{
		ID:               id,
		AccountID:        "0xabc",
		Symbol:           symbol,
		TargetPercentage: target,
		EntryTime:        entry,
		MarketEntryTime:  entry,
		ExecutionPrice:   price,
		Priced:           true,
	}
}

func newTestService(calendar domain.Calendar, prices PriceStore, actions domain.ActionResolver, params Params) *Service {
	return NewService(calendar, prices, actions, params, zerolog.New(nil).Level(zerolog.Disabled))
}

func assertValueConservation(t *testing.T, snapshots []domain.PortfolioSnapshot) {
	t.Helper()
	for _, s := range snapshots {
		assert.InDelta(t, s.USDValue, s.Cash+s.PositionsUSD, 1e-6,
			"usd_value must equal cash + positions at %s", s.Timestamp)
	}
}

func TestRun_SingleIntentScenario(t *testing.T) {
	// Start cash 10000, one AAPL:0.5 intent priced at 100:
	// 50 shares, cash 5000, usd_value 10000, inception 1.0
	fills := []domain.ResolvedFill{
		pricedFill(1, "AAPL", 0.5, day(10, 16), 100),
	}
	calendar := &stubCalendar{closes: []time.Time{day(10, 21), day(11, 21)}}
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
		"AAPL": {day(10, 21): 100, day(11, 21): 100},
	}}
	svc := newTestService(calendar, prices, &stubActions{}, Params{StartCash: 10000, AnnualInterest: 0.02})

	book := ledger.New(fills)
	result, err := svc.Run(context.Background(), book)
	require.NoError(t, err)
	require.Len(t, result.Snapshots, 3)

	seed := result.Snapshots[0]
	assert.Equal(t, 10000.0, seed.Cash)
	assert.Equal(t, 1.0, seed.InceptionReturn)

	first := result.Snapshots[1]
	assert.InDelta(t, 5000.0, first.Cash, 1e-9)
	assert.InDelta(t, 5000.0, first.PositionsUSD, 1e-9)
	assert.InDelta(t, 10000.0, first.USDValue, 1e-9)
	assert.InDelta(t, 1.0, first.InceptionReturn, 1e-9)
	assert.InDelta(t, 5000.0, first.GrossTradedUSD, 1e-9)
	assert.InDelta(t, 5000.0, first.NetTradedUSD, 1e-9)
	assert.InDelta(t, 5000.0, first.LongExposureUSD, 1e-9)
	assert.InDelta(t, 0.5, first.LongExposurePercent, 1e-9)

	state := book.Fills()[0].Position
	assert.InDelta(t, 50.0, state.PostShareCount, 1e-9)
	assert.InDelta(t, 50.0, state.ShareDelta, 1e-9)
	assert.InDelta(t, -5000.0, state.CashUsed, 1e-9)
	assert.InDelta(t, 10000.0, state.PriorPortfolioValue, 1e-9)

	assertValueConservation(t, result.Snapshots)
}

func TestRun_TransactionCostOnGrossTraded(t *testing.T) {
	fills := []domain.ResolvedFill{
		pricedFill(1, "AAPL", 0.5, day(10, 16), 100),
	}
	calendar := &stubCalendar{closes: []time.Time{day(10, 21)}}
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
		"AAPL": {day(10, 21): 100},
	}}
	svc := newTestService(calendar, prices, &stubActions{}, Params{StartCash: 10000, FeeRate: 0.0005})

	result, err := svc.Run(context.Background(), ledger.New(fills))
	require.NoError(t, err)

	// 5 bps on 5000 gross traded
	assert.InDelta(t, 4997.5, result.Snapshots[1].Cash, 1e-9)
	assertValueConservation(t, result.Snapshots)
}

func TestRun_RealizedProfitTimingAndShareContinuity(t *testing.T) {
	fills := []domain.ResolvedFill{
		pricedFill(1, "AAPL", 0.5, day(10, 16), 100),
		pricedFill(2, "AAPL", 0.25, day(11, 16), 110),
	}
	calendar := &stubCalendar{closes: []time.Time{day(10, 21), day(11, 21)}}
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
		"AAPL": {day(10, 21): 100, day(11, 21): 110},
	}}
	svc := newTestService(calendar, prices, &stubActions{}, Params{StartCash: 10000})

	book := ledger.New(fills)
	result, err := svc.Run(context.Background(), book)
	require.NoError(t, err)

	state := book.Fills()

	// After checkpoint 1 the only fill shows no realized profit; it
	// crystallizes when fill 2 supersedes it: (110-100) x 50 = 500
	assert.InDelta(t, 500.0, state[0].Position.RealizedProfit, 1e-9)
	assert.InDelta(t, 0.0, state[1].Position.RealizedProfit, 1e-9, "latest fill's profit is pending")

	// Share continuity across consecutive fills
	assert.InDelta(t, state[0].Position.PostShareCount, state[1].Position.PriorShareCount, 1e-9)

	second := result.Snapshots[2]
	assert.InDelta(t, 500.0, second.RealizedLongPnL, 1e-9)
	assert.InDelta(t, 500.0, second.RealizedPnL, 1e-9)

	// Fill 2 rebalances to 25% of the prior 10000: 2500 / 110 shares
	assert.InDelta(t, 2500.0/110.0, state[1].Position.PostShareCount, 1e-9)

	assertValueConservation(t, result.Snapshots)
}

func TestRun_CloseOutRemovesPosition(t *testing.T) {
	fills := []domain.ResolvedFill{
		pricedFill(1, "AAPL", 0.5, day(10, 16), 100),
		pricedFill(2, "AAPL", 0, day(11, 16), 110),
	}
	calendar := &stubCalendar{closes: []time.Time{day(10, 21), day(11, 21)}}
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
		"AAPL": {day(10, 21): 100, day(11, 21): 110},
	}}
	svc := newTestService(calendar, prices, &stubActions{}, Params{StartCash: 10000})

	result, err := svc.Run(context.Background(), ledger.New(fills))
	require.NoError(t, err)

	final := result.Snapshots[2]
	assert.InDelta(t, 0.0, final.PositionsUSD, 1e-9)
	// 5000 after the buy, plus 5500 from the close-out at 110
	assert.InDelta(t, 10500.0, final.Cash, 1e-9)
	assert.InDelta(t, 500.0, final.RealizedPnL, 1e-9)

	for _, p := range result.Positions {
		assert.False(t, p.Timestamp.Equal(day(11, 21)), "closed position must not snapshot")
	}

	assertValueConservation(t, result.Snapshots)
}

func TestRun_DividendPaysOnDayBoundary(t *testing.T) {
	fills := []domain.ResolvedFill{
		pricedFill(1, "AAPL", 0.5, day(10, 16), 100),
	}
	calendar := &stubCalendar{closes: []time.Time{day(10, 21), day(11, 21)}}
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
		"AAPL": {day(10, 21): 100, day(11, 21): 100},
	}}
	actions := &stubActions{dividends: map[string]float64{
		actionKey("AAPL", day(11, 0)): 1.0,
	}}
	svc := newTestService(calendar, prices, actions, Params{StartCash: 10000})

	result, err := svc.Run(context.Background(), ledger.New(fills))
	require.NoError(t, err)

	// $1/share on 50 held shares lands in cash; share count and basis
	// are untouched
	final := result.Snapshots[2]
	assert.InDelta(t, 5050.0, final.Cash, 1e-9)
	assert.InDelta(t, 5000.0, final.PositionsUSD, 1e-9)
	assert.InDelta(t, 10050.0, final.USDValue, 1e-9)
	assert.InDelta(t, 1.005, final.InceptionReturn, 1e-9)

	assertValueConservation(t, result.Snapshots)
}

func TestRun_IntradayCheckpointSkipsCorporateActions(t *testing.T) {
	fills := []domain.ResolvedFill{
		pricedFill(1, "AAPL", 0.5, day(10, 16), 100),
	}
	// Two checkpoints on the same calendar day
	calendar := &stubCalendar{closes: []time.Time{day(10, 18), day(10, 21)}}
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
		"AAPL": {day(10, 18): 100, day(10, 21): 100},
	}}
	actions := &stubActions{dividends: map[string]float64{
		actionKey("AAPL", day(10, 0)): 1.0,
	}}
	svc := newTestService(calendar, prices, actions, Params{StartCash: 10000})

	result, err := svc.Run(context.Background(), ledger.New(fills))
	require.NoError(t, err)

	// The dividend pays when the day boundary is crossed into Jan 10 and
	// must not pay again on the intraday step
	assert.InDelta(t, 5050.0, result.Snapshots[1].Cash, 1e-9)
	assert.InDelta(t, 5050.0, result.Snapshots[2].Cash, 1e-9)
}

func TestRun_SplitAdjustsPositionInPlace(t *testing.T) {
	fills := []domain.ResolvedFill{
		pricedFill(1, "AAPL", 0.5, day(10, 16), 100),
	}
	calendar := &stubCalendar{closes: []time.Time{day(10, 21), day(11, 21)}}
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
		"AAPL": {day(10, 21): 100, day(11, 21): 50}, // post-split bucket
	}}
	actions := &stubActions{splits: map[string]float64{
		actionKey("AAPL", day(11, 0)): 2.0,
	}}
	svc := newTestService(calendar, prices, actions, Params{StartCash: 10000})

	book := ledger.New(fills)
	result, err := svc.Run(context.Background(), book)
	require.NoError(t, err)

	state := book.Fills()[0]
	assert.InDelta(t, 50.0, state.ExecutionPrice, 1e-9)
	assert.InDelta(t, 100.0, state.Position.PostShareCount, 1e-9)
	assert.InDelta(t, 100.0, state.Position.AdjustedEntryPrice, 1e-9)

	// 100 shares at the post-split 50: value unchanged
	final := result.Snapshots[2]
	assert.InDelta(t, 5000.0, final.PositionsUSD, 1e-9)
	assert.InDelta(t, 10000.0, final.USDValue, 1e-9)

	assertValueConservation(t, result.Snapshots)
}

func TestRun_InterestOnNegativeCashOnly(t *testing.T) {
	// A 200% target levers the portfolio: cash goes to -10000
	fills := []domain.ResolvedFill{
		pricedFill(1, "LEVR", 2.0, day(10, 16), 100),
	}
	calendar := &stubCalendar{closes: []time.Time{day(10, 21), day(20, 21)}}
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
		"LEVR": {day(10, 21): 100, day(20, 21): 100},
	}}
	svc := newTestService(calendar, prices, &stubActions{}, Params{StartCash: 10000, AnnualInterest: 0.02})

	result, err := svc.Run(context.Background(), ledger.New(fills))
	require.NoError(t, err)

	first := result.Snapshots[1]
	assert.InDelta(t, -10000.0, first.Cash, 1e-9)
	assert.InDelta(t, 20000.0, first.PositionsUSD, 1e-9)
	assert.InDelta(t, 2.0, first.GrossExposurePercent, 1e-9)

	// Ten days at 2% annual on -10000, applied exactly once
	expected := -10000.0 * (1 + 0.02*10.0/365.0)
	assert.InDelta(t, expected, result.Snapshots[2].Cash, 1e-6)

	assertValueConservation(t, result.Snapshots)
}

func TestRun_NoInterestOnPositiveCash(t *testing.T) {
	fills := []domain.ResolvedFill{
		pricedFill(1, "AAPL", 0.5, day(10, 16), 100),
	}
	calendar := &stubCalendar{closes: []time.Time{day(10, 21), day(20, 21)}}
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
		"AAPL": {day(10, 21): 100, day(20, 21): 100},
	}}
	svc := newTestService(calendar, prices, &stubActions{}, Params{StartCash: 10000, AnnualInterest: 0.02})

	result, err := svc.Run(context.Background(), ledger.New(fills))
	require.NoError(t, err)

	assert.InDelta(t, 5000.0, result.Snapshots[2].Cash, 1e-9, "positive cash earns nothing")
}

func TestRun_ImpliedPriceFallback(t *testing.T) {
	fills := []domain.ResolvedFill{
		pricedFill(1, "AAPL", 0.5, day(10, 16), 100),
	}
	calendar := &stubCalendar{closes: []time.Time{day(10, 21), day(11, 21)}}
	// No bucket at the second checkpoint: the position carries its last
	// known value forward
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
		"AAPL": {day(10, 21): 104, day(12, 0): 1}, // day(12,0) only extends the horizon
	}}
	svc := newTestService(calendar, prices, &stubActions{}, Params{StartCash: 10000})

	result, err := svc.Run(context.Background(), ledger.New(fills))
	require.NoError(t, err)

	require.Len(t, result.Snapshots, 4)
	atFirst := result.Snapshots[1]
	assert.InDelta(t, 5200.0, atFirst.PositionsUSD, 1e-9) // 50 shares at 104

	atSecond := result.Snapshots[2]
	assert.InDelta(t, 5200.0, atSecond.PositionsUSD, 1e-9, "implied price preserves last value")

	assertValueConservation(t, result.Snapshots)
}

func TestRun_ShortPositionBuckets(t *testing.T) {
	fills := []domain.ResolvedFill{
		pricedFill(1, "TSLA", -0.5, day(10, 16), 100),
	}
	calendar := &stubCalendar{closes: []time.Time{day(10, 21), day(11, 21)}}
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
		"TSLA": {day(10, 21): 100, day(11, 21): 90},
	}}
	svc := newTestService(calendar, prices, &stubActions{}, Params{StartCash: 10000})

	result, err := svc.Run(context.Background(), ledger.New(fills))
	require.NoError(t, err)

	first := result.Snapshots[1]
	assert.InDelta(t, 15000.0, first.Cash, 1e-9, "short sale proceeds raise cash")
	assert.InDelta(t, -5000.0, first.ShortExposureUSD, 1e-9)
	assert.InDelta(t, 5000.0, first.GrossExposureUSD, 1e-9)
	assert.InDelta(t, -5000.0, first.NetExposureUSD, 1e-9)

	// Price drops to 90: -50 shares gain (90-100) x -50 = 500 unrealized
	second := result.Snapshots[2]
	assert.InDelta(t, 500.0, second.UnrealizedShortPnL, 1e-9)
	assert.InDelta(t, -4500.0, second.ShortExposureUSD, 1e-9)
	assert.InDelta(t, 10500.0, second.USDValue, 1e-9)

	assertValueConservation(t, result.Snapshots)
}

func TestRun_EmptyLedger(t *testing.T) {
	calendar := &stubCalendar{}
	prices := &stubPriceStore{prices: map[string]map[time.Time]float64{}}
	svc := newTestService(calendar, prices, &stubActions{}, Params{StartCash: 10000})

	_, err := svc.Run(context.Background(), ledger.New(nil))
	assert.ErrorIs(t, err, domain.ErrNoCheckpoints)
}

func TestRun_IsDeterministic(t *testing.T) {
	build := func() (*LoopResult, error) {
		fills := []domain.ResolvedFill{
			pricedFill(1, "AAPL", 0.5, day(10, 16), 100),
			pricedFill(2, "TSLA", -0.2, day(10, 17), 900),
			pricedFill(3, "AAPL", 0.25, day(11, 16), 110),
		}
		calendar := &stubCalendar{closes: []time.Time{day(10, 21), day(11, 21), day(12, 21)}}
		prices := &stubPriceStore{prices: map[string]map[time.Time]float64{
			"AAPL": {day(10, 21): 100, day(11, 21): 110, day(12, 21): 112},
			"TSLA": {day(10, 21): 900, day(11, 21): 880, day(12, 21): 905},
		}}
		svc := newTestService(calendar, prices, &stubActions{}, Params{StartCash: 10000, FeeRate: 0.0005, AnnualInterest: 0.02})
		return svc.Run(context.Background(), ledger.New(fills))
	}

	a, err := build()
	require.NoError(t, err)
	b, err := build()
	require.NoError(t, err)

	assert.Equal(t, a.Snapshots, b.Snapshots)
	assert.Equal(t, a.Positions, b.Positions)
	assertValueConservation(t, a.Snapshots)
}
