// Package portfolio implements the checkpoint-by-checkpoint valuation of a
// fill history: cash and interest accrual, fill application, corporate
// actions, open-position revaluation, and the sealed snapshot sequence.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/domain"
	"github.com/coveylabs/valuation-engine/internal/modules/ledger"
)

// hoursPerYear converts a checkpoint gap into the year fraction interest
// accrues over.
const hoursPerYear = 365 * 24

// Params are the economic constants of a valuation run
type Params struct {
	StartCash      float64
	AnnualInterest float64 // charged on negative cash only
	FeeRate        float64 // proportional cost on gross traded notional
}

// PriceStore is the price surface the valuation loop needs: the shared
// lookup interface plus the global horizon that bounds the checkpoint
// series.
type PriceStore interface {
	domain.PriceSource
	GlobalMaxTimestamp() (time.Time, bool, error)
}

// LoopResult is the sealed output of one pass over the checkpoint series
type LoopResult struct {
	Snapshots []domain.PortfolioSnapshot
	Positions []domain.PositionSnapshot
}

// Service runs the portfolio valuation loop. The loop is strictly
// sequential: each checkpoint is a function of the previous sealed
// checkpoint plus the fills, prices, and corporate actions in its window.
type Service struct {
	calendar domain.Calendar
	prices   PriceStore
	actions  domain.ActionResolver
	params   Params
	log      zerolog.Logger
}

// NewService creates a new valuation service
func NewService(calendar domain.Calendar, prices PriceStore, actions domain.ActionResolver, params Params, log zerolog.Logger) *Service {
	return &Service{
		calendar: calendar,
		prices:   prices,
		actions:  actions,
		params:   params,
		log:      log.With().Str("component", "valuation").Logger(),
	}
}

// Run walks every checkpoint from the day before the first fill to the last
// available price timestamp, mutating the position ledger in place and
// sealing one portfolio snapshot per checkpoint. The ledger is exclusively
// owned by this call for its duration.
func (s *Service) Run(ctx context.Context, book *ledger.Ledger) (*LoopResult, error) {
	checkpoints, err := s.checkpointSeries(book)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int("checkpoints", len(checkpoints)).
		Int("fills", len(book.Fills())).
		Msg("Starting valuation loop")

	result := &LoopResult{}

	// t0: seeded state, no positions
	prev := domain.PortfolioSnapshot{
		Timestamp:       checkpoints[0],
		Cash:            s.params.StartCash,
		USDValue:        s.params.StartCash,
		InceptionReturn: 1.0,
	}
	result.Snapshots = append(result.Snapshots, prev)

	var realizedLong, realizedShort float64

	for _, ts := range checkpoints[1:] {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("valuation loop cancelled: %w", err)
		}

		cash := prev.Cash

		// Interest accrues on borrowed cash only
		if cash < 0 {
			dt := ts.Sub(prev.Timestamp).Hours() / hoursPerYear
			cash += cash * s.params.AnnualInterest * dt
		}

		snap := domain.PortfolioSnapshot{Timestamp: ts}

		// Apply the window's fills against the prior checkpoint's value
		for _, fill := range book.FillsInWindow(prev.Timestamp, ts) {
			price := fill.ExecutionPrice
			if price == 0 {
				continue
			}

			var priorShares, priorPrice float64
			if prior, ok := book.PriorFill(fill); ok {
				priorShares = prior.Position.PostShareCount
				priorPrice = prior.ExecutionPrice

				// The prior fill's profit crystallizes now, classified by
				// the sign of the position it carried
				realized := (price - priorPrice) * priorShares
				prior.Position.RealizedProfit = realized
				if priorShares >= 0 {
					realizedLong += realized
				} else {
					realizedShort += realized
				}
			}

			priorValue := price * priorShares
			targetValue := fill.TargetPercentage * prev.USDValue
			cashUsed := priorValue - targetValue
			shareDelta := -cashUsed / price
			postShares := priorShares + shareDelta

			fill.Position = domain.PositionState{
				PriorShareCount:      priorShares,
				PostShareCount:       postShares,
				ShareDelta:           shareDelta,
				PriorPositionValue:   priorValue,
				CurrentPositionValue: postShares * price,
				PriorPortfolioValue:  prev.USDValue,
				CashUsed:             cashUsed,
			}

			snap.GrossTradedUSD += math.Abs(cashUsed)
			snap.NetTradedUSD += -cashUsed
			cash += cashUsed
		}

		cash -= s.params.FeeRate * snap.GrossTradedUSD

		// Corporate actions apply once per calendar day, never on an
		// intraday step
		if !sameDay(prev.Timestamp, ts) {
			cash += s.applyCorporateActions(book, ts)
		}

		// Revalue the surviving open positions
		var positionsUSD, longUSD, shortUSD float64
		for _, pos := range book.OpenPositionsAsOf(ts) {
			price, found, err := s.prices.PriceAt(pos.Symbol, ts)
			if err != nil {
				return nil, fmt.Errorf("price lookup for %s at %s failed: %w", pos.Symbol, ts, err)
			}
			if !found {
				// No bucket at this checkpoint: carry the last known value
				// as an implied price
				price = pos.CurrentValue / pos.ShareCount
			}

			value := pos.ShareCount * price
			unrealized := (price - pos.EntryPrice) * pos.ShareCount
			book.UpdateCurrentValue(pos.FillID, value)

			positionsUSD += value
			if value >= 0 {
				longUSD += value
				snap.UnrealizedLongPnL += unrealized
			} else {
				shortUSD += value
				snap.UnrealizedShortPnL += unrealized
			}

			positionPnL := pos.RealizedCarried + unrealized
			ps := domain.PositionSnapshot{
				Timestamp:        ts,
				Symbol:           pos.Symbol,
				ShareCount:       pos.ShareCount,
				Price:            price,
				EntryPrice:       pos.EntryPrice,
				USDPositionValue: value,
				UnrealizedPnL:    unrealized,
				PositionPnL:      positionPnL,
			}
			if prev.USDValue != 0 {
				ps.PercentOfPortfolio = value / prev.USDValue
			}
			if costBasis := math.Abs(value) - unrealized; costBasis != 0 {
				ps.PositionROI = positionPnL / costBasis
				ps.ROIDefined = true
			}
			result.Positions = append(result.Positions, ps)
		}

		snap.Cash = cash
		snap.PositionsUSD = positionsUSD
		snap.USDValue = cash + positionsUSD
		snap.LongExposureUSD = longUSD
		snap.ShortExposureUSD = shortUSD
		snap.GrossExposureUSD = longUSD - shortUSD
		snap.NetExposureUSD = longUSD + shortUSD

		// Normalization uses the prior checkpoint's value: the current one
		// would leak this checkpoint's outcome into its own denominators
		if prev.USDValue != 0 {
			snap.GrossExposurePercent = snap.GrossExposureUSD / prev.USDValue
			snap.LongExposurePercent = snap.LongExposureUSD / prev.USDValue
			snap.ShortExposurePercent = snap.ShortExposureUSD / prev.USDValue
			snap.NetExposurePercent = snap.NetExposureUSD / prev.USDValue
			snap.GrossTradedPercent = snap.GrossTradedUSD / prev.USDValue
			snap.NetTradedPercent = snap.NetTradedUSD / prev.USDValue
			snap.InceptionReturn = prev.InceptionReturn * snap.USDValue / prev.USDValue
		} else {
			snap.InceptionReturn = prev.InceptionReturn
		}

		snap.UnrealizedPnL = snap.UnrealizedLongPnL + snap.UnrealizedShortPnL
		snap.RealizedLongPnL = realizedLong
		snap.RealizedShortPnL = realizedShort
		snap.RealizedPnL = realizedLong + realizedShort
		snap.TotalLongPnL = snap.UnrealizedLongPnL + snap.RealizedLongPnL
		snap.TotalShortPnL = snap.UnrealizedShortPnL + snap.RealizedShortPnL
		snap.TotalPnL = snap.UnrealizedPnL + snap.RealizedPnL

		result.Snapshots = append(result.Snapshots, snap)
		prev = snap
	}

	s.log.Info().
		Float64("final_usd_value", prev.USDValue).
		Msg("Valuation loop complete")

	return result, nil
}

// applyCorporateActions pays dividends and applies splits effective on the
// checkpoint's calendar day, against the positions held into it. Dividends
// first: a same-day split must not change the share count the dividend pays
// on.
func (s *Service) applyCorporateActions(book *ledger.Ledger, ts time.Time) float64 {
	var dividendCash float64

	open := book.OpenPositionsAsOf(ts)
	for _, pos := range open {
		if amount, ok := s.actions.DividendOn(pos.Symbol, ts); ok {
			dividendCash += pos.ShareCount * amount
			s.log.Debug().
				Str("symbol", pos.Symbol).
				Float64("per_share", amount).
				Float64("cash", pos.ShareCount*amount).
				Msg("Dividend applied")
		}
	}

	for _, pos := range open {
		if ratio, ok := s.actions.SplitRatioOn(pos.Symbol, ts); ok {
			if book.ApplySplit(pos.Symbol, ratio, ts) {
				s.log.Debug().
					Str("symbol", pos.Symbol).
					Float64("ratio", ratio).
					Msg("Split applied")
			}
		}
	}

	return dividendCash
}

// checkpointSeries builds the valuation timestamps: the day before the first
// fill, every market close up to the price horizon, and the horizon itself.
func (s *Service) checkpointSeries(book *ledger.Ledger) ([]time.Time, error) {
	first, ok := book.FirstMarketEntry()
	if !ok {
		return nil, domain.ErrNoCheckpoints
	}

	maxTS, ok, err := s.prices.GlobalMaxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve price horizon: %w", err)
	}
	if !ok {
		return nil, domain.ErrNoCheckpoints
	}

	start := first.Add(-24 * time.Hour)
	checkpoints := []time.Time{start}
	checkpoints = append(checkpoints, s.calendar.MarketCloses(start, maxTS)...)
	if last := checkpoints[len(checkpoints)-1]; last.Before(maxTS) {
		checkpoints = append(checkpoints, maxTS)
	}

	if len(checkpoints) < 2 {
		return nil, domain.ErrNoCheckpoints
	}

	return checkpoints, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
