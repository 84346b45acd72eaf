package portfolio

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

// tradingDaysPerYear annualizes checkpoint-level return statistics
const tradingDaysPerYear = 252

// PerformanceStats summarizes a run's snapshot sequence
type PerformanceStats struct {
	TotalReturn      float64 `json:"total_return" msgpack:"total_return"`
	MeanDailyReturn  float64 `json:"mean_daily_return" msgpack:"mean_daily_return"`
	DailyVolatility  float64 `json:"daily_volatility" msgpack:"daily_volatility"`
	AnnualVolatility float64 `json:"annual_volatility" msgpack:"annual_volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio" msgpack:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown" msgpack:"max_drawdown"`
}

// ComputeStats derives performance statistics from a sealed snapshot
// sequence. Checkpoints with a zero prior value contribute no return
// observation.
func ComputeStats(snapshots []domain.PortfolioSnapshot) PerformanceStats {
	var stats PerformanceStats
	if len(snapshots) < 2 {
		return stats
	}

	returns := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prior := snapshots[i-1].USDValue
		if prior == 0 {
			continue
		}
		returns = append(returns, snapshots[i].USDValue/prior-1)
	}

	stats.TotalReturn = snapshots[len(snapshots)-1].InceptionReturn - 1

	if len(returns) > 0 {
		mean, stddev := stat.MeanStdDev(returns, nil)
		if math.IsNaN(stddev) {
			stddev = 0
		}
		stats.MeanDailyReturn = mean
		stats.DailyVolatility = stddev
		stats.AnnualVolatility = stddev * math.Sqrt(tradingDaysPerYear)
		if stddev != 0 {
			stats.SharpeRatio = mean / stddev * math.Sqrt(tradingDaysPerYear)
		}
	}

	stats.MaxDrawdown = maxDrawdown(snapshots)
	return stats
}

// maxDrawdown is the largest peak-to-trough decline of the value series,
// reported as a non-positive fraction
func maxDrawdown(snapshots []domain.PortfolioSnapshot) float64 {
	peak := snapshots[0].USDValue
	worst := 0.0

	for _, s := range snapshots[1:] {
		if s.USDValue > peak {
			peak = s.USDValue
			continue
		}
		if peak > 0 {
			if dd := s.USDValue/peak - 1; dd < worst {
				worst = dd
			}
		}
	}

	return worst
}
