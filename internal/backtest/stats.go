package backtest

import (
	"math"

	"github.com/newthinker/tinkclaw/internal/gateway"
)

// CalculateStats computes performance statistics from trades and, when
// present, the equity curve. The curve is preferred for return, drawdown
// and Sharpe since it includes open exposure; trade returns are the
// fallback.
func CalculateStats(trades []Trade, equity []gateway.EquityPoint) Stats {
	var winning, losing int
	var returns []float64

	for _, t := range trades {
		if !t.IsClosed() {
			continue
		}
		returns = append(returns, t.Return)
		if t.IsWin() {
			winning++
		} else {
			losing++
		}
	}

	closedTrades := winning + losing
	var winRate float64
	if closedTrades > 0 {
		winRate = float64(winning) / float64(closedTrades) * 100
	}

	stats := Stats{
		TotalTrades:   len(trades),
		WinningTrades: winning,
		LosingTrades:  losing,
		WinRate:       winRate,
	}

	if curve := equityValues(equity); len(curve) >= 2 && curve[0] > 0 {
		stats.TotalReturn = (curve[len(curve)-1]/curve[0] - 1) * 100
		stats.MaxDrawdown = curveDrawdown(curve) * 100
		stats.SharpeRatio = calculateSharpeRatio(periodReturns(curve))
		return stats
	}

	compounded := 1.0
	for _, r := range returns {
		compounded *= 1 + r
	}
	if len(returns) > 0 {
		stats.TotalReturn = (compounded - 1) * 100
	}
	stats.MaxDrawdown = calculateMaxDrawdown(returns) * 100
	stats.SharpeRatio = calculateSharpeRatio(returns)
	return stats
}

func equityValues(points []gateway.EquityPoint) []float64 {
	out := make([]float64, 0, len(points))
	for _, p := range points {
		out = append(out, p.Equity)
	}
	return out
}

func periodReturns(curve []float64) []float64 {
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] == 0 {
			continue
		}
		out = append(out, curve[i]/curve[i-1]-1)
	}
	return out
}

// curveDrawdown finds the largest peak-to-trough decline of an equity curve
func curveDrawdown(curve []float64) float64 {
	var maxDD, peak float64
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// calculateMaxDrawdown finds the largest peak-to-trough decline
func calculateMaxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	curve := make([]float64, 0, len(returns)+1)
	cumulative := 1.0
	curve = append(curve, cumulative)
	for _, r := range returns {
		cumulative *= (1 + r)
		curve = append(curve, cumulative)
	}
	return curveDrawdown(curve)
}

// calculateSharpeRatio computes risk-adjusted return
// Assumes risk-free rate of 0 for simplicity
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))

	if stdDev == 0 {
		return 0
	}

	// Annualize (assuming ~252 trading days)
	return mean / stdDev * math.Sqrt(252)
}

// aggregate merges per-symbol results: trade counts add up, return and
// Sharpe are averaged across symbols, drawdown is the worst seen.
func aggregate(results []Result) Stats {
	if len(results) == 0 {
		return Stats{}
	}
	var all []Trade
	var ret, sharpe, dd float64
	for _, r := range results {
		all = append(all, r.Trades...)
		ret += r.Stats.TotalReturn
		sharpe += r.Stats.SharpeRatio
		dd = math.Max(dd, r.Stats.MaxDrawdown)
	}
	agg := CalculateStats(all, nil)
	n := float64(len(results))
	agg.TotalReturn = ret / n
	agg.SharpeRatio = sharpe / n
	agg.MaxDrawdown = dd
	return agg
}
