package backtest

import (
	"strings"
	"time"

	"github.com/newthinker/tinkclaw/internal/gateway"
)

// Built-in server-side strategies.
const (
	StrategyHurstMomentum = "hurst_momentum"
	StrategyMeanReversion = "mean_reversion"
	StrategyBreakout      = "breakout"
	StrategyEnsemble      = "ensemble"
)

// Strategies lists the strategy names the service accepts.
var Strategies = []string{StrategyHurstMomentum, StrategyMeanReversion, StrategyBreakout, StrategyEnsemble}

// ValidStrategy reports whether name is a built-in strategy.
func ValidStrategy(name string) bool {
	for _, s := range Strategies {
		if s == name {
			return true
		}
	}
	return false
}

// Result holds one symbol's backtest output
type Result struct {
	Strategy string
	Symbol   string
	Days     int
	Trades   []Trade
	Equity   []gateway.EquityPoint
	Stats    Stats
	// Reported holds the figures the service computed, for comparison.
	Reported Stats
}

// Trade represents one simulated round trip
type Trade struct {
	Side       string
	EntryDate  string
	ExitDate   string // empty if position still open
	EntryPrice float64
	ExitPrice  float64
	Return     float64 // Fractional return, 0.05 = 5%
}

// Stats holds performance statistics
type Stats struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // Percentage of profitable trades
	TotalReturn   float64 // Net return percentage
	MaxDrawdown   float64 // Largest peak-to-trough decline, percentage
	SharpeRatio   float64 // Risk-adjusted return (annualized)
}

// Report aggregates a multi-symbol run.
type Report struct {
	Strategy  string
	Days      int
	Results   []Result
	Failures  map[string]string
	Aggregate Stats
	StartedAt time.Time
	Duration  time.Duration
}

// IsWin returns true if the trade was profitable
func (t Trade) IsWin() bool {
	return t.Return > 0
}

// IsClosed returns true if the trade has an exit
func (t Trade) IsClosed() bool {
	return t.ExitDate != ""
}

// tradeFrom converts a service trade. Percent returns are normalized to
// fractions; missing returns are derived from prices and side.
func tradeFrom(bt gateway.BacktestTrade) Trade {
	t := Trade{
		Side:       strings.ToLower(bt.Side),
		EntryDate:  bt.EntryDate,
		ExitDate:   bt.ExitDate,
		EntryPrice: bt.EntryPrice,
		ExitPrice:  bt.ExitPrice,
		Return:     bt.ReturnPct / 100,
	}
	if t.Side == "" {
		t.Side = "long"
	}
	if bt.ReturnPct == 0 && bt.EntryPrice > 0 && bt.ExitPrice > 0 {
		t.Return = (bt.ExitPrice - bt.EntryPrice) / bt.EntryPrice
		if t.Side == "short" || t.Side == "sell" {
			t.Return = -t.Return
		}
	}
	return t
}
