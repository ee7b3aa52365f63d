package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/gateway"
	"go.uber.org/zap"
)

// Client runs one server-side backtest. *gateway.Gateway implements it.
type Client interface {
	Backtest(ctx context.Context, symbol, strategy string, days int) (gateway.BacktestResult, error)
}

// Backtester runs built-in strategies server-side across symbols
type Backtester struct {
	client Client
	logger *zap.Logger
	now    func() time.Time
}

// New creates a new Backtester over client
func New(client Client, logger *zap.Logger) *Backtester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Run backtests strategy over days of history for every symbol. A symbol
// that fails is recorded in the report and skipped; Run only errors when
// the arguments are invalid, ctx ends, or every symbol failed.
func (b *Backtester) Run(ctx context.Context, strategy string, symbols []string, days int) (*Report, error) {
	if strategy == "" {
		strategy = StrategyHurstMomentum
	}
	if !ValidStrategy(strategy) {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown strategy %q, expected one of %s", strategy, strings.Join(Strategies, ", ")))
	}
	if len(symbols) == 0 {
		return nil, core.WrapError(core.ErrConfigInvalid, errors.New("no symbols to backtest"))
	}

	start := b.now()
	report := &Report{
		Strategy:  strategy,
		Days:      days,
		Failures:  make(map[string]string),
		StartedAt: start,
	}

	for i, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := b.client.Backtest(ctx, sym, strategy, days)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.logger.Warn("backtest failed",
				zap.String("symbol", sym),
				zap.String("strategy", strategy),
				zap.Error(err),
			)
			report.Failures[sym] = err.Error()
			if errors.Is(err, core.ErrQuotaExceeded) || errors.Is(err, core.ErrAuthExpired) {
				// Later symbols would fail the same way.
				for _, rest := range symbols[i+1:] {
					report.Failures[rest] = err.Error()
				}
				break
			}
			continue
		}

		r := fromGateway(res)
		if r.Symbol == "" {
			r.Symbol = sym
		}
		report.Results = append(report.Results, r)
		b.logger.Info("backtest complete",
			zap.String("symbol", r.Symbol),
			zap.Int("trades", r.Stats.TotalTrades),
			zap.Float64("total_return", r.Stats.TotalReturn),
		)
	}

	report.Duration = b.now().Sub(start)
	if len(report.Results) == 0 {
		return report, fmt.Errorf("all %d symbols failed", len(symbols))
	}
	report.Aggregate = aggregate(report.Results)
	return report, nil
}

func fromGateway(res gateway.BacktestResult) Result {
	trades := make([]Trade, 0, len(res.Trades))
	for _, t := range res.Trades {
		trades = append(trades, tradeFrom(t))
	}
	return Result{
		Strategy: res.Strategy,
		Symbol:   res.Symbol,
		Days:     res.Days,
		Trades:   trades,
		Equity:   res.EquityCurve,
		Stats:    CalculateStats(trades, res.EquityCurve),
		Reported: Stats{
			TotalTrades: len(res.Trades),
			WinRate:     res.WinRate,
			TotalReturn: res.TotalReturn,
			MaxDrawdown: res.MaxDrawdown,
			SharpeRatio: res.SharpeRatio,
		},
	}
}
