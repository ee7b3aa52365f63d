package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/newthinker/tinkclaw/internal/app"
	"github.com/newthinker/tinkclaw/internal/backtest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	backtestSymbols []string
	backtestDays    int
	backtestTrades  bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest [strategy]",
	Short: "Run a server-side backtest",
	Long: `Run one of the service's built-in strategies (hurst_momentum, mean_reversion,
breakout, ensemble) over recent history for each symbol and show statistics.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().StringSliceVar(&backtestSymbols, "symbols", nil, "symbols to backtest (required)")
	backtestCmd.Flags().IntVar(&backtestDays, "days", 90, "days of history")
	backtestCmd.Flags().BoolVar(&backtestTrades, "trades", false, "list individual trades")
	backtestCmd.MarkFlagRequired("symbols")

	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	strategy := backtest.StrategyHurstMomentum
	if len(args) == 1 {
		strategy = args[0]
	}

	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		report, err := rt.Backtester.Run(ctx, strategy, upper(backtestSymbols), backtestDays)
		if report == nil {
			return err
		}

		fmt.Println("=== TinkClaw Backtest ===")
		fmt.Printf("Strategy: %s\n", report.Strategy)
		fmt.Printf("Symbols:  %s\n", strings.Join(upper(backtestSymbols), ", "))
		fmt.Printf("Period:   %d days\n", report.Days)
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SYMBOL\tTRADES\tWIN RATE\tRETURN\tMAX DD\tSHARPE\t")
		fmt.Fprintln(w, "------\t------\t--------\t------\t------\t------\t")
		for _, r := range report.Results {
			s := r.Stats
			fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%+.2f%%\t%.2f%%\t%.2f\t\n",
				r.Symbol, s.TotalTrades, s.WinRate, s.TotalReturn, s.MaxDrawdown, s.SharpeRatio)
		}
		a := report.Aggregate
		fmt.Fprintf(w, "ALL\t%d\t%.1f%%\t%+.2f%%\t%.2f%%\t%.2f\t\n",
			a.TotalTrades, a.WinRate, a.TotalReturn, a.MaxDrawdown, a.SharpeRatio)
		w.Flush()

		if backtestTrades {
			for _, r := range report.Results {
				fmt.Printf("\n%s trades\n", r.Symbol)
				tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SIDE\tENTRY\tEXIT\tENTRY PX\tEXIT PX\tRETURN\t")
				for _, t := range r.Trades {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%+.2f%%\t\n",
						t.Side, t.EntryDate, t.ExitDate, t.EntryPrice, t.ExitPrice, t.Return*100)
				}
				tw.Flush()
			}
		}

		if len(report.Failures) > 0 {
			syms := make([]string, 0, len(report.Failures))
			for s := range report.Failures {
				syms = append(syms, s)
			}
			sort.Strings(syms)
			fmt.Println("\nFailed:")
			for _, s := range syms {
				fmt.Printf("  %s: %s\n", s, report.Failures[s])
			}
		}
		log.Debug("backtest finished", zap.Duration("duration", report.Duration))
		return err
	})
}
