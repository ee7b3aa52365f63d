package main

import (
	"context"
	"errors"
	"strings"

	"github.com/newthinker/tinkclaw/internal/app"
	"github.com/newthinker/tinkclaw/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runSymbols       []string
	runStrategy      string
	runInterval      float64
	runMaxIterations int
	runMode          string
	runStream        bool
	runReceiver      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured strategy",
	Long: `Run evaluates the strategy for every symbol once per interval, routes
intents to the configured broker and serves the receiver when enabled.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVar(&runSymbols, "symbols", nil, "symbols to trade (overrides strategy.symbols)")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "strategy name (momentum, signal_follow)")
	runCmd.Flags().Float64Var(&runInterval, "interval-hours", 0, "hours between iterations")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", -1, "stop after this many iterations (0 runs forever)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "execution mode: auto, confirm or advisory")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "consume pushed signals between polls")
	runCmd.Flags().BoolVar(&runReceiver, "receiver", false, "serve the alert receiver and operator API")

	rootCmd.AddCommand(runCmd)
}

func runOverrides(cfg *config.Config) {
	if len(runSymbols) > 0 {
		cfg.Strategy.Symbols = nil
		for _, s := range runSymbols {
			cfg.Strategy.Symbols = append(cfg.Strategy.Symbols, strings.ToUpper(strings.TrimSpace(s)))
		}
	}
	if runStrategy != "" {
		cfg.Strategy.Name = runStrategy
	}
	if runInterval > 0 {
		cfg.Strategy.IntervalHours = runInterval
	}
	if runMaxIterations >= 0 {
		cfg.Strategy.MaxIterations = runMaxIterations
	}
	if runMode != "" {
		cfg.Strategy.Mode = runMode
	}
	if runStream {
		cfg.Stream.Enabled = true
	}
	if runReceiver {
		cfg.Receiver.Enabled = true
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	return withRuntime(runOverrides, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		if err := rt.Start(ctx); err != nil {
			return err
		}
		err := rt.RunStrategy(ctx)
		if errors.Is(err, context.Canceled) {
			log.Info("stopped by signal")
			return nil
		}
		if err == nil {
			st := rt.Status()
			if st.Strategy != nil {
				log.Info("strategy finished", zap.Int("iterations", st.Strategy.Iteration))
			}
		}
		return err
	})
}
