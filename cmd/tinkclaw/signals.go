package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/newthinker/tinkclaw/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var signalsML bool

var signalsCmd = &cobra.Command{
	Use:   "signals [symbol...]",
	Short: "Show current signals",
	RunE:  runSignals,
}

var confluenceCmd = &cobra.Command{
	Use:   "confluence <symbol>",
	Short: "Show the confluence score for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfluence,
}

func init() {
	signalsCmd.Flags().BoolVar(&signalsML, "ml", false, "use the ML signal endpoint")
	rootCmd.AddCommand(signalsCmd)
	rootCmd.AddCommand(confluenceCmd)
}

func upper(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}

func runSignals(cmd *cobra.Command, args []string) error {
	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		fetch := rt.Gateway.Signals
		if signalsML {
			fetch = rt.Gateway.SignalsML
		}
		signals, err := fetch(ctx, upper(args))
		if err != nil {
			return fmt.Errorf("fetching signals: %w", err)
		}
		if len(signals) == 0 {
			fmt.Println("No signals.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SYMBOL\tSIGNAL\tCONFIDENCE\tPRICE\tREGIME\t")
		fmt.Fprintln(w, "------\t------\t----------\t-----\t------\t")
		for _, s := range signals {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%s\t\n", s.Symbol, s.Signal, s.Confidence, s.Price, s.Regime)
		}
		w.Flush()
		return nil
	})
}

func runConfluence(cmd *cobra.Command, args []string) error {
	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		c, err := rt.Gateway.Confluence(ctx, strings.ToUpper(args[0]))
		if err != nil {
			return fmt.Errorf("fetching confluence: %w", err)
		}

		fmt.Printf("Symbol:     %s\n", c.Symbol)
		fmt.Printf("Score:      %.1f\n", c.Score)
		fmt.Printf("Signal:     %s\n", c.Signal)
		fmt.Printf("Setup:      %s\n", c.SetupType)
		fmt.Printf("Regime:     %s\n", c.Regime)
		fmt.Printf("Confidence: %.2f\n", c.Confidence)
		fmt.Printf("Price:      %.2f\n", c.Price)
		if len(c.Components) > 0 && debug {
			out, _ := json.MarshalIndent(c.Components, "", "  ")
			fmt.Printf("Components:\n%s\n", out)
		}
		return nil
	})
}
