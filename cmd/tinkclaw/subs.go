package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/newthinker/tinkclaw/internal/app"
	"github.com/newthinker/tinkclaw/internal/subscription"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var subsCmd = &cobra.Command{
	Use:     "subs",
	Aliases: []string{"subscriptions"},
	Short:   "Manage alert subscriptions",
}

var subsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscriptions held by the service",
	RunE:  runSubsList,
}

var subsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Subscribe to a threshold alert",
	Long: `Add subscribes to an alert delivered either by webhook (--url) or on a
stream channel (--channel). Conditions: confluence_gte, confluence_lte,
rsi_gte, rsi_lte, price_gte, price_lte.`,
	RunE: runSubsAdd,
}

var subsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a subscription",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubsRm,
}

var (
	subsSymbol    string
	subsCondition string
	subsThreshold float64
	subsURL       string
	subsChannel   string
)

func init() {
	subsAddCmd.Flags().StringVar(&subsSymbol, "symbol", "", "symbol (required)")
	subsAddCmd.Flags().StringVar(&subsCondition, "condition", string(subscription.ConfluenceGTE), "alert condition")
	subsAddCmd.Flags().Float64Var(&subsThreshold, "threshold", 0, "threshold (required)")
	subsAddCmd.Flags().StringVar(&subsURL, "url", "", "webhook URL")
	subsAddCmd.Flags().StringVar(&subsChannel, "channel", "", "stream channel")
	subsAddCmd.MarkFlagRequired("symbol")
	subsAddCmd.MarkFlagRequired("threshold")
	subsAddCmd.MarkFlagsMutuallyExclusive("url", "channel")
	subsAddCmd.MarkFlagsOneRequired("url", "channel")

	rootCmd.AddCommand(subsCmd)
	subsCmd.AddCommand(subsListCmd)
	subsCmd.AddCommand(subsAddCmd)
	subsCmd.AddCommand(subsRmCmd)
}

func runSubsList(cmd *cobra.Command, args []string) error {
	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		if err := rt.Subs.Refresh(ctx); err != nil {
			return fmt.Errorf("listing subscriptions: %w", err)
		}
		subs := rt.Subs.List()
		if len(subs) == 0 {
			fmt.Println("No subscriptions.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSYMBOL\tCONDITION\tTHRESHOLD\tTARGET\tCREATED\t")
		fmt.Fprintln(w, "--\t------\t---------\t---------\t------\t-------\t")
		for _, s := range subs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%s\t%s\t\n",
				s.ID, s.Symbol, s.Condition, s.Threshold, s.Target, s.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()
		return nil
	})
}

func runSubsAdd(cmd *cobra.Command, args []string) error {
	target := subscription.WebhookTarget(subsURL)
	if subsChannel != "" {
		target = subscription.StreamTarget(subsChannel)
	}
	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		sub, err := rt.Subs.Subscribe(ctx, target, strings.ToUpper(subsSymbol),
			subscription.Condition(subsCondition), subsThreshold)
		if err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
		fmt.Printf("Subscribed %s: %s %s %g -> %s\n", sub.ID, sub.Symbol, sub.Condition, sub.Threshold, sub.Target)
		return nil
	})
}

func runSubsRm(cmd *cobra.Command, args []string) error {
	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		if err := rt.Subs.Refresh(ctx); err != nil {
			return fmt.Errorf("listing subscriptions: %w", err)
		}
		if err := rt.Subs.Unsubscribe(ctx, args[0]); err != nil {
			return fmt.Errorf("removing %s: %w", args[0], err)
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	})
}
