package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/newthinker/tinkclaw/internal/app"
	"github.com/newthinker/tinkclaw/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	streamSymbols  []string
	streamChannels []string
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Print pushed events as JSON lines",
	Long: `Stream connects to the push channel, subscribes to the given symbols and
prints every event until interrupted. The connection is re-established with
backoff and subscriptions are replayed after every reconnect.`,
	RunE: runStreamCmd,
}

func init() {
	streamCmd.Flags().StringSliceVar(&streamSymbols, "symbols", []string{"BTC", "ETH"}, "symbols to watch")
	streamCmd.Flags().StringSliceVar(&streamChannels, "channels", nil, "channels (tick, candle:60, signal, options_signal)")
	rootCmd.AddCommand(streamCmd)
}

func runStreamCmd(cmd *cobra.Command, args []string) error {
	mutate := func(cfg *config.Config) {
		cfg.Stream.Enabled = true
		if len(streamChannels) > 0 {
			cfg.Stream.Channels = streamChannels
		}
	}
	return withRuntime(mutate, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		sub := rt.Stream.Subscribe(0)
		if err := rt.Start(ctx); err != nil {
			return err
		}
		symbols := make([]string, 0, len(streamSymbols))
		for _, s := range streamSymbols {
			symbols = append(symbols, strings.ToUpper(s))
		}
		if err := rt.Stream.Watch(symbols...); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		for {
			select {
			case <-ctx.Done():
				st := rt.Stream.Status()
				fmt.Fprintf(os.Stderr, "stream %s, dropped %d events\n", st.State, sub.Dropped())
				return nil
			case ev, ok := <-sub.C():
				if !ok {
					return nil
				}
				enc.Encode(map[string]any{
					"channel":         ev.Channel,
					"symbol":          ev.Symbol,
					"subscription_id": ev.SubscriptionID,
					"data":            ev.Data,
					"received_at":     ev.ReceivedAt,
				})
			}
		}
	})
}
