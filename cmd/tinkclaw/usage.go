package main

import (
	"context"
	"fmt"
	"time"

	"github.com/newthinker/tinkclaw/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show today's call usage",
	RunE:  runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		remote, err := rt.Gateway.Usage(ctx)
		if err != nil {
			return fmt.Errorf("fetching usage: %w", err)
		}
		active := rt.Keys.Active()
		used, limit := rt.Quota.DailyUsage(active.ID)

		fmt.Printf("Tier:        %s\n", remote.Tier)
		fmt.Printf("Service:     %d/%d calls (%d remaining)\n", remote.CallsToday, remote.DailyLimit, remote.Remaining)
		fmt.Printf("Local count: %d/%d\n", used, limit)
		fmt.Printf("Resets at:   %s\n", rt.Quota.ResetAt().Format(time.RFC3339))
		return nil
	})
}
