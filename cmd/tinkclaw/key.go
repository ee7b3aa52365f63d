package main

import (
	"context"
	"fmt"
	"time"

	"github.com/newthinker/tinkclaw/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "API key operations",
}

var keyInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the active key, tier, quota and grace status",
	RunE:  runKeyInfo,
}

var keyRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Mint a new key; the old one stays valid for the grace window",
	RunE:  runKeyRotate,
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyInfoCmd)
	keyCmd.AddCommand(keyRotateCmd)
}

func runKeyInfo(cmd *cobra.Command, args []string) error {
	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		remote, err := rt.Gateway.KeyInfo(ctx)
		if err != nil {
			log.Warn("service key info unavailable", zap.Error(err))
		}
		info := rt.Keys.Info()

		fmt.Printf("Key:        %s\n", info.Key)
		fmt.Printf("Identity:   %s\n", info.CredentialID)
		fmt.Printf("Tier:       %s\n", info.Tier)
		fmt.Printf("Phase:      %s\n", info.Phase)
		fmt.Printf("Quota:      %d/%d (%d remaining)\n", info.Used, info.Limit, info.Remaining)
		fmt.Printf("Resets at:  %s\n", info.ResetAt.Format(time.RFC3339))
		if err == nil && remote.Status != "" {
			fmt.Printf("Status:     %s\n", remote.Status)
		}
		if err == nil && remote.ExpiresAt != "" {
			fmt.Printf("Expires at: %s\n", remote.ExpiresAt)
		}
		if info.Grace != nil {
			fmt.Printf("Previous:   %s valid until %s (%s left, %d calls today)\n",
				info.Grace.CredentialID, info.Grace.ExpiresAt.Format(time.RFC3339),
				info.Grace.Remaining, info.Grace.Used)
		}
		return nil
	})
}

func runKeyRotate(cmd *cobra.Command, args []string) error {
	return withRuntime(nil, func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error {
		next, err := rt.Keys.Rotate(ctx)
		if err != nil && next.IsZero() {
			return fmt.Errorf("rotating key: %w", err)
		}

		fmt.Printf("New key:  %s\n", next.Secret)
		fmt.Printf("Identity: %s\n", next.ID)
		if g, ok := rt.Keys.Grace(); ok {
			fmt.Printf("Old key %s stays valid until %s\n", g.ID, g.GraceExpiresAt.Format(time.RFC3339))
		}
		if err != nil {
			// minted but not persisted locally
			return err
		}
		fmt.Println("Update api.api_key (or TINKCLAW_API_KEY) before the grace window ends.")
		return nil
	})
}
