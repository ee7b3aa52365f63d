package main

import (
	"fmt"

	"github.com/newthinker/tinkclaw/internal/gateway"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the service without using a key or quota",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	transport := gateway.NewTransport(gateway.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	}, nil, nil, log, nil)
	h, err := gateway.New(transport, nil, nil).Health(ctx)
	if err != nil {
		return fmt.Errorf("service unreachable: %w", err)
	}

	fmt.Printf("Service: %s\n", cfg.API.BaseURL)
	fmt.Printf("Status:  %s\n", h.Status)
	if h.Version != "" {
		fmt.Printf("Version: %s\n", h.Version)
	}
	return nil
}
