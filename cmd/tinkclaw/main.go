package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/newthinker/tinkclaw/internal/app"
	"github.com/newthinker/tinkclaw/internal/config"
	"github.com/newthinker/tinkclaw/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "tinkclaw",
	Short: "TinkClaw client runtime",
	Long: `tinkclaw runs strategies against the TinkClaw signal service.
It manages API keys and the daily quota, mirrors alert subscriptions,
keeps a streaming connection alive and routes order intents to a broker.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the dotenv file (if any) and then the config file.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	return logger.MustBuild(logger.Options{
		Development: debug || cfg.Log.Development,
		Level:       levelFor(cfg),
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
}

func levelFor(cfg *config.Config) string {
	if debug {
		return "debug"
	}
	return cfg.Log.Level
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// withRuntime builds a runtime from the loaded config, after mutate has
// applied command-line overrides, and closes it when fn returns.
func withRuntime(mutate func(*config.Config), fn func(ctx context.Context, rt *app.Runtime, log *zap.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mutate != nil {
		mutate(cfg)
	}

	log := newLogger(cfg)
	defer log.Sync()

	rt, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()
	return fn(ctx, rt, log)
}
