// Package cli implements the tokenpay command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/vitwit/tokenpay"
	"github.com/vitwit/tokenpay/config"
	"github.com/vitwit/tokenpay/logger"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:           "tokenpay",
	Short:         "Pay for dashboard packages with USDT on BSC",
	Long:          `tokenpay transfers USDT from a connected wallet to the dashboard payment address and records the purchase with the dashboard backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (defaults are used when empty)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

type app struct {
	cfg *config.Config
	log *logger.ZapLogger
}

func setup() (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var log *logger.ZapLogger
	if isDebug || cfg.Logging.Level == "debug" {
		log = logger.NewZapDevelopmentLogger()
	} else {
		log = logger.NewZapLogger(cfg.Logging.Level)
	}
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

func (a *app) tokenPay(opts ...tokenpay.Option) (*tokenpay.TokenPay, error) {
	opts = append([]tokenpay.Option{tokenpay.WithLogger(a.log)}, opts...)
	return tokenpay.New(a.cfg, opts...)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
