package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/vitwit/tokenpay"
	"github.com/vitwit/tokenpay/types"
)

var (
	purchasePackage int64
	purchaseAmount  string
)

var purchaseCmd = &cobra.Command{
	Use:   "purchase",
	Short: "Pay for a package and record the purchase",
	Long: `Connects the wallet, checks the USDT balance, transfers the package amount
to the payment address and records the purchase with the backend.

Without --amount the package price is looked up from the backend.`,
	RunE: runPurchase,
}

func init() {
	purchaseCmd.Flags().Int64Var(&purchasePackage, "package", 0, "package id")
	purchaseCmd.Flags().StringVar(&purchaseAmount, "amount", "", "amount in USDT (defaults to the package price)")
	_ = purchaseCmd.MarkFlagRequired("package")
	rootCmd.AddCommand(purchaseCmd)
}

func runPurchase(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if err := requirePersistentLedger(a.cfg); err != nil {
		return err
	}

	var opts []tokenpay.Option
	reg, recorder := paymentMetrics(a.cfg)
	if recorder != nil {
		opts = append(opts, tokenpay.WithMetrics(recorder))
	}

	tp, err := a.tokenPay(opts...)
	if err != nil {
		return err
	}
	defer tp.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if reg != nil && a.cfg.Metrics.PushGatewayURL != "" {
		defer func() {
			pushCtx, cancelPush := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancelPush()
			if err := pushMetrics(pushCtx, a.cfg.Metrics.PushGatewayURL, reg); err != nil {
				a.log.Warn("failed to push metrics", map[string]any{"error": err})
			}
		}()
	}

	var res types.PurchaseResult
	if purchaseAmount != "" {
		amount, err := decimal.NewFromString(purchaseAmount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", purchaseAmount, err)
		}
		res = tp.Purchase(ctx, purchasePackage, amount)
	} else {
		res, err = tp.PurchasePackage(ctx, purchasePackage)
		if err != nil {
			return err
		}
	}

	if err := printJSON(res); err != nil {
		return err
	}
	if res.NeedsReconciliation() {
		a.log.Error("payment needs manual reconciliation", map[string]any{
			"attempt_id": res.AttemptID,
			"tx_hash":    res.TransactionHash,
		})
	}
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}
