package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitwit/tokenpay/utils"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Payments that reached the chain but were not recorded",
}

var reconcileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open reconciliation entries",
	RunE:  runReconcileList,
}

var reconcileResolveCmd = &cobra.Command{
	Use:   "resolve <attempt-id>",
	Short: "Mark an entry as handled",
	Args:  cobra.ExactArgs(1),
	RunE:  runReconcileResolve,
}

func init() {
	reconcileCmd.AddCommand(reconcileListCmd, reconcileResolveCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcileList(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if err := requirePersistentLedger(a.cfg); err != nil {
		return err
	}

	tp, err := a.tokenPay()
	if err != nil {
		return err
	}
	defer tp.Close()

	entries, err := tp.Ledger().List(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "ATTEMPT\tPACKAGE\tWALLET\tAMOUNT\tTX\tCREATED")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			e.AttemptID, e.PackageID, e.WalletAddress, utils.FormatAmount(e.Amount),
			tp.TxURL(e.TransactionHash), e.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runReconcileResolve(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if err := requirePersistentLedger(a.cfg); err != nil {
		return err
	}

	tp, err := a.tokenPay()
	if err != nil {
		return err
	}
	defer tp.Close()

	if err := tp.Ledger().Resolve(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("resolved %s\n", args[0])
	return nil
}
