package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/vitwit/tokenpay/adminapi"
	"github.com/vitwit/tokenpay/types"
	"github.com/vitwit/tokenpay/utils"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Admin panel operations",
}

var adminServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API",
	RunE:  runAdminServe,
}

var adminDailyCmd = &cobra.Command{
	Use:   "daily-invest",
	Short: "Show the daily investment report",
	RunE:  runAdminDaily,
}

var (
	investPackage string
	investWallet  string
)

var adminInvestCmd = &cobra.Command{
	Use:   "invest",
	Short: "Assign a package to a wallet",
	RunE:  runAdminInvest,
}

func init() {
	adminInvestCmd.Flags().StringVar(&investPackage, "package", "", "package id")
	adminInvestCmd.Flags().StringVar(&investWallet, "wallet", "", "wallet address")
	_ = adminInvestCmd.MarkFlagRequired("package")
	_ = adminInvestCmd.MarkFlagRequired("wallet")

	adminCmd.AddCommand(adminServeCmd, adminDailyCmd, adminInvestCmd)
	rootCmd.AddCommand(adminCmd)
}

func runAdminServe(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if err := requirePersistentLedger(a.cfg); err != nil {
		return err
	}

	// Payment counters come from purchase runs through the Pushgateway;
	// this process exposes only its own runtime metrics.
	var gatherer prometheus.Gatherer
	if a.cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		gatherer = reg
	}

	tp, err := a.tokenPay()
	if err != nil {
		return err
	}
	defer tp.Close()

	if a.cfg.Admin.Username == "" || a.cfg.Admin.Password == "" {
		a.log.Warn("admin credentials are not configured, login is disabled", nil)
	}

	srv := adminapi.NewServer(a.cfg.Admin.Listen, adminapi.Credentials{
		Username: a.cfg.Admin.Username,
		Password: a.cfg.Admin.Password,
	}, tp.Ledger(), gatherer, a.log)

	ctx, cancel := signalContext()
	defer cancel()

	return srv.Run(ctx)
}

func runAdminDaily(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	tp, err := a.tokenPay()
	if err != nil {
		return err
	}
	defer tp.Close()

	rows, err := tp.Backend().DailyInvestments(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "DAY\tTOTAL (USDT)")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", r.Day, utils.FormatAmount(r.TotalAmount))
	}
	return w.Flush()
}

func runAdminInvest(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	tp, err := a.tokenPay()
	if err != nil {
		return err
	}
	defer tp.Close()

	resp, err := tp.Backend().AddPackageToUser(context.Background(), types.AdminInvestRequest{
		PackageID:     investPackage,
		WalletAddress: investWallet,
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}
