package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vitwit/tokenpay/utils"
)

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "List the packages offered by the backend",
	RunE:  runPackages,
}

func init() {
	rootCmd.AddCommand(packagesCmd)
}

func runPackages(cmd *cobra.Command, args []string) error {
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

	catalog, err := tp.Backend().Packages(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tAMOUNT (USDT)\tRATE\tPERIOD")
	for _, p := range catalog.Packages {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s%%\t%s\n", p.PackageID, p.Name, utils.FormatAmount(p.Amount), p.Percent.String(), p.Period)
	}
	return w.Flush()
}
