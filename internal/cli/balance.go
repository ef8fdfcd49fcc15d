package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vitwit/tokenpay/utils"
)

var balanceAddress string

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show a USDT balance",
	Long: `Shows the USDT balance of --address using the network's public RPC node,
or of the connected wallet when no address is given.`,
	RunE: runBalance,
}

var tokenInfoCmd = &cobra.Command{
	Use:   "token-info",
	Short: "Probe the payment token contract",
	RunE:  runTokenInfo,
}

func init() {
	balanceCmd.Flags().StringVar(&balanceAddress, "address", "", "wallet address to read")
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(tokenInfoCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()
	if balanceAddress != "" {
		owner, err := utils.ValidateAddress(balanceAddress)
		if err != nil {
			return err
		}
		bal, err := tp.BalanceOf(ctx, owner)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s USDT\n", owner.Hex(), bal.Formatted)
		return nil
	}

	owner, bal, err := tp.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s USDT\n", owner.Hex(), bal.Formatted)
	return nil
}

func runTokenInfo(cmd *cobra.Command, args []string) error {
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

	res, err := tp.TokenInfo(context.Background())
	if err != nil {
		return err
	}
	return printJSON(res)
}
