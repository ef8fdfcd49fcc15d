package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NetworkProfile describes the single chain payments are accepted on.
type NetworkProfile struct {
	ChainID                int64  `json:"chainId" yaml:"chain_id" validate:"required,gt=0"`
	ChainName              string `json:"chainName" yaml:"chain_name" validate:"required"`
	RPCURL                 string `json:"rpcUrl" yaml:"rpc_url" validate:"required,url"`
	NativeCurrencyName     string `json:"nativeCurrencyName" yaml:"native_currency_name"`
	NativeCurrencySymbol   string `json:"nativeCurrencySymbol" yaml:"native_currency_symbol" validate:"required"`
	NativeCurrencyDecimals int    `json:"nativeCurrencyDecimals" yaml:"native_currency_decimals"`
	BlockExplorerURL       string `json:"blockExplorerUrl" yaml:"block_explorer_url" validate:"required,url"`
}

// BSCMainnet is the default payment network.
var BSCMainnet = NetworkProfile{
	ChainID:                56,
	ChainName:              "BSC Mainnet",
	RPCURL:                 "https://bsc-dataseed.binance.org/",
	NativeCurrencyName:     "BNB",
	NativeCurrencySymbol:   "BNB",
	NativeCurrencyDecimals: 18,
	BlockExplorerURL:       "https://bscscan.com",
}

// HexChainID returns the chain id in the 0x-prefixed form wallets expect.
func (p NetworkProfile) HexChainID() string {
	return hexutil.EncodeUint64(uint64(p.ChainID))
}

// TxURL links a transaction hash to the block explorer.
func (p NetworkProfile) TxURL(hash string) string {
	return fmt.Sprintf("%s/tx/%s", strings.TrimRight(p.BlockExplorerURL, "/"), hash)
}

// AddChainParams is the wallet_addEthereumChain parameter object (EIP-3085).
type AddChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCUrls           []string       `json:"rpcUrls"`
	BlockExplorerUrls []string       `json:"blockExplorerUrls"`
}

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// AddChainParams builds the add-network request for this profile.
func (p NetworkProfile) AddChainParams() AddChainParams {
	name := p.NativeCurrencyName
	if name == "" {
		name = p.NativeCurrencySymbol
	}
	decimals := p.NativeCurrencyDecimals
	if decimals == 0 {
		decimals = 18
	}

	return AddChainParams{
		ChainID:   p.HexChainID(),
		ChainName: p.ChainName,
		NativeCurrency: NativeCurrency{
			Name:     name,
			Symbol:   p.NativeCurrencySymbol,
			Decimals: decimals,
		},
		RPCUrls:           []string{p.RPCURL},
		BlockExplorerUrls: []string{strings.TrimRight(p.BlockExplorerURL, "/") + "/"},
	}
}
