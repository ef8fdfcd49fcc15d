// Package clients talks to the wallet provider and the payment token contract.
package clients

import (
	"context"
	"errors"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrNoProvider means no wallet provider is configured or reachable.
	ErrNoProvider = errors.New("no wallet provider available")
	// ErrNotConnected is returned when an operation needs a connected wallet.
	ErrNotConnected = errors.New("wallet not connected")
)

// Provider is an EIP-1193 style request channel to a wallet.
// Every call may open a wallet prompt and block until the user answers.
type Provider interface {
	Request(ctx context.Context, result any, method string, params ...any) error
}

// Dialer opens a fresh provider handle.
type Dialer func(ctx context.Context) (Provider, error)

// ChainBackend is the subset of chain access the token contract and the
// payment flow need. Connection implements it through the wallet provider.
type ChainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error)
	// TransactionReceipt returns ethereum.NotFound while the transaction is pending.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}
