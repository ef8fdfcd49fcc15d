package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrReadOnly is returned when a read-only backend is asked to send.
var ErrReadOnly = errors.New("read-only chain backend cannot send transactions")

var _ ChainBackend = (*ReadOnlyBackend)(nil)

// ReadOnlyBackend serves chain reads from a public RPC node, for balance and
// token lookups that need no wallet.
type ReadOnlyBackend struct {
	client *ethclient.Client
}

// DialReadOnly connects to the network's public RPC endpoint.
func DialReadOnly(ctx context.Context, rpcURL string) (*ReadOnlyBackend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}
	return &ReadOnlyBackend{client: client}, nil
}

func (b *ReadOnlyBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return b.client.ChainID(ctx)
}

func (b *ReadOnlyBackend) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return b.client.CallContract(ctx, msg, nil)
}

func (b *ReadOnlyBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return b.client.EstimateGas(ctx, msg)
}

func (b *ReadOnlyBackend) SendTransaction(context.Context, ethereum.CallMsg) (common.Hash, error) {
	return common.Hash{}, ErrReadOnly
}

func (b *ReadOnlyBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	return b.client.TransactionReceipt(ctx, hash)
}

func (b *ReadOnlyBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return b.client.BlockNumber(ctx)
}

func (b *ReadOnlyBackend) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return b.client.BalanceAt(ctx, account, nil)
}

func (b *ReadOnlyBackend) Close() {
	b.client.Close()
}
