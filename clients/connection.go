package clients

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/tokenpay/logger"
	"github.com/vitwit/tokenpay/types"
)

var _ ChainBackend = (*Connection)(nil)

// Connection owns the wallet provider handle and the signing identity.
//
// It replaces a process-wide provider: each purchase flow holds one
// Connection and calls Reset when the wallet may have changed underneath it.
type Connection struct {
	dial Dialer
	log  logger.Logger

	mu       sync.Mutex
	provider Provider
	identity *types.ChainIdentity
}

// NewConnection creates a Connection that opens providers with dial.
// A nil dial behaves like a browser without a wallet extension.
func NewConnection(dial Dialer, log logger.Logger) *Connection {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Connection{dial: dial, log: log}
}

// Connect requests account access and caches the signing identity.
func (c *Connection) Connect(ctx context.Context) (types.ChainIdentity, error) {
	if c.dial == nil {
		return types.ChainIdentity{}, types.NewPaymentError(types.ErrWalletUnavailable, "Wallet is not installed", ErrNoProvider)
	}

	p, err := c.dial(ctx)
	if err != nil {
		c.log.Warn("wallet provider unavailable", map[string]any{"error": err})
		return types.ChainIdentity{}, types.NewPaymentError(types.ErrWalletUnavailable, "Wallet is not installed", err)
	}

	var accounts []common.Address
	if err := p.Request(ctx, &accounts, "eth_requestAccounts"); err != nil {
		closeProvider(p)
		return types.ChainIdentity{}, connectError(err)
	}
	if len(accounts) == 0 {
		closeProvider(p)
		return types.ChainIdentity{}, types.NewPaymentError(types.ErrConnectionFailed, "Wallet returned no accounts", nil)
	}

	id := types.ChainIdentity{Address: accounts[0], Connected: true}

	c.mu.Lock()
	if c.provider != nil && c.provider != p {
		closeProvider(c.provider)
	}
	c.provider = p
	c.identity = &id
	c.mu.Unlock()

	c.log.Info("wallet connected", map[string]any{"address": id.Address.Hex()})
	return id, nil
}

func connectError(err error) *types.PaymentError {
	if IsUnreachable(err) {
		return types.NewPaymentError(types.ErrWalletUnavailable, "Wallet is not installed", err)
	}
	pe := Classify(err)
	if pe.Class.IsCancellation() {
		return types.NewPaymentError(types.ErrUserRejected, "Please connect your wallet", err)
	}
	return types.NewPaymentError(types.ErrConnectionFailed, "Failed to connect to wallet", err)
}

// EnsureNetwork makes the wallet use profile's chain, switching to it or
// registering it with the wallet when needed.
func (c *Connection) EnsureNetwork(ctx context.Context, profile types.NetworkProfile) error {
	p, err := c.current()
	if err != nil {
		return err
	}

	active, err := c.ChainID(ctx)
	if err != nil {
		return types.NewPaymentError(types.ErrConnectionFailed, "Failed to read wallet network", err)
	}
	if active.Int64() == profile.ChainID {
		return nil
	}

	fields := map[string]any{"active_chain": active.String(), "required_chain": profile.ChainID}
	c.log.Info("switching wallet network", fields)

	switchErr := p.Request(ctx, nil, "wallet_switchEthereumChain", map[string]string{"chainId": profile.HexChainID()})
	if switchErr == nil {
		switched, err := c.ChainID(ctx)
		if err == nil && switched.Int64() == profile.ChainID {
			return nil
		}
		switchErr = fmt.Errorf("wallet still on chain %v after switch", switched)
	} else if Classify(switchErr).Class.IsCancellation() {
		return types.NewPaymentError(types.ErrUserRejected, fmt.Sprintf("Please switch to %s", profile.ChainName), switchErr)
	}

	c.log.Warn("network switch failed, adding network", logger.Merge(fields, map[string]any{"error": switchErr}))

	addErr := p.Request(ctx, nil, "wallet_addEthereumChain", profile.AddChainParams())
	if addErr == nil {
		c.log.Info("wallet network added", fields)
		return nil
	}
	if Classify(addErr).Class.IsCancellation() {
		return types.NewPaymentError(types.ErrUserRejected, fmt.Sprintf("Please switch to %s", profile.ChainName), addErr)
	}

	return types.NewPaymentError(
		types.ErrNetworkMismatch,
		fmt.Sprintf("Please switch to %s. Network switching failed.", profile.ChainName),
		fmt.Errorf("switch: %v; add: %w", switchErr, addErr),
	)
}

// VerifyAccount checks that the wallet still exposes the connected account.
// On a mismatch the connection is reset.
func (c *Connection) VerifyAccount(ctx context.Context) error {
	p, err := c.current()
	if err != nil {
		return err
	}
	id, _ := c.Identity()

	var accounts []common.Address
	if err := p.Request(ctx, &accounts, "eth_accounts"); err != nil {
		return Classify(err)
	}
	if len(accounts) == 0 || accounts[0] != id.Address {
		c.log.Warn("wallet account changed", map[string]any{"address": id.Address.Hex()})
		c.Reset()
		return types.NewPaymentError(types.ErrConnectionFailed, "Wallet account changed, please reconnect", nil)
	}
	return nil
}

// Identity returns the cached identity, if any.
func (c *Connection) Identity() (types.ChainIdentity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return types.ChainIdentity{}, false
	}
	return *c.identity, true
}

// Reset discards the provider handle and identity. The next operation has
// to connect from scratch.
func (c *Connection) Reset() {
	c.mu.Lock()
	p := c.provider
	c.provider = nil
	c.identity = nil
	c.mu.Unlock()

	if p != nil {
		closeProvider(p)
	}
}

func (c *Connection) current() (Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider == nil {
		return nil, types.NewPaymentError(types.ErrConnectionFailed, "Wallet not connected", ErrNotConnected)
	}
	return c.provider, nil
}

func closeProvider(p Provider) {
	if cl, ok := p.(interface{ Close() }); ok {
		cl.Close()
	}
}

// ChainID implements ChainBackend.
func (c *Connection) ChainID(ctx context.Context) (*big.Int, error) {
	p, err := c.current()
	if err != nil {
		return nil, err
	}
	var id hexutil.Big
	if err := p.Request(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

// CallContract implements ChainBackend.
func (c *Connection) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	p, err := c.current()
	if err != nil {
		return nil, err
	}
	var out hexutil.Bytes
	if err := p.Request(ctx, &out, "eth_call", toCallArg(msg), "latest"); err != nil {
		return nil, err
	}
	return out, nil
}

// EstimateGas implements ChainBackend.
func (c *Connection) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	p, err := c.current()
	if err != nil {
		return 0, err
	}
	var gas hexutil.Uint64
	if err := p.Request(ctx, &gas, "eth_estimateGas", toCallArg(msg)); err != nil {
		return 0, err
	}
	return uint64(gas), nil
}

// SendTransaction asks the wallet to sign and broadcast msg.
func (c *Connection) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	p, err := c.current()
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err := p.Request(ctx, &hash, "eth_sendTransaction", toCallArg(msg)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

type rpcReceipt struct {
	TxHash      common.Hash    `json:"transactionHash"`
	Status      hexutil.Uint64 `json:"status"`
	GasUsed     hexutil.Uint64 `json:"gasUsed"`
	BlockHash   common.Hash    `json:"blockHash"`
	BlockNumber *hexutil.Big   `json:"blockNumber"`
}

// TransactionReceipt implements ChainBackend.
func (c *Connection) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	p, err := c.current()
	if err != nil {
		return nil, err
	}
	var r *rpcReceipt
	if err := p.Request(ctx, &r, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	if r == nil || r.BlockNumber == nil {
		return nil, ethereum.NotFound
	}
	return &ethtypes.Receipt{
		TxHash:      r.TxHash,
		Status:      uint64(r.Status),
		GasUsed:     uint64(r.GasUsed),
		BlockHash:   r.BlockHash,
		BlockNumber: (*big.Int)(r.BlockNumber),
	}, nil
}

// BlockNumber implements ChainBackend.
func (c *Connection) BlockNumber(ctx context.Context) (uint64, error) {
	p, err := c.current()
	if err != nil {
		return 0, err
	}
	var n hexutil.Uint64
	if err := p.Request(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// BalanceAt returns the native currency balance of account.
func (c *Connection) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	p, err := c.current()
	if err != nil {
		return nil, err
	}
	var bal hexutil.Big
	if err := p.Request(ctx, &bal, "eth_getBalance", account, "latest"); err != nil {
		return nil, err
	}
	return (*big.Int)(&bal), nil
}

// PendingTransactions returns how many of account's transactions are in the
// mempool, comparing the pending and latest nonces.
func (c *Connection) PendingTransactions(ctx context.Context, account common.Address) (uint64, error) {
	p, err := c.current()
	if err != nil {
		return 0, err
	}
	var latest, pending hexutil.Uint64
	if err := p.Request(ctx, &latest, "eth_getTransactionCount", account, "latest"); err != nil {
		return 0, err
	}
	if err := p.Request(ctx, &pending, "eth_getTransactionCount", account, "pending"); err != nil {
		return 0, err
	}
	if pending <= latest {
		return 0, nil
	}
	return uint64(pending - latest), nil
}

func toCallArg(msg ethereum.CallMsg) map[string]any {
	arg := map[string]any{
		"from": msg.From,
	}
	if msg.To != nil {
		arg["to"] = msg.To
	}
	if len(msg.Data) > 0 {
		arg["data"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	if msg.Gas != 0 {
		arg["gas"] = hexutil.Uint64(msg.Gas)
	}
	if msg.GasPrice != nil {
		arg["gasPrice"] = (*hexutil.Big)(msg.GasPrice)
	}
	return arg
}
