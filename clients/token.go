package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/vitwit/tokenpay/logger"
	"github.com/vitwit/tokenpay/types"
	"github.com/vitwit/tokenpay/utils"
)

// DefaultDecimals is used when the token does not answer decimals().
const DefaultDecimals uint8 = 18

const erc20ABI = `
[
  {"name":"transfer","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"name":"decimals","type":"function","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"name":"symbol","type":"function","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"name":"name","type":"function","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"string"}]}
]
`

var parsedERC20 = mustParseABI(erc20ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid erc20 abi: %v", err))
	}
	return parsed
}

// TokenContract is a typed accessor over the payment token. All amounts that
// cross it are integers in the token's smallest unit.
type TokenContract struct {
	address common.Address
	backend ChainBackend
	log     logger.Logger
}

func NewTokenContract(address common.Address, backend ChainBackend, log logger.Logger) *TokenContract {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &TokenContract{address: address, backend: backend, log: log}
}

func (t *TokenContract) Address() common.Address {
	return t.address
}

func (t *TokenContract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := parsedERC20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	to := t.address
	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%s call: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s call: empty result", method)
	}

	values, err := parsedERC20.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s call: no return values", method)
	}
	return values, nil
}

// Decimals queries the token's decimals.
func (t *TokenContract) Decimals(ctx context.Context) (uint8, error) {
	values, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", values[0])
	}
	return d, nil
}

// DecimalsOrDefault returns the token decimals, falling back to
// DefaultDecimals because decimals() is optional in ERC-20.
func (t *TokenContract) DecimalsOrDefault(ctx context.Context) uint8 {
	d, err := t.Decimals(ctx)
	if err != nil {
		t.log.Warn("failed to get decimals, using default", map[string]any{
			"default": DefaultDecimals,
			"error":   err,
		})
		return DefaultDecimals
	}
	return d
}

func (t *TokenContract) Symbol(ctx context.Context) (string, error) {
	return t.callString(ctx, "symbol")
}

func (t *TokenContract) Name(ctx context.Context) (string, error) {
	return t.callString(ctx, "name")
}

func (t *TokenContract) callString(ctx context.Context, method string) (string, error) {
	values, err := t.call(ctx, method)
	if err != nil {
		return "", err
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected type %T", method, values[0])
	}
	return s, nil
}

// BalanceOf returns owner's balance in the smallest unit.
func (t *TokenContract) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	values, err := t.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected type %T", values[0])
	}
	return bal, nil
}

// Balance reads owner's balance and converts it with the current decimals.
func (t *TokenContract) Balance(ctx context.Context, owner common.Address) (types.TokenBalance, error) {
	raw, err := t.BalanceOf(ctx, owner)
	if err != nil {
		return types.TokenBalance{}, err
	}
	decimals := t.DecimalsOrDefault(ctx)
	return types.TokenBalance{
		Raw:       raw,
		Decimals:  decimals,
		Formatted: utils.FormatAmount(FromSmallestUnit(raw, decimals)),
	}, nil
}

// ToSmallestUnit converts a human amount using the token's decimals.
func (t *TokenContract) ToSmallestUnit(ctx context.Context, amount decimal.Decimal) (*big.Int, uint8) {
	decimals := t.DecimalsOrDefault(ctx)
	return ToSmallestUnit(amount, decimals), decimals
}

func (t *TokenContract) transferMsg(from, to common.Address, amount *big.Int, gasLimit uint64) (ethereum.CallMsg, error) {
	data, err := parsedERC20.Pack("transfer", to, amount)
	if err != nil {
		return ethereum.CallMsg{}, fmt.Errorf("pack transfer: %w", err)
	}
	contract := t.address
	return ethereum.CallMsg{
		From: from,
		To:   &contract,
		Data: data,
		Gas:  gasLimit,
	}, nil
}

// EstimateTransferGas simulates transfer(to, amount) from from. A failure
// here usually means the real transfer would revert.
func (t *TokenContract) EstimateTransferGas(ctx context.Context, from, to common.Address, amount *big.Int) (uint64, error) {
	msg, err := t.transferMsg(from, to, amount, 0)
	if err != nil {
		return 0, err
	}
	return t.backend.EstimateGas(ctx, msg)
}

// Transfer submits transfer(to, amount). A zero gasLimit lets the wallet choose.
func (t *TokenContract) Transfer(ctx context.Context, from, to common.Address, amount *big.Int, gasLimit uint64) (*PendingTransfer, error) {
	msg, err := t.transferMsg(from, to, amount, gasLimit)
	if err != nil {
		return nil, err
	}
	hash, err := t.backend.SendTransaction(ctx, msg)
	if err != nil {
		return nil, err
	}
	return &PendingTransfer{Hash: hash, backend: t.backend}, nil
}

// Info fetches symbol, name and decimals. Symbol and name are optional and
// left empty when the token does not implement them.
func (t *TokenContract) Info(ctx context.Context) types.TokenInfo {
	info := types.TokenInfo{Address: t.address, Decimals: t.DecimalsOrDefault(ctx)}

	if s, err := t.Symbol(ctx); err == nil {
		info.Symbol = s
	} else {
		t.log.Warn("token does not support symbol()", map[string]any{"error": err})
	}
	if n, err := t.Name(ctx); err == nil {
		info.Name = n
	} else {
		t.log.Warn("token does not support name()", map[string]any{"error": err})
	}
	return info
}

// ProbeResult describes what a connectivity probe found.
type ProbeResult struct {
	Info    types.TokenInfo `json:"info"`
	Missing []string        `json:"missing,omitempty"`
}

// Probe checks that the contract answers a balance query and reports which
// optional metadata methods are missing.
func (t *TokenContract) Probe(ctx context.Context) (ProbeResult, error) {
	if _, err := t.BalanceOf(ctx, common.Address{}); err != nil {
		return ProbeResult{}, fmt.Errorf("contract does not implement ERC-20 balanceOf: %w", err)
	}

	res := ProbeResult{Info: types.TokenInfo{Address: t.address, Decimals: DefaultDecimals}}
	if d, err := t.Decimals(ctx); err == nil {
		res.Info.Decimals = d
	} else {
		res.Missing = append(res.Missing, "decimals")
	}
	if s, err := t.Symbol(ctx); err == nil {
		res.Info.Symbol = s
	} else {
		res.Missing = append(res.Missing, "symbol")
	}
	if n, err := t.Name(ctx); err == nil {
		res.Info.Name = n
	} else {
		res.Missing = append(res.Missing, "name")
	}
	return res, nil
}

// PendingTransfer is a submitted transfer awaiting its receipt.
type PendingTransfer struct {
	Hash    common.Hash
	backend ChainBackend
}

// NewPendingTransfer tracks an already submitted transaction.
func NewPendingTransfer(hash common.Hash, backend ChainBackend) *PendingTransfer {
	return &PendingTransfer{Hash: hash, backend: backend}
}

// Wait polls for the receipt until it has the requested confirmations.
// The receipt is returned whatever its status.
func (p *PendingTransfer) Wait(ctx context.Context, confirmations uint64, poll time.Duration) (*ethtypes.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	if poll <= 0 {
		poll = time.Second
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		receipt, err := p.backend.TransactionReceipt(ctx, p.Hash)
		switch {
		case err == nil && receipt != nil:
			if confirmations == 1 || receipt.BlockNumber == nil {
				return receipt, nil
			}
			head, err := p.backend.BlockNumber(ctx)
			if err != nil {
				return nil, fmt.Errorf("block number: %w", err)
			}
			mined := receipt.BlockNumber.Uint64()
			if head >= mined && head-mined+1 >= confirmations {
				return receipt, nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("transaction receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ToSmallestUnit converts amount to an integer of the token's smallest unit.
// Digits beyond decimals are truncated.
func ToSmallestUnit(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromSmallestUnit converts raw to token units.
func FromSmallestUnit(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}
