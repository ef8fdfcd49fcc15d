package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/tokenpay/types"
)

type providerError struct {
	code int
	msg  string
}

func (e providerError) Error() string  { return e.msg }
func (e providerError) ErrorCode() int { return e.code }

type handler func(params []any) (any, error)

// fakeProvider answers wallet requests from a method table, round-tripping
// results through JSON the way a real RPC transport does.
type fakeProvider struct {
	handlers map[string]handler
	calls    []string
	closed   bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{handlers: make(map[string]handler)}
}

func (f *fakeProvider) on(method string, h handler) *fakeProvider {
	f.handlers[method] = h
	return f
}

func (f *fakeProvider) Request(_ context.Context, result any, method string, params ...any) error {
	f.calls = append(f.calls, method)
	h, ok := f.handlers[method]
	if !ok {
		return fmt.Errorf("method %s not supported", method)
	}
	v, err := h(params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (f *fakeProvider) Close() { f.closed = true }

func (f *fakeProvider) count(method string) int {
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func dialerFor(p Provider) Dialer {
	return func(context.Context) (Provider, error) { return p, nil }
}

var payer = common.HexToAddress("0x1111111111111111111111111111111111111111")

func accountsHandler(addrs ...common.Address) handler {
	return func([]any) (any, error) { return addrs, nil }
}

func chainHandler(id *string) handler {
	return func([]any) (any, error) { return *id, nil }
}

func TestConnectWithoutWallet(t *testing.T) {
	conn := NewConnection(nil, nil)

	_, err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrWalletUnavailable, types.ClassOf(err))

	_, ok := conn.Identity()
	assert.False(t, ok)
}

func TestConnectDialFailure(t *testing.T) {
	conn := NewConnection(func(context.Context) (Provider, error) {
		return nil, errors.New("dial tcp 127.0.0.1:1248: connect: connection refused")
	}, nil)

	_, err := conn.Connect(context.Background())
	assert.Equal(t, types.ErrWalletUnavailable, types.ClassOf(err))
}

func TestConnectUserRejected(t *testing.T) {
	p := newFakeProvider().on("eth_requestAccounts", func([]any) (any, error) {
		return nil, providerError{code: CodeUserRejected, msg: "User rejected the request."}
	})
	conn := NewConnection(dialerFor(p), nil)

	_, err := conn.Connect(context.Background())
	assert.Equal(t, types.ErrUserRejected, types.ClassOf(err))
	assert.True(t, p.closed)
}

func TestConnectProviderError(t *testing.T) {
	p := newFakeProvider().on("eth_requestAccounts", func([]any) (any, error) {
		return nil, providerError{code: -32603, msg: "internal error"}
	})
	conn := NewConnection(dialerFor(p), nil)

	_, err := conn.Connect(context.Background())
	assert.Equal(t, types.ErrConnectionFailed, types.ClassOf(err))
}

func TestConnectNoAccounts(t *testing.T) {
	p := newFakeProvider().on("eth_requestAccounts", accountsHandler())
	conn := NewConnection(dialerFor(p), nil)

	_, err := conn.Connect(context.Background())
	assert.Equal(t, types.ErrConnectionFailed, types.ClassOf(err))
}

func TestConnectAndReset(t *testing.T) {
	p := newFakeProvider().on("eth_requestAccounts", accountsHandler(payer))
	conn := NewConnection(dialerFor(p), nil)

	id, err := conn.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payer, id.Address)
	assert.True(t, id.Connected)

	cached, ok := conn.Identity()
	require.True(t, ok)
	assert.Equal(t, id, cached)

	conn.Reset()
	_, ok = conn.Identity()
	assert.False(t, ok)
	assert.True(t, p.closed)

	_, err = conn.BlockNumber(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func connected(t *testing.T, p *fakeProvider) *Connection {
	t.Helper()
	p.on("eth_requestAccounts", accountsHandler(payer))
	conn := NewConnection(dialerFor(p), nil)
	_, err := conn.Connect(context.Background())
	require.NoError(t, err)
	return conn
}

func TestEnsureNetworkAlreadyOnChain(t *testing.T) {
	chain := "0x38"
	p := newFakeProvider().on("eth_chainId", chainHandler(&chain))
	conn := connected(t, p)

	require.NoError(t, conn.EnsureNetwork(context.Background(), types.BSCMainnet))
	assert.Zero(t, p.count("wallet_switchEthereumChain"))
}

func TestEnsureNetworkSwitches(t *testing.T) {
	chain := "0x1"
	p := newFakeProvider().
		on("eth_chainId", chainHandler(&chain)).
		on("wallet_switchEthereumChain", func(params []any) (any, error) {
			arg := params[0].(map[string]string)
			chain = arg["chainId"]
			return nil, nil
		})
	conn := connected(t, p)

	require.NoError(t, conn.EnsureNetwork(context.Background(), types.BSCMainnet))
	assert.Equal(t, "0x38", chain)
	assert.Zero(t, p.count("wallet_addEthereumChain"))
}

func TestEnsureNetworkAddsUnknownChain(t *testing.T) {
	chain := "0x1"
	var added types.AddChainParams
	p := newFakeProvider().
		on("eth_chainId", chainHandler(&chain)).
		on("wallet_switchEthereumChain", func([]any) (any, error) {
			return nil, providerError{code: CodeUnrecognizedChain, msg: "Unrecognized chain ID \"0x38\""}
		}).
		on("wallet_addEthereumChain", func(params []any) (any, error) {
			added = params[0].(types.AddChainParams)
			return nil, nil
		})
	conn := connected(t, p)

	require.NoError(t, conn.EnsureNetwork(context.Background(), types.BSCMainnet))
	assert.Equal(t, 1, p.count("wallet_addEthereumChain"))
	assert.Equal(t, "0x38", added.ChainID)
	assert.Equal(t, []string{"https://bsc-dataseed.binance.org/"}, added.RPCUrls)
	assert.Equal(t, "BNB", added.NativeCurrency.Symbol)
}

func TestEnsureNetworkAddsWhenSwitchDoesNotTakeEffect(t *testing.T) {
	chain := "0x1"
	p := newFakeProvider().
		on("eth_chainId", chainHandler(&chain)).
		on("wallet_switchEthereumChain", func([]any) (any, error) { return nil, nil }).
		on("wallet_addEthereumChain", func([]any) (any, error) { return nil, nil })
	conn := connected(t, p)

	require.NoError(t, conn.EnsureNetwork(context.Background(), types.BSCMainnet))
	assert.Equal(t, 1, p.count("wallet_addEthereumChain"))
}

func TestEnsureNetworkBothFail(t *testing.T) {
	chain := "0x1"
	p := newFakeProvider().
		on("eth_chainId", chainHandler(&chain)).
		on("wallet_switchEthereumChain", func([]any) (any, error) {
			return nil, providerError{code: CodeUnrecognizedChain, msg: "Unrecognized chain"}
		}).
		on("wallet_addEthereumChain", func([]any) (any, error) {
			return nil, providerError{code: -32603, msg: "add failed"}
		})
	conn := connected(t, p)

	err := conn.EnsureNetwork(context.Background(), types.BSCMainnet)
	require.Error(t, err)
	assert.Equal(t, types.ErrNetworkMismatch, types.ClassOf(err))
	assert.Contains(t, err.Error(), "BSC Mainnet")
}

func TestEnsureNetworkUserRejectsSwitch(t *testing.T) {
	chain := "0x1"
	p := newFakeProvider().
		on("eth_chainId", chainHandler(&chain)).
		on("wallet_switchEthereumChain", func([]any) (any, error) {
			return nil, providerError{code: CodeUserRejected, msg: "User rejected the request."}
		})
	conn := connected(t, p)

	err := conn.EnsureNetwork(context.Background(), types.BSCMainnet)
	assert.Equal(t, types.ErrUserRejected, types.ClassOf(err))
	assert.Zero(t, p.count("wallet_addEthereumChain"))
}

func TestEnsureNetworkRequiresConnection(t *testing.T) {
	conn := NewConnection(dialerFor(newFakeProvider()), nil)

	err := conn.EnsureNetwork(context.Background(), types.BSCMainnet)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestVerifyAccountDetectsSwap(t *testing.T) {
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	current := payer
	p := newFakeProvider().on("eth_accounts", func([]any) (any, error) {
		return []common.Address{current}, nil
	})
	conn := connected(t, p)

	require.NoError(t, conn.VerifyAccount(context.Background()))

	current = other
	err := conn.VerifyAccount(context.Background())
	assert.Equal(t, types.ErrConnectionFailed, types.ClassOf(err))

	_, ok := conn.Identity()
	assert.False(t, ok)
}

func TestTransactionReceiptPending(t *testing.T) {
	p := newFakeProvider().on("eth_getTransactionReceipt", func([]any) (any, error) { return nil, nil })
	conn := connected(t, p)

	_, err := conn.TransactionReceipt(context.Background(), common.Hash{1})
	assert.Error(t, err)
}

func TestTransactionReceiptDecodes(t *testing.T) {
	hash := common.HexToHash("0xabc")
	p := newFakeProvider().on("eth_getTransactionReceipt", func([]any) (any, error) {
		return map[string]any{
			"transactionHash": hash.Hex(),
			"status":          "0x0",
			"gasUsed":         "0xc350",
			"blockHash":       common.HexToHash("0xdef").Hex(),
			"blockNumber":     "0x10",
		}, nil
	})
	conn := connected(t, p)

	r, err := conn.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.Status)
	assert.Equal(t, uint64(50000), r.GasUsed)
	assert.Equal(t, int64(16), r.BlockNumber.Int64())
}

func TestBalanceAtAndSendTransaction(t *testing.T) {
	hash := common.HexToHash("0x1234")
	var sent map[string]any
	p := newFakeProvider().
		on("eth_getBalance", func([]any) (any, error) { return "0xde0b6b3a7640000", nil }).
		on("eth_sendTransaction", func(params []any) (any, error) {
			sent = params[0].(map[string]any)
			return hash.Hex(), nil
		})
	conn := connected(t, p)

	bal, err := conn.BalanceAt(context.Background(), payer)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", bal.String())

	token := NewTokenContract(common.HexToAddress("0x55d398326f99059fF775485246999027B3197955"), conn, nil)
	pending, err := token.Transfer(context.Background(), payer, common.HexToAddress("0x3333333333333333333333333333333333333333"), bal, 60000)
	require.NoError(t, err)
	assert.Equal(t, hash, pending.Hash)
	assert.Equal(t, payer, sent["from"])
	assert.NotNil(t, sent["data"])
	assert.NotNil(t, sent["gas"])
}

func TestPendingTransactions(t *testing.T) {
	p := newFakeProvider().on("eth_getTransactionCount", func(params []any) (any, error) {
		if params[1] == "pending" {
			return "0x7", nil
		}
		return "0x5", nil
	})
	conn := connected(t, p)

	n, err := conn.PendingTransactions(context.Background(), payer)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}
