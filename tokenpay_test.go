package tokenpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/tokenpay/clients"
	"github.com/vitwit/tokenpay/config"
	"github.com/vitwit/tokenpay/types"
)

var (
	selBalanceOf = hexutil.MustDecode("0x70a08231")
	selDecimals  = hexutil.MustDecode("0x313ce567")
)

// walletStub is a wallet provider on BSC holding a fixed USDT balance.
type walletStub struct {
	mu      sync.Mutex
	account common.Address
	usdt    *big.Int
	status  string
	sent    int
}

func (w *walletStub) Request(_ context.Context, result any, method string, params ...any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var v any
	switch method {
	case "eth_requestAccounts", "eth_accounts":
		v = []common.Address{w.account}
	case "eth_chainId":
		v = "0x38"
	case "eth_getTransactionCount":
		v = "0x1"
	case "eth_call":
		data := params[0].(map[string]any)["data"].(hexutil.Bytes)
		switch {
		case bytes.Equal(data[:4], selBalanceOf):
			v = hexutil.Bytes(common.LeftPadBytes(w.usdt.Bytes(), 32))
		case bytes.Equal(data[:4], selDecimals):
			v = hexutil.Bytes(common.LeftPadBytes([]byte{18}, 32))
		default:
			return fmt.Errorf("execution reverted")
		}
	case "eth_estimateGas":
		v = "0xc350"
	case "eth_getBalance":
		v = "0xde0b6b3a7640000"
	case "eth_sendTransaction":
		w.sent++
		v = common.HexToHash("0xfeed").Hex()
	case "eth_getTransactionReceipt":
		v = map[string]any{
			"transactionHash": common.HexToHash("0xfeed").Hex(),
			"status":          w.status,
			"gasUsed":         "0xb3b0",
			"blockHash":       common.HexToHash("0xb10c").Hex(),
			"blockNumber":     "0x100",
		}
	default:
		return fmt.Errorf("method %s not supported", method)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (w *walletStub) Close() {}

func usdt(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type recordLog struct {
	mu       sync.Mutex
	entries  []map[string]any
	catalogs int
}

func (l *recordLog) catalogHit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.catalogs++
}

func (l *recordLog) catalogCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.catalogs
}

func (l *recordLog) add(e map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *recordLog) all() []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]map[string]any(nil), l.entries...)
}

func newBackend(t *testing.T, recorded *recordLog) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/get-packages":
			recorded.catalogHit()
			fmt.Fprint(w, `{"success":true,"data":{"packages":[{"p_id":3,"p_name":"Gold","p_amount":"100"}],"user_balance":"42.5","dan_price":"0.3","total_count":1}}`)
		case "/api/buy-package":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			recorded.add(body)
			fmt.Fprint(w, `{"success":true,"message":"Package purchased successfully"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestTokenPay(t *testing.T, wallet *walletStub, backendURL string) *TokenPay {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.BaseURL = backendURL + "/api"

	tp, err := New(cfg, WithDialer(func(context.Context) (clients.Provider, error) {
		return wallet, nil
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Close() })
	return tp
}

func TestPurchasePackageEndToEnd(t *testing.T) {
	recorded := &recordLog{}
	srv := newBackend(t, recorded)
	wallet := &walletStub{
		account: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		usdt:    usdt(500),
		status:  "0x1",
	}
	tp := newTestTokenPay(t, wallet, srv.URL)

	res, err := tp.PurchasePackage(context.Background(), 3)
	require.NoError(t, err)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.StageCompleted, res.Stage)
	assert.Equal(t, common.HexToHash("0xfeed").Hex(), res.TransactionHash)
	assert.Equal(t, "https://bscscan.com/tx/"+res.TransactionHash, res.ExplorerURL)
	assert.Equal(t, 1, wallet.sent)

	entries := recorded.all()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 3, entries[0]["p_id"])
	assert.Equal(t, wallet.account.Hex(), entries[0]["wallet_address"])

	assert.False(t, tp.Busy())
	assert.Equal(t, types.StageCompleted, tp.State().Stage)

	assert.Equal(t, 2, recorded.catalogCalls(), "price lookup and balance reload")
	snap, ok := tp.Snapshot()
	require.True(t, ok)
	assert.Equal(t, wallet.account, snap.Address)
	assert.Equal(t, "500.00", snap.Token.Formatted)
	assert.True(t, snap.Dashboard.Equal(decimal.RequireFromString("42.5")))
	assert.True(t, snap.DanPrice.Equal(decimal.RequireFromString("0.3")))
}

func TestPurchaseRunsExtraRefresher(t *testing.T) {
	recorded := &recordLog{}
	srv := newBackend(t, recorded)
	wallet := &walletStub{
		account: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		usdt:    usdt(500),
		status:  "0x1",
	}
	cfg := config.Default()
	cfg.Backend.BaseURL = srv.URL + "/api"

	var refreshed common.Address
	tp, err := New(cfg,
		WithDialer(func(context.Context) (clients.Provider, error) { return wallet, nil }),
		WithBalanceRefresher(func(_ context.Context, addr common.Address) error {
			refreshed = addr
			return nil
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Close() })

	res := tp.Purchase(context.Background(), 3, decimal.NewFromInt(100))
	require.True(t, res.Success, res.Error)

	assert.Equal(t, wallet.account, refreshed)
	assert.Equal(t, 1, recorded.catalogCalls())
	_, ok := tp.Snapshot()
	assert.True(t, ok)
}

func TestPurchaseInsufficientBalanceNeverSends(t *testing.T) {
	recorded := &recordLog{}
	srv := newBackend(t, recorded)
	wallet := &walletStub{
		account: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		usdt:    usdt(50),
		status:  "0x1",
	}
	tp := newTestTokenPay(t, wallet, srv.URL)

	res := tp.Purchase(context.Background(), 3, decimal.NewFromInt(100))

	assert.False(t, res.Success)
	assert.Equal(t, types.ErrInsufficientBalance, res.ErrorClass)
	assert.Zero(t, wallet.sent)
	assert.Empty(t, recorded.all())
	_, ok := tp.Snapshot()
	assert.False(t, ok)
}

func TestPurchaseRevertedTransferIsNotRecorded(t *testing.T) {
	recorded := &recordLog{}
	srv := newBackend(t, recorded)
	wallet := &walletStub{
		account: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		usdt:    usdt(500),
		status:  "0x0",
	}
	tp := newTestTokenPay(t, wallet, srv.URL)

	res := tp.Purchase(context.Background(), 3, decimal.NewFromInt(100))

	assert.False(t, res.Success)
	assert.Equal(t, types.ErrExecutionFailed, res.ErrorClass)
	assert.NotEmpty(t, res.TransactionHash)
	assert.Empty(t, recorded.all())
}

func TestPurchasePackageUnknownPackage(t *testing.T) {
	recorded := &recordLog{}
	srv := newBackend(t, recorded)
	wallet := &walletStub{account: common.HexToAddress("0x1111111111111111111111111111111111111111"), usdt: usdt(500)}
	tp := newTestTokenPay(t, wallet, srv.URL)

	_, err := tp.PurchasePackage(context.Background(), 42)
	assert.ErrorContains(t, err, "package 42 not found")
	assert.Zero(t, wallet.sent)
}

func TestBalanceAndCheckBalance(t *testing.T) {
	recorded := &recordLog{}
	srv := newBackend(t, recorded)
	wallet := &walletStub{account: common.HexToAddress("0x1111111111111111111111111111111111111111"), usdt: usdt(1234)}
	tp := newTestTokenPay(t, wallet, srv.URL)

	addr, bal, err := tp.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wallet.account, addr)
	assert.Equal(t, "1,234.00", bal.Formatted)

	check, err := tp.CheckBalance(context.Background(), decimal.NewFromInt(2000))
	require.NoError(t, err)
	assert.True(t, check.Known)
	assert.False(t, check.Sufficient)
}

func TestNewWithoutWallet(t *testing.T) {
	cfg := config.Default()
	tp, err := New(cfg)
	require.NoError(t, err)

	res := tp.Purchase(context.Background(), 3, decimal.NewFromInt(100))
	assert.Equal(t, types.ErrWalletUnavailable, res.ErrorClass)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Token.PaymentAddress = "not-an-address"

	_, err := New(cfg)
	require.Error(t, err)
}

func TestAccessors(t *testing.T) {
	tp, err := New(nil)
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(config.DefaultPaymentAddress), tp.PaymentAddress())
	assert.Equal(t, int64(56), tp.Network().ChainID)
	assert.Equal(t, "https://bscscan.com/tx/0xabc", tp.TxURL("0xabc"))
	assert.NotNil(t, tp.Ledger())
	assert.Equal(t, "1.0.0", GetVersion()["library_version"])
}
