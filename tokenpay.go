// Package tokenpay pays for dashboard investment packages with an ERC-20
// token transfer from the user's wallet and records the purchase with the
// dashboard backend.
package tokenpay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/tokenpay/backend"
	"github.com/vitwit/tokenpay/clients"
	"github.com/vitwit/tokenpay/config"
	"github.com/vitwit/tokenpay/logger"
	"github.com/vitwit/tokenpay/metrics"
	"github.com/vitwit/tokenpay/purchase"
	"github.com/vitwit/tokenpay/reconcile"
	"github.com/vitwit/tokenpay/settlement"
	"github.com/vitwit/tokenpay/types"
	"github.com/vitwit/tokenpay/verification"
)

// TokenPay is the main struct that wires the payment flow together
type TokenPay struct {
	cfg *config.Config

	conn         *clients.Connection
	token        *clients.TokenContract
	verifier     *verification.BalanceVerifier
	executor     *settlement.PaymentExecutor
	backend      *backend.Client
	orchestrator *purchase.Orchestrator

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration
	dialer  clients.Dialer
	ledger  reconcile.Ledger
	refresh purchase.BalanceRefresher

	closeLedger func() error

	mu       sync.Mutex
	snapshot *types.BalanceSnapshot
}

// New creates a new TokenPay instance with the given configuration
func New(cfg *config.Config, opts ...Option) (*TokenPay, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &TokenPay{
		cfg:     cfg,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		timeout: 30 * time.Second,
		dialer:  clients.RPCDialer(cfg.Wallet.ProviderURL),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.ledger == nil {
		ledger, err := openLedger(cfg.Ledger)
		if err != nil {
			return nil, err
		}
		t.ledger = ledger
		if closer, ok := ledger.(interface{ Close() error }); ok {
			t.closeLedger = closer.Close
		}
	}

	t.conn = clients.NewConnection(t.dialer, t.logger)
	t.token = clients.NewTokenContract(cfg.TokenAddress(), t.conn, t.logger)

	t.verifier = verification.NewBalanceVerifier(t.token,
		verification.WithBuffer(cfg.BufferAmount()),
		verification.WithTimeout(t.timeout),
		verification.WithLogger(t.logger),
		verification.WithMetrics(t.metrics),
	)

	t.executor = settlement.NewPaymentExecutor(t.token, t.conn, t.verifier, settlement.Config{
		PaymentAddress: cfg.PaymentAddress(),
		TokenSymbol:    cfg.Token.Symbol,
		NativeSymbol:   cfg.Network.NativeCurrencySymbol,
		NativeDecimals: uint8(cfg.Network.NativeCurrencyDecimals),
		GasPrice:       cfg.GasPriceWei(),
		GasMargin:      cfg.Token.GasMargin,
		Confirmations:  cfg.Token.Confirmations,
		PollInterval:   cfg.Token.PollInterval,
	},
		settlement.WithLogger(t.logger),
		settlement.WithMetrics(t.metrics),
	)

	t.backend = backend.NewClient(backend.Options{
		BaseURL: cfg.Backend.BaseURL,
		Token:   cfg.Backend.Token,
		Timeout: cfg.Backend.Timeout,
		Logger:  t.logger,
	})

	t.orchestrator = purchase.NewOrchestrator(t.conn, t.verifier, t.executor, t.backend, cfg.Network,
		purchase.WithLogger(t.logger),
		purchase.WithMetrics(t.metrics),
		purchase.WithLedger(t.ledger),
		purchase.WithBalanceRefresher(t.refreshBalances),
		purchase.WithRecordTimeout(cfg.Backend.Timeout),
	)

	return t, nil
}

func openLedger(cfg config.LedgerConfig) (reconcile.Ledger, error) {
	if cfg.Driver != "redis" {
		return reconcile.NewMemoryLedger(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ledger, err := reconcile.NewRedisLedger(ctx, cfg.RedisURL, cfg.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to open reconciliation ledger: %w", err)
	}
	return ledger, nil
}

// refreshBalances reloads the token balance and the dashboard balance after
// a completed purchase, then runs the refresher given with
// WithBalanceRefresher, if any.
func (t *TokenPay) refreshBalances(ctx context.Context, address common.Address) error {
	bal, err := t.token.Balance(ctx, address)
	if err != nil {
		return fmt.Errorf("token balance: %w", err)
	}
	snap := types.BalanceSnapshot{Address: address, Token: bal, UpdatedAt: time.Now().UTC()}

	catalog, catalogErr := t.backend.Packages(ctx)
	if catalogErr == nil {
		snap.Dashboard = catalog.UserBalance
		snap.DanPrice = catalog.DanPrice
	}

	t.mu.Lock()
	t.snapshot = &snap
	t.mu.Unlock()

	if catalogErr != nil {
		return fmt.Errorf("dashboard balance: %w", catalogErr)
	}
	if t.refresh != nil {
		return t.refresh(ctx, address)
	}
	return nil
}

// Snapshot returns the balances reloaded after the last completed purchase.
func (t *TokenPay) Snapshot() (types.BalanceSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot == nil {
		return types.BalanceSnapshot{}, false
	}
	return *t.snapshot, true
}

// Purchase pays amount tokens for packageID and records it with the backend.
func (t *TokenPay) Purchase(ctx context.Context, packageID int64, amount decimal.Decimal) types.PurchaseResult {
	return t.orchestrator.Purchase(ctx, packageID, amount)
}

// PurchasePackage looks up the package price from the backend and buys it.
func (t *TokenPay) PurchasePackage(ctx context.Context, packageID int64) (types.PurchaseResult, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, t.cfg.Backend.Timeout)
	defer cancel()

	pkg, err := t.backend.Package(lookupCtx, packageID)
	if err != nil {
		return types.PurchaseResult{}, fmt.Errorf("failed to load package %d: %w", packageID, err)
	}
	return t.Purchase(ctx, packageID, pkg.Amount), nil
}

// State returns the purchase flow status, including the busy flag.
func (t *TokenPay) State() purchase.Status {
	return t.orchestrator.State()
}

func (t *TokenPay) Busy() bool {
	return t.orchestrator.Busy()
}

// Balance connects the wallet and reads its token balance.
func (t *TokenPay) Balance(ctx context.Context) (common.Address, types.TokenBalance, error) {
	id, err := t.connect(ctx)
	if err != nil {
		return common.Address{}, types.TokenBalance{}, err
	}
	defer t.conn.Reset()

	bal, err := t.token.Balance(ctx, id.Address)
	if err != nil {
		return id.Address, types.TokenBalance{}, clients.Classify(err)
	}
	return id.Address, bal, nil
}

// CheckBalance reports whether the connected wallet holds required tokens.
func (t *TokenPay) CheckBalance(ctx context.Context, required decimal.Decimal) (verification.BalanceCheck, error) {
	id, err := t.connect(ctx)
	if err != nil {
		return verification.BalanceCheck{}, err
	}
	defer t.conn.Reset()

	return t.verifier.CheckSufficiency(ctx, id.Address, required), nil
}

func (t *TokenPay) connect(ctx context.Context) (types.ChainIdentity, error) {
	id, err := t.conn.Connect(ctx)
	if err != nil {
		return id, err
	}
	if err := t.conn.EnsureNetwork(ctx, t.cfg.Network); err != nil {
		t.conn.Reset()
		return types.ChainIdentity{}, err
	}
	return id, nil
}

// TokenInfo reads the token metadata from the network's public RPC node.
func (t *TokenPay) TokenInfo(ctx context.Context) (clients.ProbeResult, error) {
	ro, err := clients.DialReadOnly(ctx, t.cfg.Network.RPCURL)
	if err != nil {
		return clients.ProbeResult{}, err
	}
	defer ro.Close()

	return clients.NewTokenContract(t.cfg.TokenAddress(), ro, t.logger).Probe(ctx)
}

// BalanceOf reads owner's token balance from the public RPC node without a wallet.
func (t *TokenPay) BalanceOf(ctx context.Context, owner common.Address) (types.TokenBalance, error) {
	ro, err := clients.DialReadOnly(ctx, t.cfg.Network.RPCURL)
	if err != nil {
		return types.TokenBalance{}, err
	}
	defer ro.Close()

	return clients.NewTokenContract(t.cfg.TokenAddress(), ro, t.logger).Balance(ctx, owner)
}

func (t *TokenPay) PaymentAddress() common.Address {
	return t.cfg.PaymentAddress()
}

func (t *TokenPay) Network() types.NetworkProfile {
	return t.cfg.Network
}

// TxURL links hash to the network's block explorer.
func (t *TokenPay) TxURL(hash string) string {
	return t.cfg.Network.TxURL(hash)
}

func (t *TokenPay) Ledger() reconcile.Ledger {
	return t.ledger
}

func (t *TokenPay) Backend() *backend.Client {
	return t.backend
}

// Close drops the wallet connection and closes a ledger opened by New.
func (t *TokenPay) Close() error {
	t.conn.Reset()
	if t.closeLedger != nil {
		return t.closeLedger()
	}
	return nil
}

// Version information
const Version = "1.0.0"

// GetVersion returns version information
func GetVersion() map[string]any {
	return map[string]any{
		"library_version":   Version,
		"supported_network": types.BSCMainnet.ChainName,
		"supported_tokens":  []string{"erc20", "bep20"},
	}
}
