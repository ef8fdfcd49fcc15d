// Package settlement executes token payments to the configured payment address.
package settlement

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/tokenpay/clients"
	"github.com/vitwit/tokenpay/logger"
	"github.com/vitwit/tokenpay/metrics"
	"github.com/vitwit/tokenpay/types"
	"github.com/vitwit/tokenpay/verification"
)

// Payer interface defines the contract for payment execution
type Payer interface {
	Pay(ctx context.Context, amount decimal.Decimal, from common.Address) types.TransferResult
}

var _ Payer = (*PaymentExecutor)(nil)

// Token is the part of the payment token contract the executor drives.
// *clients.TokenContract implements it.
type Token interface {
	ToSmallestUnit(ctx context.Context, amount decimal.Decimal) (*big.Int, uint8)
	EstimateTransferGas(ctx context.Context, from, to common.Address, amount *big.Int) (uint64, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int, gasLimit uint64) (*clients.PendingTransfer, error)
}

// NativeBalance reads the gas token balance. *clients.Connection implements it.
type NativeBalance interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// State is a step of a single Pay call.
type State string

const (
	StateIdle          State = "idle"
	StateGasEstimating State = "gas_estimating"
	StateGasChecked    State = "gas_checked"
	StateSubmitting    State = "submitting"
	StateConfirming    State = "confirming"
	StateSucceeded     State = "succeeded"
	StateFailed        State = "failed"
)

const (
	DefaultGasPriceWei   = 5_000_000_000 // 5 gwei
	DefaultGasMargin     = 20
	DefaultConfirmations = 1
)

// Config holds the payment policy.
type Config struct {
	PaymentAddress common.Address
	TokenSymbol    string
	NativeSymbol   string
	NativeDecimals uint8
	// GasPrice is the assumed price used for the native balance check.
	GasPrice *big.Int
	// GasMargin is the percentage added on top of the gas estimate.
	// Nil means DefaultGasMargin; zero adds nothing.
	GasMargin     *uint64
	Confirmations uint64
	PollInterval  time.Duration
}

func (c *Config) applyDefaults() {
	if c.TokenSymbol == "" {
		c.TokenSymbol = "USDT"
	}
	if c.NativeSymbol == "" {
		c.NativeSymbol = types.BSCMainnet.NativeCurrencySymbol
	}
	if c.NativeDecimals == 0 {
		c.NativeDecimals = 18
	}
	if c.GasPrice == nil || c.GasPrice.Sign() <= 0 {
		c.GasPrice = big.NewInt(DefaultGasPriceWei)
	}
	if c.GasMargin == nil {
		margin := uint64(DefaultGasMargin)
		c.GasMargin = &margin
	}
	if c.Confirmations == 0 {
		c.Confirmations = DefaultConfirmations
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// PaymentExecutor runs the pre-flight checks, submits the transfer and
// waits for its receipt. One Pay call runs at a time per executor by
// convention; State reports the step of the latest call.
type PaymentExecutor struct {
	token    Token
	native   NativeBalance
	verifier verification.Verifier
	cfg      Config
	log      logger.Logger
	metrics  metrics.Recorder

	mu       sync.Mutex
	state    State
	observer func(State)
}

type Option func(*PaymentExecutor)

func WithLogger(l logger.Logger) Option {
	return func(e *PaymentExecutor) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *PaymentExecutor) {
		if r != nil {
			e.metrics = r
		}
	}
}

// WithObserver registers fn to be called on every state transition.
func WithObserver(fn func(State)) Option {
	return func(e *PaymentExecutor) {
		e.observer = fn
	}
}

// NewPaymentExecutor creates a new payment executor
func NewPaymentExecutor(token Token, native NativeBalance, verifier verification.Verifier, cfg Config, opts ...Option) *PaymentExecutor {
	cfg.applyDefaults()
	e := &PaymentExecutor{
		token:    token,
		native:   native,
		verifier: verifier,
		cfg:      cfg,
		log:      logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the step of the latest Pay call.
func (e *PaymentExecutor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *PaymentExecutor) setState(s State) {
	e.mu.Lock()
	e.state = s
	fn := e.observer
	e.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// GasLimit returns estimate plus the configured safety margin.
func (e *PaymentExecutor) GasLimit(estimate uint64) uint64 {
	return estimate * (100 + *e.cfg.GasMargin) / 100
}

// Pay transfers amount tokens from from to the payment address.
//
// Balance, gas estimation and gas funding failures abort before any
// transfer is submitted. A result with a TransactionHash means a
// transaction was broadcast and must not be paid again.
func (e *PaymentExecutor) Pay(ctx context.Context, amount decimal.Decimal, from common.Address) types.TransferResult {
	start := time.Now()
	fields := map[string]any{
		"from":   from.Hex(),
		"to":     e.cfg.PaymentAddress.Hex(),
		"amount": amount.String(),
	}
	e.setState(StateIdle)
	e.log.Info("starting token transfer", fields)

	if pe := e.checkBalance(ctx, from, amount, "Insufficient %s balance. Required: %s %s, Available: %s %s"); pe != nil {
		return e.fail(pe, "", 0, fields, start)
	}

	raw, decimals := e.token.ToSmallestUnit(ctx, amount)
	fields["amount_raw"] = raw.String()
	fields["decimals"] = decimals

	e.setState(StateGasEstimating)
	gas, err := e.token.EstimateTransferGas(ctx, from, e.cfg.PaymentAddress, raw)
	if err != nil {
		return e.fail(estimateError(err, e.cfg.TokenSymbol), "", 0, fields, start)
	}
	fields["gas_estimate"] = gas

	if pe := e.checkGasFunds(ctx, from, gas); pe != nil {
		return e.fail(pe, "", 0, fields, start)
	}
	e.setState(StateGasChecked)

	if pe := e.checkBalance(ctx, from, amount, "Insufficient %s balance at transfer time. Required: %s %s, Available: %s %s"); pe != nil {
		return e.fail(pe, "", 0, fields, start)
	}

	e.setState(StateSubmitting)
	limit := e.GasLimit(gas)
	fields["gas_limit"] = limit

	pending, err := e.token.Transfer(ctx, from, e.cfg.PaymentAddress, raw, limit)
	if err != nil {
		return e.fail(clients.Classify(err), "", 0, fields, start)
	}

	hash := pending.Hash.Hex()
	fields["tx_hash"] = hash
	e.setState(StateConfirming)
	e.log.Info("transfer submitted, waiting for confirmation", fields)

	receipt, err := pending.Wait(ctx, e.cfg.Confirmations, e.cfg.PollInterval)
	if err != nil {
		// The transaction is out of our hands; its outcome is not known.
		pe := types.NewPaymentError(types.ErrUnknown,
			fmt.Sprintf("Transaction %s was submitted but its confirmation could not be read", hash), err)
		return e.fail(pe, hash, 0, fields, start)
	}
	if receipt.Status != 1 {
		pe := types.NewPaymentError(types.ErrExecutionFailed,
			"Transaction failed during execution. Please check your wallet and try again.", nil)
		return e.fail(pe, hash, receipt.GasUsed, fields, start)
	}

	e.setState(StateSucceeded)
	e.log.Info("transfer confirmed", logger.Merge(fields, map[string]any{
		"gas_used": receipt.GasUsed,
		"block":    receipt.BlockNumber,
	}))
	e.record(StateSucceeded, "success", start)

	return types.TransferResult{
		Outcome:         types.OutcomeSuccess,
		TransactionHash: hash,
		GasUsed:         receipt.GasUsed,
	}
}

func (e *PaymentExecutor) checkBalance(ctx context.Context, from common.Address, amount decimal.Decimal, format string) *types.PaymentError {
	check := e.verifier.CheckSufficiency(ctx, from, amount)
	if !check.Known {
		if pe := clients.Classify(check.Err); pe != nil && pe.Class.IsCancellation() {
			return types.NewPaymentError(types.ErrUserCancelled, pe.Message, check.Err)
		}
		return types.NewPaymentError(types.ErrBalanceUnknown,
			fmt.Sprintf("Could not read your %s balance. Please try again.", e.cfg.TokenSymbol), check.Err)
	}
	if !check.Sufficient {
		sym := e.cfg.TokenSymbol
		return types.NewPaymentError(types.ErrInsufficientBalance,
			fmt.Sprintf(format, sym, amount.String(), sym, check.FormattedBalance, sym), nil)
	}
	return nil
}

func (e *PaymentExecutor) checkGasFunds(ctx context.Context, from common.Address, gas uint64) *types.PaymentError {
	cost := new(big.Int).Mul(new(big.Int).SetUint64(gas), e.cfg.GasPrice)

	bal, err := e.native.BalanceAt(ctx, from)
	if err != nil {
		pe := clients.Classify(err)
		if pe.Class.IsCancellation() {
			return pe
		}
		return types.NewPaymentError(types.ErrBalanceUnknown,
			fmt.Sprintf("Could not read your %s balance for gas fees", e.cfg.NativeSymbol), err)
	}

	if bal.Cmp(cost) < 0 {
		return types.NewPaymentError(types.ErrInsufficientGas,
			fmt.Sprintf("Insufficient %s for gas fees. You need approximately %s %s for this transaction.",
				e.cfg.NativeSymbol, clients.FromSmallestUnit(cost, e.cfg.NativeDecimals).String(), e.cfg.NativeSymbol), nil)
	}
	return nil
}

// estimateError maps a failed simulation. Only balance shortfalls and user
// cancellations keep their own class; everything else is SimulationFailed.
func estimateError(err error, symbol string) *types.PaymentError {
	pe := clients.Classify(err)
	switch {
	case pe.Class == types.ErrInsufficientBalance:
		return types.NewPaymentError(types.ErrInsufficientBalance,
			fmt.Sprintf("Insufficient %s balance for transfer", symbol), err)
	case pe.Class.IsCancellation():
		return pe
	}
	return types.NewPaymentError(types.ErrSimulationFailed,
		fmt.Sprintf("Transaction simulation failed: %v", err), err)
}

func (e *PaymentExecutor) fail(pe *types.PaymentError, hash string, gasUsed uint64, fields map[string]any, start time.Time) types.TransferResult {
	failedAt := e.State()
	e.setState(StateFailed)

	e.log.Error("token transfer failed", logger.Merge(fields, map[string]any{
		"state":   string(failedAt),
		"class":   string(pe.Class),
		"error":   pe,
		"tx_hash": hash,
	}))
	e.record(failedAt, string(pe.Class), start)

	return types.TransferResult{
		Outcome:         types.OutcomeFailure,
		TransactionHash: hash,
		GasUsed:         gasUsed,
		ErrorClass:      pe.Class,
		ErrorMessage:    pe.Message,
	}
}

func (e *PaymentExecutor) record(stage State, outcome string, start time.Time) {
	labels := map[string]string{"stage": string(stage), "outcome": outcome}
	e.metrics.IncCounter(metrics.EventTransfer, labels)
	e.metrics.ObserveLatency(metrics.EventTransfer, time.Since(start), labels)
}
