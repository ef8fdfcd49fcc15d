// Package verification checks that a payer holds enough of the payment token.
package verification

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/tokenpay/logger"
	"github.com/vitwit/tokenpay/metrics"
	"github.com/vitwit/tokenpay/types"
	"github.com/vitwit/tokenpay/utils"
)

// DefaultBuffer absorbs rounding noise in the sufficiency comparison.
var DefaultBuffer = decimal.New(1, -6)

// Verifier interface defines the contract for balance verification
type Verifier interface {
	CheckSufficiency(ctx context.Context, address common.Address, required decimal.Decimal) BalanceCheck
}

// BalanceSource reads a live token balance. *clients.TokenContract implements it.
type BalanceSource interface {
	Balance(ctx context.Context, owner common.Address) (types.TokenBalance, error)
}

// BalanceCheck is the verdict of a single sufficiency check.
//
// When the balance could not be read, Sufficient is false, CurrentBalance is
// zero and FormattedBalance is "0.00", but Known is false and Err holds the
// cause. Callers must look at Known before treating the result as a real
// zero balance.
type BalanceCheck struct {
	Sufficient       bool            `json:"sufficient"`
	CurrentBalance   decimal.Decimal `json:"currentBalance"`
	FormattedBalance string          `json:"formattedBalance"`
	Known            bool            `json:"known"`
	Err              error           `json:"-"`
}

// BalanceVerifier compares live balances against required amounts.
type BalanceVerifier struct {
	source  BalanceSource
	buffer  decimal.Decimal
	timeout time.Duration
	log     logger.Logger
	metrics metrics.Recorder
}

type Option func(*BalanceVerifier)

// WithBuffer overrides DefaultBuffer. Negative values are ignored.
func WithBuffer(b decimal.Decimal) Option {
	return func(v *BalanceVerifier) {
		if !b.IsNegative() {
			v.buffer = b
		}
	}
}

func WithTimeout(t time.Duration) Option {
	return func(v *BalanceVerifier) {
		if t > 0 {
			v.timeout = t
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(v *BalanceVerifier) {
		if l != nil {
			v.log = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(v *BalanceVerifier) {
		if r != nil {
			v.metrics = r
		}
	}
}

// NewBalanceVerifier creates a new balance verifier reading from source
func NewBalanceVerifier(source BalanceSource, opts ...Option) *BalanceVerifier {
	v := &BalanceVerifier{
		source:  source,
		buffer:  DefaultBuffer,
		timeout: 30 * time.Second,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Buffer returns the tolerance subtracted from required amounts.
func (v *BalanceVerifier) Buffer() decimal.Decimal {
	return v.buffer
}

// CheckSufficiency reads address's balance and reports whether it covers
// required minus the buffer. It never returns an error; see BalanceCheck.
//
// Every call performs a fresh read, so it can be called right before
// submitting a transfer to narrow the window for balance changes.
func (v *BalanceVerifier) CheckSufficiency(ctx context.Context, address common.Address, required decimal.Decimal) BalanceCheck {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	fields := map[string]any{
		"address":  address.Hex(),
		"required": required.String(),
	}

	bal, err := v.source.Balance(checkCtx, address)
	if err != nil {
		v.log.Warn("balance query failed", logger.Merge(fields, map[string]any{"error": err}))
		v.record("unknown", start)
		return BalanceCheck{
			Sufficient:       false,
			CurrentBalance:   decimal.Zero,
			FormattedBalance: utils.FormatAmount(decimal.Zero),
			Known:            false,
			Err:              err,
		}
	}

	current := bal.Amount()
	sufficient := current.GreaterThanOrEqual(required.Sub(v.buffer))

	v.log.Debug("balance checked", logger.Merge(fields, map[string]any{
		"balance":    current.String(),
		"sufficient": sufficient,
	}))

	outcome := "sufficient"
	if !sufficient {
		outcome = "insufficient"
	}
	v.record(outcome, start)

	return BalanceCheck{
		Sufficient:       sufficient,
		CurrentBalance:   current,
		FormattedBalance: bal.Formatted,
		Known:            true,
	}
}

func (v *BalanceVerifier) record(outcome string, start time.Time) {
	labels := map[string]string{"stage": "verify", "outcome": outcome}
	v.metrics.IncCounter(metrics.EventBalance, labels)
	v.metrics.ObserveLatency(metrics.EventBalance, time.Since(start), labels)
}
