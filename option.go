package tokenpay

import (
	"time"

	"github.com/vitwit/tokenpay/clients"
	"github.com/vitwit/tokenpay/logger"
	"github.com/vitwit/tokenpay/metrics"
	"github.com/vitwit/tokenpay/purchase"
	"github.com/vitwit/tokenpay/reconcile"
)

type Option func(*TokenPay)

func WithLogger(l logger.Logger) Option {
	return func(t *TokenPay) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(t *TokenPay) {
		if r != nil {
			t.metrics = r
		}
	}
}

// WithTimeout bounds balance reads.
func WithTimeout(d time.Duration) Option {
	return func(t *TokenPay) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithDialer replaces the wallet provider dialer built from the config.
func WithDialer(d clients.Dialer) Option {
	return func(t *TokenPay) {
		t.dialer = d
	}
}

func WithLedger(l reconcile.Ledger) Option {
	return func(t *TokenPay) {
		t.ledger = l
	}
}

// WithBalanceRefresher adds fn to the balance reload that follows every
// completed purchase.
func WithBalanceRefresher(fn purchase.BalanceRefresher) Option {
	return func(t *TokenPay) {
		t.refresh = fn
	}
}
