package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/vitwit/tokenpay/config"
	"github.com/vitwit/tokenpay/metrics"
)

const pushJob = "tokenpay"

var errMemoryLedger = errors.New(`ledger.driver is "memory": reconciliation entries would be lost when this process exits, set ledger.driver to "redis"`)

// requirePersistentLedger rejects the in-process ledger for commands whose
// entries must outlive the process or come from another one.
func requirePersistentLedger(cfg *config.Config) error {
	if cfg.Ledger.Driver == "memory" {
		return errMemoryLedger
	}
	return nil
}

// paymentMetrics returns the registry and recorder for a purchase run, or
// nils when metrics are disabled.
func paymentMetrics(cfg *config.Config) (*prometheus.Registry, metrics.Recorder) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	return reg, metrics.NewPrometheusRecorder(reg)
}

// pushMetrics sends the run's counters to the Pushgateway at url.
func pushMetrics(ctx context.Context, url string, g prometheus.Gatherer) error {
	if err := push.New(url, pushJob).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
