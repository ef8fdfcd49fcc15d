package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncCounter(EventPurchase, map[string]string{"stage": "paying", "outcome": "INSUFFICIENT_GAS"})
	r.IncCounter(EventPurchase, map[string]string{"stage": "paying", "outcome": "INSUFFICIENT_GAS"})
	r.IncCounter(EventPurchase, map[string]string{"stage": "completed", "outcome": "success"})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.counters.WithLabelValues(EventPurchase, "paying", "INSUFFICIENT_GAS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.counters.WithLabelValues(EventPurchase, "completed", "success")))
}

func TestPrometheusRecorderLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.ObserveLatency(EventTransfer, 1500*time.Millisecond, map[string]string{"stage": "confirming"})

	n, err := testutil.GatherAndCount(reg, "tokenpay_stage_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
