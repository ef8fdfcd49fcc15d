// Package metrics records payment flow counters and stage latencies.
package metrics

import "time"

// Event names recorded by the payment flow.
const (
	EventPurchase = "purchase"
	EventTransfer = "transfer"
	EventBalance  = "balance_check"
	EventRecord   = "backend_record"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
