// Package reconcile keeps payments that reached the chain but were not
// recorded by the backend, until support resolves them by hand.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/vitwit/tokenpay/types"
)

// ErrNotFound is returned when resolving an unknown attempt.
var ErrNotFound = errors.New("reconciliation not found")

// Ledger stores pending reconciliations keyed by attempt id.
type Ledger interface {
	Append(ctx context.Context, rec types.Reconciliation) error
	List(ctx context.Context) ([]types.Reconciliation, error)
	Resolve(ctx context.Context, attemptID string) error
}

var (
	_ Ledger = (*MemoryLedger)(nil)
	_ Ledger = (*RedisLedger)(nil)
)

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]types.Reconciliation
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]types.Reconciliation)}
}

func (m *MemoryLedger) Append(_ context.Context, rec types.Reconciliation) error {
	if rec.AttemptID == "" {
		return errors.New("reconciliation without attempt id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[rec.AttemptID] = rec
	return nil
}

// List returns pending entries, oldest first.
func (m *MemoryLedger) List(_ context.Context) ([]types.Reconciliation, error) {
	m.mu.Lock()
	out := make([]types.Reconciliation, 0, len(m.entries))
	for _, rec := range m.entries {
		out = append(out, rec)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryLedger) Resolve(_ context.Context, attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[attemptID]; !ok {
		return ErrNotFound
	}
	delete(m.entries, attemptID)
	return nil
}
