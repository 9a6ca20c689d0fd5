package storage

import (
	"context"
	"sync"
)

// MemoryEstimator keeps stock estimates in process memory. Used when no Redis
// address is configured.
type MemoryEstimator struct {
	mu           sync.Mutex
	defaultStock int
	estimates    map[string]int
}

func NewMemoryEstimator(defaultStock int) *MemoryEstimator {
	return &MemoryEstimator{
		defaultStock: defaultStock,
		estimates:    make(map[string]int),
	}
}

func (m *MemoryEstimator) Decrement(ctx context.Context, item string, quantity int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before, ok := m.estimates[item]
	if !ok {
		before = m.defaultStock
	}
	after := before - quantity
	m.estimates[item] = after
	return before, after, nil
}

func (m *MemoryEstimator) Seed(ctx context.Context, item string, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimates[item] = stock
	return nil
}

func (m *MemoryEstimator) Estimate(ctx context.Context, item string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.estimates[item]
	return n, ok, nil
}
