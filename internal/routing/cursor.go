package routing

import (
	"context"
	"fmt"
	"sync"
)

// CursorStore holds round robin counters keyed by routing config id.
type CursorStore interface {
	// Next returns the current cursor modulo n and advances it.
	Next(ctx context.Context, key string, n int) (int, error)
	Reset(ctx context.Context, key string) error
	ResetAll(ctx context.Context) error
}

// MemoryCursorStore keeps counters in process memory.
type MemoryCursorStore struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{counters: make(map[string]uint64)}
}

func (m *MemoryCursorStore) Next(_ context.Context, key string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("cursor modulo must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.counters[key]
	m.counters[key] = cur + 1
	return int(cur % uint64(n)), nil
}

func (m *MemoryCursorStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, key)
	return nil
}

func (m *MemoryCursorStore) ResetAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.counters)
	return nil
}
