package counter

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Counter = (*Memory)(nil)

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// Memory is an in-process Counter. Expired keys are dropped lazily on
// access and by Sweep.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// MemoryOption configures a Memory counter.
type MemoryOption func(*Memory)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty in-memory counter.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{entries: make(map[string]*memoryEntry), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reset sets key to n and its TTL.
func (m *Memory) Reset(_ context.Context, key string, n int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &memoryEntry{value: n}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// DecrementAndGet atomically decrements key.
func (m *Memory) DecrementAndGet(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		return 0, ErrNotFound
	}
	e.value--
	return e.value, nil
}

// Expire sets the key's TTL. A missing key is ignored.
func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.live(key); ok {
		e.expiresAt = m.now().Add(ttl)
	}
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Get returns the current value of key.
func (m *Memory) Get(key string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return 0, false
	}
	return e.value, true
}

// Sweep drops all expired keys and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// live returns the entry for key unless it has expired. Caller holds mu.
func (m *Memory) live(key string) (*memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return e, true
}
