package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process cache with TTL support
type Memory struct {
	mu         sync.RWMutex
	items      map[string]memoryItem
	prefix     string
	defaultTTL time.Duration
	now        func() time.Time
}

type memoryItem struct {
	value      []byte
	expiration time.Time
}

// NewMemory creates an in-memory cache
func NewMemory(prefix string, defaultTTL time.Duration) *Memory {
	return &Memory{
		items:      make(map[string]memoryItem),
		prefix:     prefix,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get retrieves a value
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	item, ok := m.items[m.prefix+key]
	m.mu.RUnlock()

	if !ok || m.expired(item) {
		return nil, fmt.Errorf("%w: %s", ErrMiss, key)
	}
	return append([]byte(nil), item.value...), nil
}

// Set stores a value
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}

	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiration = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.items[m.prefix+key] = item
	m.mu.Unlock()
	return nil
}

// Delete removes a value
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.items, m.prefix+key)
	m.mu.Unlock()
	return nil
}

// Close is a no-op; expired entries are dropped lazily
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) expired(item memoryItem) bool {
	return !item.expiration.IsZero() && m.now().After(item.expiration)
}
