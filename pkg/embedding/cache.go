package embedding

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Cache stores embedding vectors keyed by content hash.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vector []float32, ttl time.Duration)
	Close() error
}

// MemoryCache is an LRU cache with per-entry expiry. It is the L1
// cache; a Redis cache can sit behind it for shared deployments.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	entries map[string]*list.Element
}

type memoryEntry struct {
	key       string
	vector    []float32
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache holding at most maxSize
// vectors. maxSize <= 0 selects a default of 4096.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &MemoryCache{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Get returns the cached vector for key, if present and unexpired.
func (m *MemoryCache) Get(_ context.Context, key string) ([]float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.order.Remove(elem)
		delete(m.entries, key)
		return nil, false
	}
	m.order.MoveToFront(elem)
	return entry.vector, true
}

// Set stores a vector, evicting the least recently used entry when the
// cache is full. A zero ttl means no expiry.
func (m *MemoryCache) Set(_ context.Context, key string, vector []float32, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if elem, ok := m.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.vector = vector
		entry.expiresAt = expiresAt
		m.order.MoveToFront(elem)
		return
	}

	m.entries[key] = m.order.PushFront(&memoryEntry{
		key:       key,
		vector:    vector,
		expiresAt: expiresAt,
	})

	for m.order.Len() > m.maxSize {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryEntry).key)
	}
}

// Len returns the number of cached vectors.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Close is a no-op for the in-memory cache.
func (m *MemoryCache) Close() error { return nil }

// TieredCache checks an L1 cache before an L2, promoting L2 hits.
type TieredCache struct {
	l1 Cache
	l2 Cache
}

// NewTieredCache layers l1 over l2.
func NewTieredCache(l1, l2 Cache) *TieredCache {
	return &TieredCache{l1: l1, l2: l2}
}

func (t *TieredCache) Get(ctx context.Context, key string) ([]float32, bool) {
	if vec, ok := t.l1.Get(ctx, key); ok {
		return vec, true
	}
	vec, ok := t.l2.Get(ctx, key)
	if ok {
		t.l1.Set(ctx, key, vec, 0)
	}
	return vec, ok
}

func (t *TieredCache) Set(ctx context.Context, key string, vector []float32, ttl time.Duration) {
	t.l1.Set(ctx, key, vector, ttl)
	t.l2.Set(ctx, key, vector, ttl)
}

func (t *TieredCache) Close() error {
	if err := t.l1.Close(); err != nil {
		return err
	}
	return t.l2.Close()
}
