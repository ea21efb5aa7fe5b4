package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryDirectory каталог в памяти одного процесса.
// Служит и самостоятельным каталогом, и локальной копией перед Redis.
type MemoryDirectory struct {
	mu      sync.RWMutex
	entries map[string]UniqueEntry

	requests int64
	hits     int64
	misses   int64
}

// NewMemoryDirectory создаёт пустой каталог
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{entries: make(map[string]UniqueEntry)}
}

func (m *MemoryDirectory) Put(ctx context.Context, entry UniqueEntry) error {
	if err := validate(entry.World, entry.UniqueID); err != nil {
		return err
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.entries[entryKey(entry.World, entry.UniqueID)] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryDirectory) Delete(ctx context.Context, world, uniqueID string) error {
	m.forget(entryKey(world, uniqueID))
	return nil
}

func (m *MemoryDirectory) forget(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *MemoryDirectory) Lookup(ctx context.Context, world, uniqueID string) (UniqueEntry, error) {
	atomic.AddInt64(&m.requests, 1)
	m.mu.RLock()
	entry, ok := m.entries[entryKey(world, uniqueID)]
	m.mu.RUnlock()
	if !ok {
		atomic.AddInt64(&m.misses, 1)
		return UniqueEntry{}, ErrCacheMiss
	}
	atomic.AddInt64(&m.hits, 1)
	return entry, nil
}

// Entries записи мира world
func (m *MemoryDirectory) Entries(world string) []UniqueEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []UniqueEntry
	for _, e := range m.entries {
		if e.World == world {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryDirectory) GetMetrics() CacheMetrics {
	m.mu.RLock()
	keys := int64(len(m.entries))
	m.mu.RUnlock()

	metrics := CacheMetrics{
		TotalRequests: atomic.LoadInt64(&m.requests),
		CacheHits:     atomic.LoadInt64(&m.hits),
		CacheMisses:   atomic.LoadInt64(&m.misses),
		TotalKeys:     keys,
	}
	if total := metrics.CacheHits + metrics.CacheMisses; total > 0 {
		metrics.HitRatio = float64(metrics.CacheHits) / float64(total)
	}
	return metrics
}

func (m *MemoryDirectory) Close() error { return nil }
