package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/jwalitptl/towndir/internal/model"
)

// MemoryTier is the in-process tier: an LRU ordered by last access, bounded
// by entry count and by total bytes. Eviction is silent.
type MemoryTier struct {
	mu       sync.Mutex
	entries  *simplelru.LRU[string, *model.CacheEntry]
	maxBytes int64
	bytes    int64
	now      func() time.Time
}

// NewMemoryTier builds a tier holding at most maxEntries keys. maxBytes <= 0
// disables the byte bound.
func NewMemoryTier(maxEntries int, maxBytes int64, now func() time.Time) (*MemoryTier, error) {
	if now == nil {
		now = time.Now
	}
	m := &MemoryTier{maxBytes: maxBytes, now: now}

	lru, err := simplelru.NewLRU[string, *model.CacheEntry](maxEntries, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}
	m.entries = lru
	return m, nil
}

// onEvict runs under mu for every removal path of the LRU.
func (m *MemoryTier) onEvict(_ string, e *model.CacheEntry) {
	m.bytes -= int64(e.SizeBytes)
}

// Get returns a copy of the live entry for key and marks it recently used.
// An expired entry is evicted and reported as absent.
func (m *MemoryTier) Get(key string) (model.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries.Get(key)
	if !ok {
		return model.CacheEntry{}, false
	}
	now := m.now()
	if e.Expired(now) {
		m.entries.Remove(key)
		return model.CacheEntry{}, false
	}
	e.LastAccessAt = now
	return *e, true
}

// Peek is Get without touching recency or expiry.
func (m *MemoryTier) Peek(key string) (model.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries.Peek(key)
	if !ok {
		return model.CacheEntry{}, false
	}
	return *e, true
}

// Set stores value for ttl. A non-positive ttl, or a value larger than the
// byte bound, only removes any previous entry.
func (m *MemoryTier) Set(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries.Remove(key)

	size := len(key) + len(value)
	if ttl <= 0 || (m.maxBytes > 0 && int64(size) > m.maxBytes) {
		return
	}

	now := m.now()
	m.entries.Add(key, &model.CacheEntry{
		Key:          key,
		Value:        append([]byte(nil), value...),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessAt: now,
		SizeBytes:    size,
	})
	m.bytes += int64(size)

	for m.maxBytes > 0 && m.bytes > m.maxBytes {
		if _, _, ok := m.entries.RemoveOldest(); !ok {
			break
		}
	}
}

// Delete reports whether key was present.
func (m *MemoryTier) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Remove(key)
}

func (m *MemoryTier) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Purge()
}

func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len()
}

func (m *MemoryTier) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}
