package cache

import (
	"sync"
	"time"
)

// MemoryService is an in-process CacheService used when no memcache server
// is configured, and in tests.
type MemoryService struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryService creates an empty in-process cache
func NewMemoryService() *MemoryService {
	return &MemoryService{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements CacheService
func (m *MemoryService) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, ErrMiss
	}
	return e.value, nil
}

// Set implements CacheService. A non-positive expiration never expires.
func (m *MemoryService) Set(key string, value []byte, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: value}
	if expiration > 0 {
		e.expires = m.now().Add(expiration)
	}
	m.entries[key] = e
	return nil
}

// Delete implements CacheService
func (m *MemoryService) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

var (
	_ CacheService = (*MemoryService)(nil)
	_ CacheService = (*MemcacheService)(nil)
)
